package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Store. Update holds the order row lock (FOR UPDATE)
// for the whole callback, so a webhook, an admin change and the reclaimer
// never interleave on one order. Status changes are written to the outbox in
// the same transaction.
type Repo struct {
	DB       *pgxpool.Pool
	Producer string
}

var _ Store = (*Repo)(nil)

func (r *Repo) Create(ctx context.Context, o *Order) error {
	return postgres.InTx(ctx, r.DB, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders(token, buyer_id, merchant_id, recipient, total_amount, status, paid_at, stock_state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, o.Token, o.BuyerID, o.MerchantID, o.Recipient, o.total, string(o.status), o.paidAt, string(o.stock), o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}

		for i, it := range o.items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items(order_token, position, product_id, product_name, quantity, unit_price, kind)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				o.Token, i, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, string(it.Kind),
			); err != nil {
				return err
			}
		}

		if err := insertHistory(ctx, tx, o, 0); err != nil {
			return err
		}

		p := o.payment
		_, err = tx.Exec(ctx, `
			INSERT INTO payments(id, order_token, method, amount, status, transaction_ref, receipt_ref, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, o.Token, p.Method, p.Amount, string(p.Status), p.TransactionRef, p.ReceiptRef, p.CompletedAt,
		)
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	})
}

func (r *Repo) Get(ctx context.Context, token string) (*Order, error) {
	return load(ctx, postgres.Conn(ctx, r.DB), token, false)
}

func (r *Repo) TokenForPayment(ctx context.Context, paymentID string) (string, error) {
	var token string
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx, `SELECT order_token FROM payments WHERE id=$1`, paymentID).Scan(&token)
	if postgres.IsNoRows(err) {
		return "", ErrNotFound
	}
	return token, err
}

func (r *Repo) Update(ctx context.Context, token string, fn UpdateFunc) (*Order, error) {
	var out *Order
	err := postgres.InTx(ctx, r.DB, func(ctx context.Context, tx pgx.Tx) error {
		o, err := load(ctx, tx, token, true)
		if err != nil {
			return err
		}
		before := len(o.history)
		if err := fn(ctx, o); err != nil {
			return err
		}
		if err := persist(ctx, tx, o, before); err != nil {
			return err
		}
		if err := writeOutbox(ctx, tx, r.Producer, o, before); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) ListStale(ctx context.Context, status Status, createdBefore time.Time, limit int) ([]string, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT token FROM orders
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`, string(status), createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repo) Purge(ctx context.Context, token string) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `DELETE FROM orders WHERE token=$1`, token)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func load(ctx context.Context, q postgres.DBTX, token string, forUpdate bool) (*Order, error) {
	sql := `SELECT token, buyer_id, merchant_id, recipient, total_amount, status, paid_at, stock_state, created_at, updated_at
	        FROM orders WHERE token=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var (
		o             Order
		status, stock string
	)
	err := q.QueryRow(ctx, sql, token).Scan(
		&o.Token, &o.BuyerID, &o.MerchantID, &o.Recipient, &o.total,
		&status, &o.paidAt, &stock, &o.CreatedAt, &o.UpdatedAt,
	)
	if postgres.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", token, err)
	}
	o.status = Status(status)
	o.stock = StockState(stock)

	rows, err := q.Query(ctx, `
		SELECT product_id, product_name, quantity, unit_price, kind
		FROM order_items WHERE order_token=$1 ORDER BY position`, token)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			it   LineItem
			kind string
		)
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &kind); err != nil {
			rows.Close()
			return nil, err
		}
		it.Kind = ItemKind(kind)
		o.items = append(o.items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT status, changed_at FROM order_status_history
		WHERE order_token=$1 ORDER BY seq`, token)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			ch StatusChange
			s  string
		)
		if err := rows.Scan(&s, &ch.At); err != nil {
			rows.Close()
			return nil, err
		}
		ch.Status = Status(s)
		o.history = append(o.history, ch)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var ps string
	err = q.QueryRow(ctx, `
		SELECT id, order_token, method, amount, status, transaction_ref, receipt_ref, completed_at
		FROM payments WHERE order_token=$1`, token).Scan(
		&o.payment.ID, &o.payment.OrderToken, &o.payment.Method, &o.payment.Amount,
		&ps, &o.payment.TransactionRef, &o.payment.ReceiptRef, &o.payment.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("load payment for %s: %w", token, err)
	}
	o.payment.Status = PaymentStatus(ps)
	return &o, nil
}

// persist writes mutable columns back and appends history from index `from`.
// History rows are only ever inserted.
func persist(ctx context.Context, tx pgx.Tx, o *Order, from int) error {
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, paid_at=$3, stock_state=$4, updated_at=$5
		WHERE token=$1`,
		o.Token, string(o.status), o.paidAt, string(o.stock), o.UpdatedAt,
	); err != nil {
		return err
	}

	p := o.payment
	if _, err := tx.Exec(ctx, `
		UPDATE payments SET method=$2, status=$3, transaction_ref=$4, receipt_ref=$5, completed_at=$6
		WHERE id=$1`,
		p.ID, p.Method, string(p.Status), p.TransactionRef, p.ReceiptRef, p.CompletedAt,
	); err != nil {
		return err
	}
	return insertHistory(ctx, tx, o, from)
}

func insertHistory(ctx context.Context, tx pgx.Tx, o *Order, from int) error {
	for i := from; i < len(o.history); i++ {
		h := o.history[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_status_history(order_token, seq, status, changed_at)
			VALUES ($1, $2, $3, $4)`,
			o.Token, i, string(h.Status), h.At,
		); err != nil {
			return err
		}
	}
	return nil
}
