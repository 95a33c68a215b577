package inventory

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/postgres"
	"github.com/ariefcatur/go-order-payments/internal/stock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

func Migrations() fs.FS {
	sub, _ := fs.Sub(migrations, "migrations")
	return sub
}

var ErrUnknownProduct = errors.New("unknown product")

type Product struct {
	MerchantID string    `json:"merchant_id"`
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Stock      int       `json:"stock"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Repo owns stock levels. Adjust locks every touched product row (in id
// order) and applies the whole batch or nothing. A release only returns stock
// its reference reserved; a reserve that arrives after its release is recorded
// and skipped.
type Repo struct{ DB *pgxpool.Pool }

var _ stock.Inventory = (*Repo)(nil)

func (r *Repo) Adjust(ctx context.Context, req stock.AdjustRequest) ([]stock.ItemResult, error) {
	var out []stock.ItemResult
	err := postgres.InTx(ctx, r.DB, func(ctx context.Context, tx pgx.Tx) error {
		// serialises the reserve and release of one reference
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, req.Reference); err != nil {
			return err
		}
		ct, err := tx.Exec(ctx, `
			INSERT INTO stock_adjustments(reference, kind, merchant_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (reference, kind) DO NOTHING`,
			req.Reference, string(req.Kind), req.MerchantID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			// replay of an applied adjustment
			out, err = replay(ctx, tx, req)
			return err
		}
		if unpaired, err := pairless(ctx, tx, req); err != nil || unpaired {
			out = []stock.ItemResult{}
			return err
		}

		levels, err := lockLevels(ctx, tx, req)
		if err != nil {
			return err
		}

		var shortages []stock.Shortage
		out = make([]stock.ItemResult, 0, len(req.Items))
		for _, d := range req.Items {
			prev := levels[d.ProductID]
			if prev+d.Delta < 0 {
				shortages = append(shortages, stock.Shortage{ProductID: d.ProductID, Requested: -d.Delta, Available: prev})
				continue
			}
			levels[d.ProductID] = prev + d.Delta
			out = append(out, stock.ItemResult{ProductID: d.ProductID, Previous: prev, Current: prev + d.Delta})
		}
		if len(shortages) > 0 {
			return &stock.InsufficientStockError{Shortages: shortages}
		}

		for id, level := range levels {
			if _, err := tx.Exec(ctx, `
				UPDATE products SET stock=$3, updated_at=now()
				WHERE merchant_id=$1 AND id=$2`, req.MerchantID, id, level); err != nil {
				return err
			}
		}
		for i, res := range out {
			if _, err := tx.Exec(ctx, `
				INSERT INTO stock_adjustment_items(reference, kind, position, product_id, previous, current)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				req.Reference, string(req.Kind), i, res.ProductID, res.Previous, res.Current); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lockLevels(ctx context.Context, tx pgx.Tx, req stock.AdjustRequest) (map[string]int, error) {
	ids := make([]string, 0, len(req.Items))
	seen := map[string]bool{}
	for _, d := range req.Items {
		if !seen[d.ProductID] {
			seen[d.ProductID] = true
			ids = append(ids, d.ProductID)
		}
	}
	sort.Strings(ids)

	levels := make(map[string]int, len(ids))
	for _, id := range ids {
		var level int
		err := tx.QueryRow(ctx, `
			SELECT stock FROM products WHERE merchant_id=$1 AND id=$2 FOR UPDATE`,
			req.MerchantID, id).Scan(&level)
		if postgres.IsNoRows(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
		}
		if err != nil {
			return nil, err
		}
		levels[id] = level
	}
	return levels, nil
}

// pairless reports a release with no reserve for its reference, or a reserve
// whose release came first. Either is kept as a row without items.
func pairless(ctx context.Context, tx pgx.Tx, req stock.AdjustRequest) (bool, error) {
	other := stock.KindReserve
	if req.Kind == stock.KindReserve {
		other = stock.KindRelease
	}
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM stock_adjustments WHERE reference=$1 AND kind=$2)`,
		req.Reference, string(other)).Scan(&exists)
	if err != nil {
		return false, err
	}
	if req.Kind == stock.KindRelease {
		return !exists, nil
	}
	return exists, nil
}

func replay(ctx context.Context, tx pgx.Tx, req stock.AdjustRequest) ([]stock.ItemResult, error) {
	rows, err := tx.Query(ctx, `
		SELECT product_id, previous, current FROM stock_adjustment_items
		WHERE reference=$1 AND kind=$2 ORDER BY position`, req.Reference, string(req.Kind))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[stock.ItemResult])
}

func (r *Repo) UpsertProduct(ctx context.Context, p Product) (Product, error) {
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx, `
		INSERT INTO products(merchant_id, id, name, stock)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (merchant_id, id) DO UPDATE SET name=EXCLUDED.name, stock=EXCLUDED.stock, updated_at=now()
		RETURNING updated_at`, p.MerchantID, p.ID, p.Name, p.Stock).Scan(&p.UpdatedAt)
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context, merchantID string) ([]Product, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT merchant_id, id, name, stock, updated_at FROM products
		WHERE merchant_id=$1 ORDER BY id`, merchantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Product])
}
