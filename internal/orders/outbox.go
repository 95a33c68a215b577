package orders

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-payments/internal/postgres"
	"github.com/jackc/pgx/v5"
)

// outboxLock keeps a single relay draining at a time, so events of one order
// leave in the order they were written.
const outboxLock = 0x6f7574626f78

// DrainFunc delivers a batch of envelopes. The batch is removed from the
// outbox only when it returns nil.
type DrainFunc func(ctx context.Context, envs []Envelope) error

// Outbox holds lifecycle events written in the same transaction as the status
// change they describe.
type Outbox interface {
	Drain(ctx context.Context, limit int, fn DrainFunc) (int, error)
}

var (
	_ Outbox = (*Repo)(nil)
	_ Outbox = (*MemStore)(nil)
)

func writeOutbox(ctx context.Context, tx pgx.Tx, producer string, o *Order, from int) error {
	for _, env := range StatusChangedEvents(producer, o, from) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO outbox(event_id, order_token, envelope)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_id) DO NOTHING`,
			env.EventID, env.CorrelationID, env,
		); err != nil {
			return fmt.Errorf("outbox %s: %w", env.EventID, err)
		}
	}
	return nil
}

// Drain passes up to limit of the oldest outbox events to fn and deletes them
// once fn succeeds. It returns 0 while another relay holds the outbox.
func (r *Repo) Drain(ctx context.Context, limit int, fn DrainFunc) (int, error) {
	var n int
	err := postgres.InTx(ctx, r.DB, func(ctx context.Context, tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, int64(outboxLock)).Scan(&locked); err != nil {
			return err
		}
		if !locked {
			return nil
		}

		rows, err := tx.Query(ctx, `SELECT id, envelope FROM outbox ORDER BY id LIMIT $1`, limit)
		if err != nil {
			return err
		}
		type entry struct {
			ID  int64
			Env Envelope
		}
		entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[entry])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(entries))
		envs := make([]Envelope, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
			envs = append(envs, e.Env)
		}
		if err := fn(ctx, envs); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM outbox WHERE id = ANY($1)`, ids); err != nil {
			return err
		}
		n = len(entries)
		return nil
	})
	return n, err
}

// Drain hands the oldest buffered events to fn and drops them once fn succeeds.
func (s *MemStore) Drain(ctx context.Context, limit int, fn DrainFunc) (int, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	s.mu.RLock()
	n := len(s.outbox)
	if limit > 0 && n > limit {
		n = limit
	}
	envs := append([]Envelope(nil), s.outbox[:n]...)
	s.mu.RUnlock()
	if n == 0 {
		return 0, nil
	}

	if err := fn(ctx, envs); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.outbox = s.outbox[n:]
	s.mu.Unlock()
	return n, nil
}
