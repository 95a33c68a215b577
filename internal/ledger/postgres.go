package ledger

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres backs the ledger with the webhook_events table; the primary key
// makes a concurrent second insert wait for the first and then see the conflict.
type Postgres struct{ DB *pgxpool.Pool }

func (l *Postgres) Seen(ctx context.Context, eventID string) (bool, error) {
	var ok bool
	err := postgres.Conn(ctx, l.DB).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id=$1)`, eventID).Scan(&ok)
	return ok, err
}

func (l *Postgres) Record(ctx context.Context, eventID string, at time.Time) error {
	ct, err := postgres.Conn(ctx, l.DB).Exec(ctx, `
		INSERT INTO webhook_events(event_id, processed_at) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}
