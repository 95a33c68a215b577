// Package ledger records external event ids that were already processed.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned when an event id was recorded before.
var ErrDuplicate = errors.New("event already processed")

// Ledger is write-once per event id. Record must be atomic insert-if-absent;
// when ctx carries a store transaction the record commits or rolls back with it.
type Ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string, at time.Time) error
}

// Sources sharing one ledger. Ids from different sources never collide.
const (
	SourceWebhook = "webhook"
	SourceCommand = "cmd"
)

// Key namespaces an external event id by the source that issued it.
func Key(source, eventID string) string {
	return source + ":" + eventID
}
