package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommitRunsCommitHooksInOrder(t *testing.T) {
	ctx, finish := Begin(context.Background())
	var got []string
	OnCommit(ctx, func() { got = append(got, "a") })
	OnCommit(ctx, func() { got = append(got, "b") })
	OnRollback(ctx, func() { got = append(got, "undo") })

	assert.Empty(t, got)
	finish(true)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRollbackRunsUndoInReverse(t *testing.T) {
	ctx, finish := Begin(context.Background())
	var got []string
	OnCommit(ctx, func() { got = append(got, "commit") })
	OnRollback(ctx, func() { got = append(got, "first") })
	OnRollback(ctx, func() { got = append(got, "second") })

	finish(false)
	assert.Equal(t, []string{"second", "first"}, got)
}

func TestHooksOutsideScope(t *testing.T) {
	ctx := context.Background()
	ran := false
	OnCommit(ctx, func() { ran = true })
	assert.True(t, ran)

	OnRollback(ctx, func() { t.Fatal("rollback hook must not run without a scope") })
	assert.False(t, Active(ctx))
}
