package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reqLogger := zap.New(core).With(zap.String("request_id", "r-1"))
	fallback := zap.NewNop()

	ctx := ContextWithLogger(context.Background(), reqLogger)
	FromContext(ctx, fallback).Info("hello")

	if assert.Equal(t, 1, logs.Len()) {
		assert.Equal(t, "r-1", logs.All()[0].ContextMap()["request_id"])
	}
	assert.Same(t, fallback, FromContext(context.Background(), fallback))
	assert.NotNil(t, FromContext(context.Background(), nil))
}
