package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	got []Envelope
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, env Envelope) error {
	p.got = append(p.got, env)
	return p.err
}

func TestStatusChangedEvents(t *testing.T) {
	o := newOrder(t)
	require.NoError(t, o.Transition(StatusPaid, t0.Add(time.Minute)))
	require.NoError(t, o.Transition(StatusPreparing, t0.Add(2*time.Minute)))

	evs := StatusChangedEvents("order-api", o, 1)
	require.Len(t, evs, 2)

	var p StatusChangedPayload
	require.NoError(t, json.Unmarshal(evs[1].Payload, &p))
	assert.Equal(t, StatusPaid, p.From)
	assert.Equal(t, StatusPreparing, p.To)
	assert.Equal(t, o.Token, evs[1].CorrelationID)
	assert.Equal(t, EventOrderStatusChanged, evs[1].EventType)

	again := StatusChangedEvents("order-api", o, 2)
	require.Len(t, again, 1)
	assert.Equal(t, evs[1].EventID, again[0].EventID, "ids are stable per history entry")
	assert.NotEqual(t, evs[0].EventID, evs[1].EventID)

	assert.Empty(t, StatusChangedEvents("order-api", o, 3))
}

func TestPublishersFanOut(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{err: errors.New("down")}
	ps := Publishers{a, nil, b}

	err := ps.Publish(context.Background(), Envelope{EventID: "e1"})
	assert.Error(t, err)
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestPublishChangesSwallowsErrors(t *testing.T) {
	o := newOrder(t)
	require.NoError(t, o.Transition(StatusFailed, t0))
	pub := &recordingPublisher{err: errors.New("down")}

	assert.NotPanics(t, func() {
		PublishChanges(context.Background(), pub, "order-api", o, 1, nil)
	})
	assert.Len(t, pub.got, 1)
}

func TestMoves(t *testing.T) {
	o := newOrder(t)
	assert.Empty(t, Moves(o, 0))

	require.NoError(t, o.Transition(StatusPaid, t0.Add(time.Minute)))
	require.NoError(t, o.Transition(StatusCancelledAdmin, t0.Add(2*time.Minute)))

	assert.Equal(t, []Move{
		{From: StatusPending, To: StatusPaid},
		{From: StatusPaid, To: StatusCancelledAdmin},
	}, Moves(o, 1))
	assert.Equal(t, []Move{{From: StatusPaid, To: StatusCancelledAdmin}}, Moves(o, 2))
}
