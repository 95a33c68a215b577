package kafka

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message is done with and may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r           messageReader
	workers     int
	log         *zap.Logger
	maxAttempts int
	backoff     time.Duration
	offsets     *offsets
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		r:           r,
		workers:     workers,
		log:         log,
		maxAttempts: 5,
		backoff:     200 * time.Millisecond,
		offsets:     newOffsets(),
	}
}

// Start fetches until ctx is done. Messages with the same key go to the same
// worker, so commands for one order are applied in order. A partition's offset
// is committed only up to the last message before the oldest one still in
// flight. A message whose handler keeps failing is logged and committed after
// maxAttempts.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(q <-chan kafka.Message) {
			defer wg.Done()
			for m := range q {
				c.process(ctx, h, m)
			}
		}(queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.offsets.fetched(m)
		select {
		case queues[c.route(m.Key)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) route(key []byte) int {
	if len(key) == 0 || c.workers == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(c.workers))
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	log := c.log.With(zap.String("topic", m.Topic), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= c.maxAttempts {
			log.Error("kafka_message_dropped", zap.Int("attempts", attempt), zap.Error(err))
			break
		}
		log.Warn("kafka_handler_failed", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(c.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return
		}
	}
	c.commit(ctx, m, log)
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message, log *zap.Logger) {
	c.offsets.commitMu.Lock()
	defer c.offsets.commitMu.Unlock()

	upTo, ok := c.offsets.done(m)
	if !ok {
		return
	}
	if err := c.r.CommitMessages(ctx, upTo); err != nil && ctx.Err() == nil {
		log.Error("kafka_commit_failed", zap.Int64("commit_offset", upTo.Offset), zap.Error(err))
	}
}

type partition struct {
	topic string
	id    int
}

// offsets tracks fetched messages per partition, in fetch order, until they
// can be committed.
type offsets struct {
	commitMu sync.Mutex

	mu      sync.Mutex
	pending map[partition][]kafka.Message
	handled map[partition]map[int64]bool
}

func newOffsets() *offsets {
	return &offsets{
		pending: map[partition][]kafka.Message{},
		handled: map[partition]map[int64]bool{},
	}
}

func (o *offsets) fetched(m kafka.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := partition{m.Topic, m.Partition}
	o.pending[p] = append(o.pending[p], m)
}

// done marks m handled and returns the newest message of its partition that
// has no unhandled message before it.
func (o *offsets) done(m kafka.Message) (kafka.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := partition{m.Topic, m.Partition}
	if o.handled[p] == nil {
		o.handled[p] = map[int64]bool{}
	}
	o.handled[p][m.Offset] = true

	var (
		upTo kafka.Message
		ok   bool
	)
	q := o.pending[p]
	for len(q) > 0 && o.handled[p][q[0].Offset] {
		upTo, ok = q[0], true
		delete(o.handled[p], q[0].Offset)
		q = q[1:]
	}
	o.pending[p] = q
	return upTo, ok
}
