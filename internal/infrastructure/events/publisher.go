package events

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/retry"

	"go.uber.org/zap"
)

type Config struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns the queue and retry settings used in tests and
// when none are configured.
func DefaultConfig() Config {
	return Config{
		QueueSize:   1024,
		Workers:     4,
		MaxAttempts: 4,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// AsyncPublisher fans committed events out to every sink on background
// workers. A room always maps to the same worker, so one sink sees a
// room's events in commit order. Failed deliveries are retried with
// backoff and then dropped; room state is never rolled back.
type AsyncPublisher struct {
	sinksMu sync.RWMutex
	sinks   []ports.EventSink
	retry   retry.Config
	metrics ports.Metrics
	logger  *zap.SugaredLogger

	queues []chan job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type job struct {
	ctx   context.Context
	event domain.Event
}

// NewAsyncPublisher starts cfg.Workers delivery workers for sinks.
func NewAsyncPublisher(cfg Config, metrics ports.Metrics, logger *zap.Logger, sinks ...ports.EventSink) *AsyncPublisher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.MaxAttempts
	rc.InitialDelay = cfg.BaseDelay
	rc.MaxDelay = cfg.MaxDelay

	p := &AsyncPublisher{
		sinks:   sinks,
		retry:   rc,
		metrics: metrics,
		logger:  logger.Sugar().Named("events"),
		queues:  make([]chan job, cfg.Workers),
	}
	perWorker := cfg.QueueSize / cfg.Workers
	if perWorker < 1 {
		perWorker = 1
	}
	for i := range p.queues {
		p.queues[i] = make(chan job, perWorker)
		p.wg.Add(1)
		go p.worker(p.queues[i])
	}
	return p
}

// Publish enqueues events without blocking. Events that do not fit in the
// queue are dropped and counted.
func (p *AsyncPublisher) Publish(ctx context.Context, events ...domain.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	// deliveries outlive the caller's request
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		q := p.queues[p.shard(ev.RoomID)]
		select {
		case q <- job{ctx: ctx, event: ev}:
		default:
			p.metrics.EventDropped()
			p.logger.Warnw("event queue full, dropping event",
				"room_id", ev.RoomID,
				"type", ev.Type,
			)
		}
	}
}

// Attach adds a sink. Sinks that depend on services built after the
// publisher, like the websocket gateway, are attached once they exist.
func (p *AsyncPublisher) Attach(sink ports.EventSink) {
	p.sinksMu.Lock()
	p.sinks = append(p.sinks, sink)
	p.sinksMu.Unlock()
}

func (p *AsyncPublisher) currentSinks() []ports.EventSink {
	p.sinksMu.RLock()
	defer p.sinksMu.RUnlock()
	return p.sinks
}

func (p *AsyncPublisher) shard(roomID domain.RoomID) int {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *AsyncPublisher) worker(queue <-chan job) {
	defer p.wg.Done()
	for j := range queue {
		for _, sink := range p.currentSinks() {
			p.deliver(j.ctx, sink, j.event)
		}
	}
}

func (p *AsyncPublisher) deliver(ctx context.Context, sink ports.EventSink, ev domain.Event) {
	err := retry.Retry(ctx, p.retry, func() error {
		return sink.Deliver(ctx, ev)
	})
	if err != nil {
		p.metrics.EventDeliveryFailed(sink.Name())
		p.logger.Errorw("event delivery failed",
			"sink", sink.Name(),
			"room_id", ev.RoomID,
			"type", ev.Type,
			"error", err,
		)
		return
	}
	p.metrics.EventDelivered(sink.Name())
}

// Close stops accepting events and waits for queued ones to be delivered.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
