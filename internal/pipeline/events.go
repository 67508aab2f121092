package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camuig/momentum-trader/internal/logger"
)

// Event is one of StageStarted, StageCompleted or StageFailed.
type Event interface {
	event()
}

type StageStarted struct {
	RunID  string
	Symbol string
	Stage  Stage
	At     time.Time
}

type StageCompleted struct {
	RunID   string
	Symbol  string
	Stage   Stage
	Status  Status
	Output  string
	Elapsed time.Duration
	At      time.Time
}

type StageFailed struct {
	RunID   string
	Symbol  string
	Stage   Stage
	Err     string
	Elapsed time.Duration
	At      time.Time
}

func (StageStarted) event()   {}
func (StageCompleted) event() {}
func (StageFailed) event()    {}

type Sink interface {
	Handle(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Bus delivers events to sinks on its own goroutine. Publish never blocks:
// when the buffer is full the event is dropped and counted.
type Bus struct {
	ch     chan Event
	logger *logger.Logger

	mu    sync.RWMutex
	sinks []Sink

	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once
}

func NewBus(buffer int, log *logger.Logger) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	b := &Bus{
		ch:     make(chan Event, buffer),
		logger: log,
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	defer func() {
		// publishing after Close
		_ = recover()
	}()
	select {
	case b.ch <- ev:
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.logger.Warn("event bus full, dropping events", "dropped", n)
		}
	}
}

func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close stops accepting events and waits until queued ones are delivered.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.ch) })
	<-b.done
}

func (b *Bus) loop() {
	defer close(b.done)
	ctx := context.Background()
	for ev := range b.ch {
		b.mu.RLock()
		sinks := append([]Sink(nil), b.sinks...)
		b.mu.RUnlock()
		for _, s := range sinks {
			b.deliver(ctx, s, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event sink panic", "panic", r)
		}
	}()
	s.Handle(ctx, ev)
}

// LogSink writes every event to the structured log.
func LogSink(log *logger.Logger) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) {
		switch e := ev.(type) {
		case StageStarted:
			log.Debug("stage started", "run_id", e.RunID, "symbol", e.Symbol, "stage", e.Stage)
		case StageCompleted:
			log.Info("stage completed", "run_id", e.RunID, "symbol", e.Symbol, "stage", e.Stage,
				"status", e.Status, "output", e.Output, "elapsed", e.Elapsed)
		case StageFailed:
			log.Error("stage failed", "run_id", e.RunID, "symbol", e.Symbol, "stage", e.Stage,
				"error", e.Err, "elapsed", e.Elapsed)
		}
	})
}
