package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/guest-coach/internal/domain"
	"github.com/ashureev/guest-coach/internal/shared"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 2 * time.Second
	closeTimeout     = 5 * time.Second
)

// Recorder persists analytics events.
type Recorder interface {
	RecordEvent(ctx context.Context, ev *domain.AnalyticsEvent) error
}

// AsyncSink queues events on a bounded channel and writes them from one
// background goroutine. When the queue is full the oldest event is dropped.
type AsyncSink struct {
	recorder Recorder
	events   chan Event
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	dropped  atomic.Int64
	logger   *slog.Logger
}

// NewAsyncSink starts the writer goroutine. Call Close to stop it.
func NewAsyncSink(recorder Recorder, queueSize int, logger *slog.Logger) *AsyncSink {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &AsyncSink{
		recorder: recorder,
		events:   make(chan Event, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go s.run()
	return s
}

// Track implements Sink. It never blocks.
func (s *AsyncSink) Track(_ context.Context, ev Event) {
	select {
	case <-s.stop:
		return
	default:
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case s.events <- ev:
		return
	default:
	}

	// Queue full: make room by dropping the oldest event.
	select {
	case old := <-s.events:
		s.dropped.Add(1)
		s.logger.Warn("telemetry queue full, dropped oldest event", "event", old.Name)
	default:
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		s.logger.Warn("telemetry queue full, dropped event", "event", ev.Name)
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			s.write(ev)
		case <-s.stop:
			for {
				select {
				case ev := <-s.events:
					s.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *AsyncSink) write(ev Event) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	start := time.Now()
	err := s.recorder.RecordEvent(ctx, &domain.AnalyticsEvent{
		EventID:   shared.NewOrderedID(ev.At),
		GuestID:   ev.GuestID,
		SessionID: ev.SessionID,
		Name:      ev.Name,
		Meta:      ev.Meta,
		CreatedAt: ev.At,
	})
	if err != nil {
		s.logger.Debug("telemetry write failed", "event", ev.Name, "error", err)
		return
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		s.logger.Warn("slow telemetry write", "event", ev.Name, "duration_ms", d.Milliseconds())
	}
}

// Close flushes queued events and stops the writer, giving up after a
// timeout.
func (s *AsyncSink) Close() error {
	s.once.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-time.After(closeTimeout):
		s.logger.Warn("telemetry flush timed out", "queue_remaining", len(s.events))
	}
	return nil
}

// Stats returns queue statistics.
func (s *AsyncSink) Stats() map[string]any {
	return map[string]any{
		"queue_len":      len(s.events),
		"queue_capacity": cap(s.events),
		"dropped":        s.dropped.Load(),
	}
}
