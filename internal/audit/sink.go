package audit

import (
	"context"
	"log/slog"
	"time"
)

// Subscriber receives a copy of every record the Sink persists, used to
// fan records out to the admin log-tail websocket. Publish runs on the
// sink's Run goroutine right after each save, so a slow Publish delays the
// persistence of the records queued behind it.
type Subscriber interface {
	Publish(rec Record)
}

// Sink is the async, best-effort audit sink. Enqueue never blocks the
// request path: a full buffer drops the record and logs.
type Sink struct {
	store         *SQLiteStore
	retentionDays int
	queue         chan Record
	logger        *slog.Logger
	dropped       int64
	subscriber    Subscriber
}

// SetSubscriber registers a Subscriber to receive persisted records. Not
// safe to call concurrently with Run.
func (s *Sink) SetSubscriber(sub Subscriber) {
	s.subscriber = sub
}

// NewSink constructs a Sink backed by store, buffering up to queueSize
// pending records.
func NewSink(store *SQLiteStore, retentionDays, queueSize int, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Sink{
		store:         store,
		retentionDays: retentionDays,
		queue:         make(chan Record, queueSize),
		logger:        logger,
	}
}

// Enqueue submits rec for durable write. It MUST NOT block: a full queue
// drops the record rather than stall the request path.
func (s *Sink) Enqueue(rec Record) {
	select {
	case s.queue <- rec:
	default:
		s.dropped++
		s.logger.Warn("audit: sink queue full, dropping record", "client_ip", rec.ClientIP, "path", rec.Path)
	}
}

// Dropped returns the number of records dropped since startup, for the
// admin stats endpoint.
func (s *Sink) Dropped() int64 {
	return s.dropped
}

// Run drains the queue and persists records until ctx is cancelled. It
// also drives the retention sweeps: a daily sweep at 02:00 plus an hourly
// catch-up sweep for records beyond retention+1 day.
func (s *Sink) Run(ctx context.Context) {
	hourly := time.NewTicker(time.Hour)
	defer hourly.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case rec := <-s.queue:
			s.persist(rec)
		case <-hourly.C:
			now := time.Now()
			if now.Hour() == 2 {
				s.cleanup(s.retentionDays)
			} else {
				s.cleanup(s.retentionDays + 1)
			}
		}
	}
}

// drain flushes any records still pending at shutdown, best-effort.
func (s *Sink) drain() {
	for {
		select {
		case rec := <-s.queue:
			s.persist(rec)
		default:
			return
		}
	}
}

func (s *Sink) persist(rec Record) {
	if err := s.store.Save(rec); err != nil {
		s.logger.Error("audit: failed to persist record", "error", err, "client_ip", rec.ClientIP)
		return
	}
	if s.subscriber != nil {
		s.subscriber.Publish(rec)
	}
}

func (s *Sink) cleanup(retentionDays int) {
	n, err := s.store.Cleanup(retentionDays)
	if err != nil {
		s.logger.Error("audit: retention cleanup failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("audit: retention cleanup removed records", "count", n, "retention_days", retentionDays)
	}
}
