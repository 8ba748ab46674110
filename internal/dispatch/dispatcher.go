// Package dispatch delivers booking events to downstream services after the
// state change has committed.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"booking/internal/domain"
)

// Sink is one downstream consumer of booking events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event domain.BookingEvent) error
}

// Config holds dispatcher tuning.
type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	// Backoff is the delay before the second attempt; it doubles after that.
	Backoff time.Duration
}

type job struct {
	ctx   context.Context
	event domain.BookingEvent
}

// Dispatcher fans booking events out to sinks on a pool of workers. Delivery
// is at-least-once per sink and never feeds back into booking state.
type Dispatcher struct {
	cfg    Config
	sinks  []Sink
	logger logrus.FieldLogger

	queue chan job
	abort chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// New creates a new Dispatcher. Call Start before emitting.
func New(cfg Config, logger logrus.FieldLogger, sinks ...Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		cfg:    cfg,
		sinks:  sinks,
		logger: logger,
		queue:  make(chan job, cfg.QueueSize),
		abort:  make(chan struct{}),
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Emit queues an event for delivery. It never blocks: when the queue is full
// or the dispatcher is stopped the event is logged and dropped.
func (d *Dispatcher) Emit(ctx context.Context, event domain.BookingEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	log := d.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"event_type": event.Type,
		"booking_id": event.BookingID,
	})
	if d.stopped {
		log.Warn("dispatcher stopped, dropping event")
		return
	}

	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		log.Error("dispatch queue full, dropping event")
	}
}

// Stop stops accepting events and waits for queued ones to be delivered.
// If ctx expires first, pending retries are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(d.abort)
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(j, sink)
		}
	}
}

func (d *Dispatcher) deliver(j job, sink Sink) {
	log := d.logger.WithFields(logrus.Fields{
		"sink":       sink.Name(),
		"event_id":   j.event.EventID,
		"event_type": j.event.Type,
		"booking_id": j.event.BookingID,
	})

	delay := d.cfg.Backoff
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := sink.Deliver(j.ctx, j.event)
		if err == nil {
			return
		}

		log = log.WithField("attempt", attempt)
		if attempt == d.cfg.MaxAttempts {
			log.WithError(err).Error("event delivery failed, giving up")
			return
		}
		log.WithError(err).Warn("event delivery failed, retrying")

		select {
		case <-time.After(delay):
		case <-d.abort:
			log.Warn("dispatcher aborted, abandoning event")
			return
		}
		delay *= 2
	}
}
