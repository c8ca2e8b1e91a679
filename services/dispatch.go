package services

import (
	"log/slog"
	"sync"

	"github.com/weavehq/go-store-kit/logging"
)

// Action names a recorded mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ActivityEvent is one mutation worth recording.
type ActivityEvent struct {
	Entity   string
	EntityID string
	Action   Action
}

// ActivityRecorder consumes activity events. ActivityLogService implements
// it; the capability interface keeps the recording service out of the other
// services' dependency graph.
type ActivityRecorder interface {
	Record(event ActivityEvent) error
}

const dispatchBuffer = 128

// Dispatcher fans mutation events to an ActivityRecorder from a single
// drain goroutine. Recording is best-effort: a full buffer drops the event
// and a recorder failure is logged at warn, neither ever blocks or fails the
// mutation that produced the event.
type Dispatcher struct {
	recorder ActivityRecorder
	logger   *logging.Logger

	events chan ActivityEvent
	done   chan struct{}

	closeOnce sync.Once
}

// NewDispatcher starts the drain goroutine.
func NewDispatcher(recorder ActivityRecorder, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}

	d := &Dispatcher{
		recorder: recorder,
		logger:   logger.WithComponent("activity-dispatch"),
		events:   make(chan ActivityEvent, dispatchBuffer),
		done:     make(chan struct{}),
	}
	go d.drain()
	return d
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for event := range d.events {
		if err := d.recorder.Record(event); err != nil {
			d.logger.Warn("activity record failed",
				slog.String("entity", event.Entity),
				slog.String("entity_id", event.EntityID),
				slog.String("action", string(event.Action)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Dispatch queues an event without blocking. Events are dropped when the
// buffer is full or the dispatcher is closed.
func (d *Dispatcher) Dispatch(event ActivityEvent) {
	defer func() {
		// Send on closed channel: dispatcher shut down under the writer.
		recover()
	}()

	select {
	case d.events <- event:
	default:
		d.logger.Warn("activity buffer full, dropping event",
			slog.String("entity", event.Entity),
			slog.String("entity_id", event.EntityID),
		)
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.events)
	})
	<-d.done
}
