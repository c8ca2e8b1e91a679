package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weavehq/go-store-kit/logging"
)

// Monitor runs periodic audits and fans the reports out to subscribers.
type Monitor struct {
	auditor  *Auditor
	interval time.Duration
	logger   *logging.Logger

	mu          sync.Mutex
	subscribers []func(*Report)
	stop        chan struct{}
	done        chan struct{}
}

// NewMonitor creates a Monitor auditing on the given interval.
func NewMonitor(auditor *Auditor, interval time.Duration, logger *logging.Logger) (*Monitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Monitor{
		auditor:  auditor,
		interval: interval,
		logger:   logger.WithComponent("integrity-monitor"),
	}, nil
}

// Subscribe registers a callback invoked with every completed report.
func (m *Monitor) Subscribe(fn func(*Report)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Start launches the audit loop. It fails when the loop is already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return fmt.Errorf("monitor already running")
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(ctx, m.stop, m.done)
	return nil
}

func (m *Monitor) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Trigger(ctx)
		}
	}
}

// Trigger runs one audit immediately and notifies subscribers.
func (m *Monitor) Trigger(ctx context.Context) {
	report, err := m.auditor.AuditAll(ctx)
	if err != nil {
		m.logger.Error("scheduled audit failed", slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	subscribers := make([]func(*Report), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(report)
	}
}

// Stop halts the audit loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
