package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiLogger fans every event out to several sinks. A failing sink never
// prevents delivery to the others.
type MultiLogger struct {
	sinks []Logger
	async bool

	pending sync.WaitGroup
	mu      sync.Mutex
	failed  []error
}

// NewMultiLogger delivers synchronously until SetAsync(true) is called.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// SetAsync makes Log return immediately. Delivery failures are then
// reported by GetErrors.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log delivers event to every sink. In synchronous mode the sink errors are
// joined.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if !m.async {
		var errs []error
		for _, sink := range m.sinks {
			if err := sink.Log(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	// the request context is usually cancelled before delivery finishes
	ctx = context.WithoutCancel(ctx)
	for _, sink := range m.sinks {
		m.pending.Add(1)
		go m.deliver(ctx, sink, event)
	}
	return nil
}

func (m *MultiLogger) deliver(ctx context.Context, sink Logger, event *AuditEvent) {
	defer m.pending.Done()
	if err := sink.Log(ctx, event); err != nil {
		m.mu.Lock()
		m.failed = append(m.failed, err)
		m.mu.Unlock()
	}
}

// Wait blocks until every asynchronous delivery has finished.
func (m *MultiLogger) Wait() {
	m.pending.Wait()
}

// GetErrors returns and clears the asynchronous delivery failures.
func (m *MultiLogger) GetErrors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := m.failed
	m.failed = nil
	return failed
}

// Close drains pending deliveries, then closes every sink.
func (m *MultiLogger) Close() error {
	m.pending.Wait()

	var errs []error
	for i, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
