package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

// Dispatcher fans audit entries out to several sinks without blocking
// the caller. A bounded worker pool caps concurrent deliveries; when
// the pool stays full the entry is dropped and the drop is logged.
type Dispatcher struct {
	sinks      []Sink
	logger     *slog.Logger
	workerPool chan struct{} // Limits concurrent deliveries
	wg         sync.WaitGroup
}

var _ Sink = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:      sinks,
		logger:     logger,
		workerPool: make(chan struct{}, 10), // Limit to 10 concurrent deliveries
	}
}

// Write implements Sink. It hands the entry to a worker and returns
// immediately; delivery failures are logged, never returned.
func (d *Dispatcher) Write(ctx context.Context, entry security.AuditEntry) error {
	select {
	case d.workerPool <- struct{}{}:
		d.wg.Add(1)
		go func() {
			defer func() {
				<-d.workerPool
				d.wg.Done()
			}()

			deliveryCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			d.deliver(deliveryCtx, entry)
		}()
	case <-time.After(100 * time.Millisecond):
		d.logger.Warn("audit dispatch pool full, dropping entry",
			"action", entry.Action,
			"result", entry.Result)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, entry security.AuditEntry) {
	for _, sink := range d.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			d.logger.Warn("audit sink delivery failed",
				"action", entry.Action,
				"error", err)
		}
	}
}

// SinkCount returns the number of attached sinks (for testing)
func (d *Dispatcher) SinkCount() int {
	return len(d.sinks)
}

// Close waits for all in-flight deliveries to complete.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
