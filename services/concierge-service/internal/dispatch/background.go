package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/metrics"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
)

// Background dispatches requests off the caller's goroutine so responses are not held by delivery.
type Background struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewBackground(d *Dispatcher, logger *slog.Logger, m *metrics.Metrics) *Background {
	if logger == nil {
		logger = slog.Default()
	}
	return &Background{dispatcher: d, logger: logger, metrics: m}
}

// Submit queues a dispatch. The request keeps ctx values (trace, request id) but not its cancellation.
// It returns false once Drain has started.
func (b *Background) Submit(ctx context.Context, req model.NotificationRequest) bool {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		b.logger.Warn("notification dropped during shutdown", "appointment_id", req.Appointment.ID, "occasion", req.Occasion)
		return false
	}
	b.wg.Add(1)
	b.mu.Unlock()

	b.metrics.InflightAdd(1)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer b.wg.Done()
		defer b.metrics.InflightAdd(-1)
		out := b.dispatcher.Dispatch(detached, req.Appointment, req.Occasion)
		if out.Status == model.OutcomeFailed || out.Status == model.OutcomePartial {
			b.logger.Warn("notification delivery incomplete",
				"appointment_id", out.AppointmentID,
				"occasion", out.Occasion,
				"outcome", out.Status,
			)
		}
	}()
	return true
}

// Drain stops accepting work and waits for in-flight dispatches or ctx.
func (b *Background) Drain(ctx context.Context) error {
	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
