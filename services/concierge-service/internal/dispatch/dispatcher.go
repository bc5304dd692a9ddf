package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	otelx "github.com/md-rashed-zaman/apptconcierge/libs/otel"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/metrics"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 10 * time.Second

// Notifier delivers one rendered message over one outbound channel.
type Notifier interface {
	Channel() model.NotifyChannel
	Applies(appt model.Appointment, occasion model.Occasion) bool
	Send(ctx context.Context, appt model.Appointment, occasion model.Occasion, msg Message) error
}

type Options struct {
	// Timeout bounds each notifier call. Zero means DefaultTimeout.
	Timeout      time.Duration
	BusinessName string
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	business  string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func New(notifiers []Notifier, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   opts.Timeout,
		business:  opts.BusinessName,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    otelx.Tracer("concierge-service/dispatch"),
	}
}

// Dispatch runs every applicable notifier concurrently and waits for all of them.
// Channel failures are folded into the outcome and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, appt model.Appointment, occasion model.Occasion) model.Outcome {
	ctx, span := d.tracer.Start(ctx, "notification.dispatch", trace.WithAttributes(
		attribute.String("appointment.id", appt.ID),
		attribute.String("notification.occasion", string(occasion)),
	))
	defer span.End()

	msg := Render(d.business, appt, occasion)
	results := make([]model.ChannelResult, len(d.notifiers))

	var wg sync.WaitGroup
	for i, n := range d.notifiers {
		if !n.Applies(appt, occasion) {
			results[i] = model.ChannelResult{Channel: n.Channel(), Status: model.ChannelSkipped}
			continue
		}
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			results[i] = d.deliver(ctx, n, appt, occasion, msg)
		}(i, n)
	}
	wg.Wait()

	out := model.Outcome{
		AppointmentID: appt.ID,
		Occasion:      occasion,
		Channels:      results,
		Status:        model.Summarize(results),
	}
	d.metrics.ObserveOutcome(string(occasion), string(out.Status))
	span.SetAttributes(attribute.String("notification.outcome", string(out.Status)))
	if out.Status == model.OutcomeFailed {
		span.SetStatus(codes.Error, "all channels failed")
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, appt model.Appointment, occasion model.Occasion, msg Message) model.ChannelResult {
	channel := n.Channel()
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	// The send runs on its own goroutine so a notifier that ignores ctx still cannot hold the caller past the timeout.
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("notifier panic: %v", r)
			}
		}()
		done <- n.Send(callCtx, appt, occasion, msg)
	}()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = callCtx.Err()
	}

	res := model.ChannelResult{Channel: channel, Status: model.ChannelSent}
	if err != nil {
		res.Status = model.ChannelFailed
		res.Err = fmt.Errorf("%s: %w", channel, err)
		d.logger.Warn("notification channel failed",
			"appointment_id", appt.ID,
			"occasion", occasion,
			"channel", channel,
			"err", err,
		)
	} else {
		d.logger.Debug("notification sent", "appointment_id", appt.ID, "occasion", occasion, "channel", channel)
	}
	d.metrics.ObserveChannel(string(channel), string(occasion), string(res.Status), time.Since(start))
	return res
}
