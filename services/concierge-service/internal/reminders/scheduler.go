package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	otelx "github.com/md-rashed-zaman/apptconcierge/libs/otel"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/metrics"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound          = storage.ErrNotFound
	ErrAppointmentClosed = errors.New("appointment is cancelled or completed")
	ErrDeliveryFailed    = errors.New("reminder delivery failed on every channel")
	ErrSweepLocked       = errors.New("reminder sweep lock held elsewhere")
)

type Store interface {
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context) ([]model.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, appt model.Appointment, occasion model.Occasion) model.Outcome
}

type Config struct {
	Interval    time.Duration
	Cooldown    time.Duration
	LeadDays    int
	Concurrency int
	LockTTL     time.Duration
	Location    *time.Location
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 12 * time.Hour
	}
	if c.LeadDays <= 0 {
		c.LeadDays = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Item result values recorded in a SweepReport.
const (
	ResultSent        = "sent"
	ResultPartial     = "partial"
	ResultFailed      = "failed"
	ResultCooldown    = "skipped_cooldown"
	ResultUnreachable = "skipped_unreachable"
	ResultNoChannel   = "skipped_no_channel"
	ResultClaimFailed = "claim_failed"
	ResultPanic       = "panic"
)

type ItemReport struct {
	AppointmentID string
	Result        string
	Outcome       *model.Outcome
	Err           string
}

type SweepReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	TargetDate string
	Scanned    int
	Due        int
	Items      []ItemReport
}

// Count returns how many items ended with result.
func (r SweepReport) Count(result string) int {
	n := 0
	for _, it := range r.Items {
		if it.Result == result {
			n++
		}
	}
	return n
}

type ReminderResult struct {
	AppointmentID string
	Skipped       bool
	Reason        string
	Outcome       *model.Outcome
}

// Scheduler finds appointments due for a reminder, claims each by writing
// LastReminderSentAt and only then dispatches. Sweeps never overlap.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	locker     Locker
	logger     *slog.Logger
	metrics    *metrics.Metrics
	cfg        Config
	now        func() time.Time
	tracer     trace.Tracer

	sweepMu sync.Mutex

	runMu     sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	cancelRun context.CancelFunc
}

func NewScheduler(store Store, dispatcher Dispatcher, locker Locker, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		locker:     locker,
		logger:     logger,
		metrics:    m,
		cfg:        cfg.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
		tracer:     otelx.Tracer("concierge-service/reminders"),
	}
}

// RunSweep processes every due appointment. Per-appointment failures are recorded in
// the report; only listing and locking failures are returned.
func (s *Scheduler) RunSweep(ctx context.Context) (SweepReport, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "reminders.sweep")
	defer span.End()

	start := s.now()
	report := SweepReport{StartedAt: start}

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, s.cfg.LockTTL)
		if err != nil {
			s.metrics.ObserveSweep("lock_error", time.Since(start))
			return report, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			s.metrics.ObserveSweep("locked", time.Since(start))
			return report, ErrSweepLocked
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release sweep lock failed", "err", err)
			}
		}()
	}

	appts, err := s.store.ListAppointments(ctx)
	if err != nil {
		s.metrics.ObserveSweep("list_error", time.Since(start))
		return report, fmt.Errorf("list appointments: %w", err)
	}
	report.Scanned = len(appts)
	report.TargetDate = s.targetDate(start)

	var due []model.Appointment
	for _, a := range appts {
		if s.isDue(a, report.TargetDate) {
			due = append(due, a)
		}
	}
	report.Due = len(due)
	report.Items = make([]ItemReport, len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, appt := range due {
		g.Go(func() error {
			report.Items[i] = s.processSafely(gctx, appt)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = s.now()
	span.SetAttributes(
		attribute.Int("reminders.due", report.Due),
		attribute.Int("reminders.sent", report.Count(ResultSent)+report.Count(ResultPartial)),
	)
	s.metrics.ObserveSweep("ok", time.Since(start))
	s.logger.Info("reminder sweep finished",
		"target_date", report.TargetDate,
		"scanned", report.Scanned,
		"due", report.Due,
		"sent", report.Count(ResultSent),
		"partial", report.Count(ResultPartial),
		"failed", report.Count(ResultFailed)+report.Count(ResultClaimFailed)+report.Count(ResultPanic),
	)
	return report, nil
}

func (s *Scheduler) targetDate(now time.Time) string {
	return now.In(s.cfg.Location).AddDate(0, 0, s.cfg.LeadDays).Format(model.DateLayout)
}

func (s *Scheduler) isDue(a model.Appointment, target string) bool {
	if a.Status.Terminal() {
		return false
	}
	d, ok := model.ParseDate(a.Date)
	return ok && d.Format(model.DateLayout) == target
}

func (s *Scheduler) cooling(a model.Appointment, now time.Time) bool {
	return a.LastReminderSentAt != nil && now.Sub(*a.LastReminderSentAt) < s.cfg.Cooldown
}

func (s *Scheduler) processSafely(ctx context.Context, appt model.Appointment) (item ItemReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reminder panicked", "appointment_id", appt.ID, "panic", r)
			s.metrics.ObserveReminder(ResultPanic)
			item = ItemReport{AppointmentID: appt.ID, Result: ResultPanic, Err: fmt.Sprint(r)}
		}
	}()
	item = s.process(ctx, appt)
	s.metrics.ObserveReminder(item.Result)
	return item
}

func (s *Scheduler) process(ctx context.Context, appt model.Appointment) ItemReport {
	item := ItemReport{AppointmentID: appt.ID}
	now := s.now()
	if s.cooling(appt, now) {
		item.Result = ResultCooldown
		return item
	}
	if !appt.Reachable() {
		item.Result = ResultUnreachable
		return item
	}

	claimed, err := s.claim(ctx, appt.ID, now)
	if err != nil {
		s.logger.Error("reminder claim failed", "appointment_id", appt.ID, "err", err)
		item.Result = ResultClaimFailed
		item.Err = err.Error()
		return item
	}

	out := s.dispatcher.Dispatch(ctx, claimed, model.OccasionReminder)
	item.Outcome = &out
	switch out.Status {
	case model.OutcomeSuccess:
		item.Result = ResultSent
	case model.OutcomePartial:
		item.Result = ResultPartial
	case model.OutcomeSkipped:
		item.Result = ResultNoChannel
	default:
		item.Result = ResultFailed
		item.Err = errors.Join(out.Errors()...).Error()
		s.logger.Error("reminder delivery failed", "appointment_id", appt.ID, "err", item.Err)
	}
	return item
}

func (s *Scheduler) claim(ctx context.Context, id string, now time.Time) (model.Appointment, error) {
	claimed, err := s.store.UpdateAppointment(ctx, id, model.AppointmentPatch{LastReminderSentAt: &now})
	if err != nil {
		return model.Appointment{}, fmt.Errorf("claim reminder for %s: %w", id, err)
	}
	return claimed, nil
}

// SendReminder delivers one reminder now. It honors the cooldown and returns
// ErrDeliveryFailed, joined with each channel error, when nothing could be sent.
func (s *Scheduler) SendReminder(ctx context.Context, id string) (ReminderResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	res := ReminderResult{AppointmentID: id}
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return res, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
		}
		return res, fmt.Errorf("load appointment %s: %w", id, err)
	}
	if appt.Status.Terminal() {
		return res, fmt.Errorf("appointment %s is %s: %w", id, appt.Status, ErrAppointmentClosed)
	}
	now := s.now()
	if s.cooling(appt, now) {
		res.Skipped, res.Reason = true, "cooldown"
		s.metrics.ObserveReminder(ResultCooldown)
		return res, nil
	}
	if !appt.Reachable() {
		res.Skipped, res.Reason = true, "no email or phone on file"
		s.metrics.ObserveReminder(ResultUnreachable)
		return res, nil
	}

	claimed, err := s.claim(ctx, id, now)
	if err != nil {
		s.metrics.ObserveReminder(ResultClaimFailed)
		return res, err
	}
	out := s.dispatcher.Dispatch(ctx, claimed, model.OccasionReminder)
	res.Outcome = &out
	switch out.Status {
	case model.OutcomeFailed:
		s.metrics.ObserveReminder(ResultFailed)
		return res, errors.Join(append([]error{ErrDeliveryFailed}, out.Errors()...)...)
	case model.OutcomeSkipped:
		res.Skipped, res.Reason = true, "no applicable channel"
		s.metrics.ObserveReminder(ResultNoChannel)
	case model.OutcomePartial:
		s.metrics.ObserveReminder(ResultPartial)
	default:
		s.metrics.ObserveReminder(ResultSent)
	}
	return res, nil
}

// Start runs one sweep immediately unless ctx is already done, then one per interval
// until Stop or ctx is done.
// Cancelling ctx stops new sweeps but does not interrupt one in flight.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.cancelRun = cancel

	go s.loop(ctx, runCtx, s.stop, s.done)
}

func (s *Scheduler) loop(parent, runCtx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if halted(parent, stop) {
		return
	}
	s.sweep(runCtx)
	for {
		select {
		case <-stop:
			return
		case <-parent.Done():
			return
		case <-ticker.C:
			// A tick can be ready together with shutdown; select picks at random.
			if halted(parent, stop) {
				return
			}
			s.sweep(runCtx)
		}
	}
}

func halted(parent context.Context, stop <-chan struct{}) bool {
	if parent.Err() != nil {
		return true
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.RunSweep(ctx); err != nil {
		if errors.Is(err, ErrSweepLocked) {
			s.logger.Info("reminder sweep skipped: lock held by another instance")
			return
		}
		s.logger.Error("reminder sweep failed", "err", err)
	}
}

// Stop halts the ticker and waits for an in-flight sweep. If ctx ends first the
// sweep is cancelled and ctx.Err() is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	stop, done, cancel := s.stop, s.done, s.cancelRun
	s.stop = nil
	s.runMu.Unlock()
	if done == nil {
		return nil
	}
	if stop != nil {
		close(stop)
	}
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}
