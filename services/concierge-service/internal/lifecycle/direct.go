package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/storage"
)

// Create books an appointment outside any conversation.
func (m *Manager) Create(ctx context.Context, in model.NewAppointment) (model.Appointment, []model.NotificationRequest, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	if in.CustomerName == "" {
		return model.Appointment{}, nil, fmt.Errorf("%w: customer name is required", ErrInvalidAppointment)
	}
	date, ok := normalizeDate(in.Date)
	if !ok {
		return model.Appointment{}, nil, fmt.Errorf("%w: date %q", ErrInvalidAppointment, in.Date)
	}
	clock, ok := normalizeTime(in.Time)
	if !ok {
		return model.Appointment{}, nil, fmt.Errorf("%w: time %q", ErrInvalidAppointment, in.Time)
	}
	in.Date, in.Time = date, clock
	if strings.TrimSpace(in.Service) == "" {
		return model.Appointment{}, nil, fmt.Errorf("%w: service is required", ErrInvalidAppointment)
	}

	service, amount := m.resolveService(in.Service)
	in.Service = service
	if in.AmountMinor == 0 {
		in.AmountMinor = amount
	}
	if in.AmountMinor < 0 {
		return model.Appointment{}, nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAppointment)
	}
	if in.Status == "" {
		in.Status = model.StatusPending
	}
	if in.Status.Terminal() || !in.Status.Valid() {
		return model.Appointment{}, nil, fmt.Errorf("%w: initial status %q", ErrInvalidAppointment, in.Status)
	}
	if in.PaymentStatus == "" {
		in.PaymentStatus = model.PaymentPending
	}
	in.Priority = model.ParsePriority(string(in.Priority))

	created, err := m.store.CreateAppointment(ctx, in)
	if err != nil {
		return model.Appointment{}, nil, fmt.Errorf("create appointment: %w", err)
	}
	fresh, err := m.store.GetAppointment(ctx, created.ID)
	if err != nil {
		return model.Appointment{}, nil, fmt.Errorf("reload appointment %s: %w", created.ID, err)
	}
	return fresh, []model.NotificationRequest{{Occasion: model.OccasionConfirmation, Appointment: fresh}}, nil
}

// Update applies a partial change. A status change must follow the transition table;
// a move to cancelled produces a cancellation and a change to service, date or time on
// an appointment that is still open produces a reschedule. Anything else is silent.
func (m *Manager) Update(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, []model.NotificationRequest, error) {
	current, err := m.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, nil, fmt.Errorf("load appointment %s: %w", id, err)
	}
	if err := m.normalizePatch(&patch); err != nil {
		return model.Appointment{}, nil, err
	}
	if patch.Status != nil && !model.CanTransition(current.Status, *patch.Status) {
		return model.Appointment{}, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, *patch.Status)
	}
	if current.Status.Terminal() && patch.TouchesSchedule() {
		return model.Appointment{}, nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, current.Status)
	}
	if patch.Status != nil && *patch.Status == current.Status {
		patch.Status = nil
	}

	fresh, err := m.writeAndReload(ctx, id, patch)
	if errors.Is(err, storage.ErrTransitionRejected) {
		return model.Appointment{}, nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if err != nil {
		return model.Appointment{}, nil, err
	}

	var reqs []model.NotificationRequest
	switch {
	case fresh.Status == model.StatusCancelled && current.Status != model.StatusCancelled:
		reqs = append(reqs, model.NotificationRequest{Occasion: model.OccasionCancellation, Appointment: fresh})
	case fresh.Status.Terminal():
	case scheduleChanged(current, fresh):
		reqs = append(reqs, model.NotificationRequest{Occasion: model.OccasionReschedule, Appointment: fresh})
	}
	return fresh, reqs, nil
}

// Cancel is idempotent: cancelling a cancelled appointment returns it unchanged and emits nothing.
func (m *Manager) Cancel(ctx context.Context, id string) (model.Appointment, []model.NotificationRequest, error) {
	current, err := m.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, nil, fmt.Errorf("load appointment %s: %w", id, err)
	}
	if current.Status == model.StatusCancelled {
		return current, nil, nil
	}
	if !model.CanTransition(current.Status, model.StatusCancelled) {
		return model.Appointment{}, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, model.StatusCancelled)
	}
	cancelled := model.StatusCancelled
	fresh, err := m.writeAndReload(ctx, id, model.AppointmentPatch{Status: &cancelled})
	if errors.Is(err, storage.ErrTransitionRejected) {
		// Closed between the read and the locked write.
		latest, gerr := m.store.GetAppointment(ctx, id)
		if gerr == nil && latest.Status == model.StatusCancelled {
			return latest, nil, nil
		}
		return model.Appointment{}, nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if err != nil {
		return model.Appointment{}, nil, err
	}
	m.logger.Info("appointment cancelled", "appointment_id", fresh.ID)
	return fresh, []model.NotificationRequest{{Occasion: model.OccasionCancellation, Appointment: fresh}}, nil
}

func (m *Manager) normalizePatch(p *model.AppointmentPatch) error {
	if p.Date != nil {
		date, ok := normalizeDate(*p.Date)
		if !ok {
			return fmt.Errorf("%w: date %q", ErrInvalidAppointment, *p.Date)
		}
		p.Date = &date
	}
	if p.Time != nil {
		clock, ok := normalizeTime(*p.Time)
		if !ok {
			return fmt.Errorf("%w: time %q", ErrInvalidAppointment, *p.Time)
		}
		p.Time = &clock
	}
	if p.Service != nil {
		service, _ := m.resolveService(*p.Service)
		if service == "" {
			return fmt.Errorf("%w: service is empty", ErrInvalidAppointment)
		}
		p.Service = &service
	}
	if p.CustomerName != nil && strings.TrimSpace(*p.CustomerName) == "" {
		return fmt.Errorf("%w: customer name is required", ErrInvalidAppointment)
	}
	if p.AmountMinor != nil && *p.AmountMinor <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAppointment)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidAppointment, *p.Status)
	}
	if p.PaymentStatus != nil && !p.PaymentStatus.Valid() {
		return fmt.Errorf("%w: payment status %q", ErrInvalidAppointment, *p.PaymentStatus)
	}
	if p.Priority != nil {
		pr := model.ParsePriority(string(*p.Priority))
		p.Priority = &pr
	}
	return nil
}

func scheduleChanged(before, after model.Appointment) bool {
	return before.Service != after.Service || before.Date != after.Date || before.Time != after.Time
}
