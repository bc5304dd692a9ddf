package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/intent"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/settings"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/storage"
)

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidAppointment = errors.New("invalid appointment")
)

type AppointmentStore interface {
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context) ([]model.Appointment, error)
	CreateAppointment(ctx context.Context, in model.NewAppointment) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, error)
}

type ConversationUpdater interface {
	UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (model.Conversation, error)
}

// ChannelContext is what the inbound channel knows about the caller.
type ChannelContext struct {
	Channel        model.Channel
	ConversationID string
	Customer       model.Customer
}

// Manager turns resolved intents and direct API calls into appointment writes plus
// the notifications those writes require. Every write is followed by a re-read and
// notifications are built from the re-read record.
type Manager struct {
	store         AppointmentStore
	conversations ConversationUpdater
	business      settings.Business
	logger        *slog.Logger
}

func NewManager(store AppointmentStore, conversations ConversationUpdater, business settings.Business, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if business.DefaultAmount <= 0 {
		business.DefaultAmount = settings.DefaultAmountMinor
	}
	return &Manager{store: store, conversations: conversations, business: business, logger: logger}
}

// Apply executes the mutation implied by res. Intents that do not mutate, unmatched
// customers and incomplete entities all return (nil, nil, nil).
func (m *Manager) Apply(ctx context.Context, res intent.Result, cc ChannelContext) (*model.Appointment, []model.NotificationRequest, error) {
	switch res.Intent {
	case intent.Booking:
		return m.book(ctx, res.Entities, cc)
	case intent.Reschedule:
		return m.reschedule(ctx, res.Entities, cc)
	case intent.Cancel:
		return m.cancelMatching(ctx, res.Entities, cc)
	default:
		return nil, nil, nil
	}
}

func (m *Manager) book(ctx context.Context, e intent.Entities, cc ChannelContext) (*model.Appointment, []model.NotificationRequest, error) {
	name := firstNonEmpty(e.Name, cc.Customer.Name)
	date, dateOK := normalizeDate(e.Date)
	clock, timeOK := normalizeTime(e.Time)
	if name == "" || strings.TrimSpace(e.Service) == "" || !dateOK || !timeOK {
		m.logger.Debug("booking skipped: incomplete entities", "conversation_id", cc.ConversationID)
		return nil, nil, nil
	}
	service, amount := m.resolveService(e.Service)

	created, err := m.store.CreateAppointment(ctx, model.NewAppointment{
		CustomerName:   name,
		CustomerEmail:  firstNonEmpty(e.Email, cc.Customer.Email),
		CustomerPhone:  firstNonEmpty(e.Phone, cc.Customer.Phone),
		Priority:       model.ParsePriority(string(cc.Customer.Priority)),
		Service:        service,
		Date:           date,
		Time:           clock,
		Status:         model.StatusPending,
		AmountMinor:    amount,
		PaymentStatus:  model.PaymentPending,
		ConversationID: cc.ConversationID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create appointment: %w", err)
	}
	fresh, err := m.store.GetAppointment(ctx, created.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("reload appointment %s: %w", created.ID, err)
	}

	if cc.ConversationID != "" && m.conversations != nil {
		completed := model.ConversationCompleted
		if _, err := m.conversations.UpdateConversation(ctx, cc.ConversationID, model.ConversationPatch{
			Status:        &completed,
			AppointmentID: &fresh.ID,
		}); err != nil {
			m.logger.Warn("link conversation failed", "conversation_id", cc.ConversationID, "appointment_id", fresh.ID, "err", err)
		}
	}

	m.logger.Info("appointment booked", "appointment_id", fresh.ID, "conversation_id", cc.ConversationID)
	return &fresh, []model.NotificationRequest{{Occasion: model.OccasionConfirmation, Appointment: fresh}}, nil
}

func (m *Manager) reschedule(ctx context.Context, e intent.Entities, cc ChannelContext) (*model.Appointment, []model.NotificationRequest, error) {
	date, dateOK := normalizeDate(e.Date)
	clock, timeOK := normalizeTime(e.Time)
	if !dateOK || !timeOK {
		return nil, nil, nil
	}
	target, ok, err := m.lookup(ctx, e, cc)
	if err != nil || !ok {
		return nil, nil, err
	}

	patch := model.AppointmentPatch{Date: &date, Time: &clock}
	if strings.TrimSpace(e.Service) != "" {
		service, _ := m.resolveService(e.Service)
		patch.Service = &service
	}
	fresh, err := m.writeAndReload(ctx, target.ID, patch)
	if errors.Is(err, storage.ErrTransitionRejected) {
		m.logger.Info("reschedule skipped: appointment closed concurrently", "appointment_id", target.ID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if fresh.Status.Terminal() {
		return &fresh, nil, nil
	}
	m.logger.Info("appointment rescheduled", "appointment_id", fresh.ID, "date", fresh.Date, "time", fresh.Time)
	return &fresh, []model.NotificationRequest{{Occasion: model.OccasionReschedule, Appointment: fresh}}, nil
}

func (m *Manager) cancelMatching(ctx context.Context, e intent.Entities, cc ChannelContext) (*model.Appointment, []model.NotificationRequest, error) {
	target, ok, err := m.lookup(ctx, e, cc)
	if err != nil || !ok {
		return nil, nil, err
	}
	cancelled := model.StatusCancelled
	fresh, err := m.writeAndReload(ctx, target.ID, model.AppointmentPatch{Status: &cancelled})
	if errors.Is(err, storage.ErrTransitionRejected) {
		m.logger.Info("cancel skipped: appointment closed concurrently", "appointment_id", target.ID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	m.logger.Info("appointment cancelled", "appointment_id", fresh.ID)
	return &fresh, []model.NotificationRequest{{Occasion: model.OccasionCancellation, Appointment: fresh}}, nil
}

// lookup finds the most recently created non-terminal appointment matching the
// caller's name, email or phone. Entity values win over channel context values.
func (m *Manager) lookup(ctx context.Context, e intent.Entities, cc ChannelContext) (model.Appointment, bool, error) {
	name := strings.TrimSpace(firstNonEmpty(e.Name, cc.Customer.Name))
	email := strings.TrimSpace(firstNonEmpty(e.Email, cc.Customer.Email))
	phone := model.NormalizePhone(firstNonEmpty(e.Phone, cc.Customer.Phone))
	if name == "" && email == "" && phone == "" {
		return model.Appointment{}, false, nil
	}

	appts, err := m.store.ListAppointments(ctx)
	if err != nil {
		return model.Appointment{}, false, fmt.Errorf("list appointments: %w", err)
	}
	var best model.Appointment
	found := false
	for _, a := range appts {
		if a.Status.Terminal() || !matches(a, name, email, phone) {
			continue
		}
		// Later entries win ties on CreatedAt.
		if !found || !a.CreatedAt.Before(best.CreatedAt) {
			best, found = a, true
		}
	}
	return best, found, nil
}

func matches(a model.Appointment, name, email, phone string) bool {
	if name != "" && strings.EqualFold(strings.TrimSpace(a.CustomerName), name) {
		return true
	}
	if email != "" && strings.TrimSpace(a.CustomerEmail) == email {
		return true
	}
	if phone != "" && model.NormalizePhone(a.CustomerPhone) == phone {
		return true
	}
	return false
}

func (m *Manager) writeAndReload(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, error) {
	if _, err := m.store.UpdateAppointment(ctx, id, patch); err != nil {
		return model.Appointment{}, fmt.Errorf("update appointment %s: %w", id, err)
	}
	fresh, err := m.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("reload appointment %s: %w", id, err)
	}
	return fresh, nil
}

func (m *Manager) resolveService(text string) (string, int64) {
	if svc, ok := m.business.MatchService(text); ok {
		return svc.Name, svc.AmountMinor
	}
	return strings.TrimSpace(text), m.business.DefaultAmount
}

func normalizeDate(raw string) (string, bool) {
	d, ok := model.ParseDate(raw)
	if !ok {
		return "", false
	}
	return d.Format(model.DateLayout), true
}

func normalizeTime(raw string) (string, bool) {
	return model.NormalizeTime(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
