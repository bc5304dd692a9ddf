package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
)

// MemoryStore keeps appointments, conversations and messages in process.
// Appointments are listed in insertion order.
type MemoryStore struct {
	mu            sync.RWMutex
	appointments  map[string]model.Appointment
	order         []string
	conversations map[string]model.Conversation
	messages      map[string][]model.Message
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments:  make(map[string]model.Appointment),
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string][]model.Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source. Used by tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return copyAppointment(appt), nil
}

func (s *MemoryStore) ListAppointments(ctx context.Context) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Appointment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyAppointment(s.appointments[id]))
	}
	return out, nil
}

func (s *MemoryStore) CreateAppointment(ctx context.Context, in model.NewAppointment) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	appt := model.Appointment{
		ID:               uuid.NewString(),
		CustomerName:     in.CustomerName,
		CustomerEmail:    in.CustomerEmail,
		CustomerPhone:    in.CustomerPhone,
		Priority:         in.Priority,
		Service:          in.Service,
		Date:             in.Date,
		Time:             in.Time,
		Status:           in.Status,
		AmountMinor:      in.AmountMinor,
		PaymentStatus:    in.PaymentStatus,
		PaymentReference: in.PaymentReference,
		ConversationID:   in.ConversationID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.appointments[appt.ID] = appt
	s.order = append(s.order, appt.ID)
	return copyAppointment(appt), nil
}

func (s *MemoryStore) UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if !patch.AllowedFrom(appt.Status) {
		return model.Appointment{}, fmt.Errorf("%w: appointment is %s", ErrTransitionRejected, appt.Status)
	}
	patch.Apply(&appt)
	appt.UpdatedAt = s.now()
	s.appointments[id] = appt
	return copyAppointment(appt), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return model.Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (s *MemoryStore) FindActiveByPhone(ctx context.Context, channel model.Channel, phone string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found model.Conversation
	ok := false
	for _, conv := range s.conversations {
		if conv.Status != model.ConversationActive || conv.Channel != channel || conv.Customer.Phone != phone {
			continue
		}
		if !ok || conv.LastMessageAt.After(found.LastMessageAt) {
			found, ok = conv, true
		}
	}
	if !ok {
		return model.Conversation{}, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Status == "" {
		conv.Status = model.ConversationActive
	}
	if conv.Customer.Priority == "" {
		conv.Customer.Priority = model.PriorityStandard
	}
	now := s.now()
	conv.StartedAt = now
	conv.LastMessageAt = now
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return model.Conversation{}, ErrNotFound
	}
	patch.Apply(&conv)
	s.conversations[id] = conv
	return conv, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func copyAppointment(a model.Appointment) model.Appointment {
	if a.LastReminderSentAt != nil {
		t := *a.LastReminderSentAt
		a.LastReminderSentAt = &t
	}
	return a
}
