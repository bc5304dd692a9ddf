package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/intent"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/settings"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/storage"
)

const historyLimit = 20

const fallbackReply = "Thanks for your message. A member of our team will get back to you shortly."

var (
	ErrNotFound     = errors.New("conversation not found")
	ErrEmptyMessage = errors.New("message text is empty")
)

type Store interface {
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	FindActiveByPhone(ctx context.Context, channel model.Channel, phone string) (model.Conversation, error)
	CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (model.Conversation, error)
	AppendMessage(ctx context.Context, msg model.Message) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

type Applier interface {
	Apply(ctx context.Context, res intent.Result, cc lifecycle.ChannelContext) (*model.Appointment, []model.NotificationRequest, error)
}

type Submitter interface {
	Submit(ctx context.Context, req model.NotificationRequest) bool
}

type InboundMessage struct {
	Channel        model.Channel
	ConversationID string
	// From is the sender phone for SMS and voice.
	From     string
	Text     string
	Customer model.Customer
}

type Reply struct {
	ConversationID     string
	Message            string
	Intent             intent.Intent
	Sentiment          string
	RequiresEscalation bool
	Status             model.ConversationStatus
	Appointment        *model.Appointment
	Notifications      int
}

type Service struct {
	store     Store
	resolver  intent.Resolver
	lifecycle Applier
	notify    Submitter
	business  settings.Business
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, resolver intent.Resolver, lc Applier, notify Submitter, business settings.Business, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		resolver:  resolver,
		lifecycle: lc,
		notify:    notify,
		business:  business,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleMessage runs one conversational turn. Notifications are queued and the
// reply is returned without waiting for delivery.
func (s *Service) HandleMessage(ctx context.Context, in InboundMessage) (Reply, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	if in.Channel == "" {
		in.Channel = model.ChannelChat
	}
	from := model.NormalizePhone(in.From)

	conv, err := s.resolveConversation(ctx, in, from)
	if err != nil {
		return Reply{}, err
	}
	log := s.logger.With("conversation_id", conv.ID, "channel", in.Channel)

	if err := s.store.AppendMessage(ctx, model.Message{ConversationID: conv.ID, Role: model.RoleUser, Content: text, CreatedAt: s.now()}); err != nil {
		return Reply{}, fmt.Errorf("store user message: %w", err)
	}
	history, err := s.store.RecentMessages(ctx, conv.ID, historyLimit)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", err)
	}

	res, err := s.resolver.Resolve(ctx, intent.Request{Text: text, History: history, Settings: s.business})
	if err != nil {
		log.Warn("intent resolver failed", "err", err)
		res = intent.Result{Intent: intent.Unknown, Message: fallbackReply}
	}
	if strings.TrimSpace(res.Message) == "" {
		res.Message = fallbackReply
	}

	customer := mergeCustomer(conv.Customer, in.Customer, res.Entities, from)
	appt, reqs, err := s.lifecycle.Apply(ctx, res, lifecycle.ChannelContext{
		Channel:        in.Channel,
		ConversationID: conv.ID,
		Customer:       customer,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("apply %s intent: %w", res.Intent, err)
	}

	now := s.now()
	lastIntent := string(res.Intent)
	patch := model.ConversationPatch{
		LastIntent:    &lastIntent,
		Customer:      &customer,
		LastMessageAt: &now,
	}
	if res.Sentiment != "" {
		patch.Sentiment = &res.Sentiment
	}
	if res.RequiresEscalation {
		escalated := model.ConversationEscalated
		patch.Status = &escalated
	}
	updated, err := s.store.UpdateConversation(ctx, conv.ID, patch)
	if err != nil {
		return Reply{}, fmt.Errorf("update conversation: %w", err)
	}
	if err := s.store.AppendMessage(ctx, model.Message{ConversationID: conv.ID, Role: model.RoleAssistant, Content: res.Message, CreatedAt: now}); err != nil {
		log.Warn("store assistant message failed", "err", err)
	}

	queued := 0
	for _, req := range reqs {
		if s.notify != nil && s.notify.Submit(ctx, req) {
			queued++
		}
	}
	if appt != nil {
		log.Info("conversation turn changed appointment", "appointment_id", appt.ID, "intent", res.Intent)
	}

	return Reply{
		ConversationID:     conv.ID,
		Message:            res.Message,
		Intent:             res.Intent,
		Sentiment:          updated.Sentiment,
		RequiresEscalation: res.RequiresEscalation,
		Status:             updated.Status,
		Appointment:        appt,
		Notifications:      queued,
	}, nil
}

func (s *Service) resolveConversation(ctx context.Context, in InboundMessage, from string) (model.Conversation, error) {
	if in.ConversationID != "" {
		conv, err := s.store.GetConversation(ctx, in.ConversationID)
		if storage.IsNotFound(err) {
			return model.Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, in.ConversationID)
		}
		if err != nil {
			return model.Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
		return conv, nil
	}
	if from != "" && (in.Channel == model.ChannelSMS || in.Channel == model.ChannelVoice) {
		conv, err := s.store.FindActiveByPhone(ctx, in.Channel, from)
		if err == nil {
			return conv, nil
		}
		if !storage.IsNotFound(err) {
			return model.Conversation{}, fmt.Errorf("find conversation: %w", err)
		}
	}
	customer := in.Customer
	if from != "" {
		customer.Phone = from
	} else {
		customer.Phone = model.NormalizePhone(customer.Phone)
	}
	customer.Priority = model.ParsePriority(string(customer.Priority))
	conv, err := s.store.CreateConversation(ctx, model.Conversation{
		Channel:  in.Channel,
		Status:   model.ConversationActive,
		Customer: customer,
	})
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// mergeCustomer layers identity: stored values, then values the channel supplied,
// then what the resolver extracted. A known sender phone always wins.
func mergeCustomer(stored, supplied model.Customer, e intent.Entities, from string) model.Customer {
	out := stored
	overlay := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	overlay(&out.Name, supplied.Name)
	overlay(&out.Email, supplied.Email)
	overlay(&out.Name, e.Name)
	overlay(&out.Email, e.Email)
	switch {
	case from != "":
		out.Phone = from
	case e.Phone != "":
		out.Phone = model.NormalizePhone(e.Phone)
	case supplied.Phone != "":
		out.Phone = model.NormalizePhone(supplied.Phone)
	}
	if supplied.Priority != "" {
		out.Priority = model.ParsePriority(string(supplied.Priority))
	}
	if out.Priority == "" {
		out.Priority = model.PriorityStandard
	}
	return out
}
