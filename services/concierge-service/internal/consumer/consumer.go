package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/apptconcierge/libs/kafkax"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/conversation"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/inbox"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const ReplyEvent = "concierge.conversation.reply.v1"

// Transcript is the payload of a voice or SMS transcript event.
type Transcript struct {
	Channel        string `json:"channel"`
	From           string `json:"from"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ReplyPayload struct {
	ConversationID     string `json:"conversation_id"`
	Channel            string `json:"channel"`
	To                 string `json:"to,omitempty"`
	Message            string `json:"message"`
	Intent             string `json:"intent"`
	RequiresEscalation bool   `json:"requires_escalation"`
	AppointmentID      string `json:"appointment_id,omitempty"`
}

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type MessageHandler interface {
	HandleMessage(ctx context.Context, in conversation.InboundMessage) (conversation.Reply, error)
}

type Config struct {
	Brokers    string
	GroupID    string
	Topic      string
	ReplyTopic string
}

type Consumer struct {
	reader     Reader
	writer     Writer
	replyTopic string
	logger     *slog.Logger
	inbox      inbox.Recorder
	handler    MessageHandler
	backoff    time.Duration
}

func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// New builds a consumer. A nil writer or empty reply topic disables reply publishing.
func New(logger *slog.Logger, reader Reader, writer Writer, replyTopic string, rec inbox.Recorder, handler MessageHandler) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:     reader,
		writer:     writer,
		replyTopic: replyTopic,
		logger:     logger,
		inbox:      rec,
		handler:    handler,
		backoff:    time.Second,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)

	ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err)
		span.RecordError(err)
		return
	}
	if !ok {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return
	}

	if err := c.handle(ctxSpan, msg); err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var t Transcript
	if err := json.Unmarshal(msg.Value, &t); err != nil {
		return fmt.Errorf("decode transcript: %w", err)
	}
	channel := model.Channel(t.Channel)
	if channel != model.ChannelSMS && channel != model.ChannelVoice {
		channel = model.ChannelVoice
	}

	reply, err := c.handler.HandleMessage(ctx, conversation.InboundMessage{
		Channel:        channel,
		ConversationID: t.ConversationID,
		From:           t.From,
		Text:           t.Text,
	})
	if err != nil {
		return err
	}
	if c.writer == nil || c.replyTopic == "" {
		return nil
	}

	payload := ReplyPayload{
		ConversationID:     reply.ConversationID,
		Channel:            string(channel),
		To:                 model.NormalizePhone(t.From),
		Message:            reply.Message,
		Intent:             string(reply.Intent),
		RequiresEscalation: reply.RequiresEscalation,
	}
	if reply.Appointment != nil {
		payload.AppointmentID = reply.Appointment.ID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	out := kafkax.NewEventMessage(ctx, c.replyTopic, ReplyEvent, reply.ConversationID, body)
	if err := c.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}
	return nil
}
