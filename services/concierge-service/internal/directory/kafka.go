package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/apptconcierge/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

const ContactUpsertedEvent = "concierge.directory.contact_upserted.v1"

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSyncer publishes contact upserts; a downstream worker owns the mailing-list API.
type KafkaSyncer struct {
	writer MessageWriter
	topic  string
}

func NewKafkaSyncer(writer MessageWriter, topic string) *KafkaSyncer {
	if topic == "" {
		topic = "concierge.directory.contacts"
	}
	return &KafkaSyncer{writer: writer, topic: topic}
}

// NewKafkaWriter builds the writer KafkaSyncer expects. The topic is set per message.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (s *KafkaSyncer) Name() string {
	return "kafka"
}

func (s *KafkaSyncer) Sync(ctx context.Context, c Contact) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	key := c.Email
	if key == "" {
		key = c.Phone
	}
	if key == "" {
		key = c.AppointmentID
	}
	msg := kafkax.NewEventMessage(ctx, s.topic, ContactUpsertedEvent, key, payload)
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish contact: %w", err)
	}
	return nil
}
