package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestNewEventMessageHeaders(t *testing.T) {
	msg := NewEventMessage(context.Background(), "directory.contact.upserted.v1", "directory.contact.upserted.v1", "appt-1", []byte(`{}`))
	meta := ExtractEventMeta(msg)
	if meta.EventID == "" {
		t.Fatal("expected generated event id")
	}
	if meta.EventType != "directory.contact.upserted.v1" {
		t.Fatalf("unexpected event type %q", meta.EventType)
	}
	if string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
}

func TestExtractEventMetaFallbacks(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "inbound.transcript.v1", Partition: 2, Offset: 41, Key: []byte("+15551234567")})
	if meta.EventID != "inbound.transcript.v1/2/41" || meta.EventType != "inbound.transcript.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	next := ExtractEventMeta(kafka.Message{Topic: "inbound.transcript.v1", Partition: 2, Offset: 42, Key: []byte("+15551234567")})
	if next.EventID == meta.EventID {
		t.Fatalf("expected distinct ids for messages sharing a key, got %q", next.EventID)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck("")(context.Background()); err == nil {
		t.Fatal("expected error with no brokers")
	}
}
