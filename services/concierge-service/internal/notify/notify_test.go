package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/directory"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/dispatch"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
)

type fakeEmail struct {
	mu sync.Mutex
	to []string
}

func (f *fakeEmail) Send(_ context.Context, to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	return nil
}

type fakeSMS struct {
	mu sync.Mutex
	to []string
}

func (f *fakeSMS) Send(_ context.Context, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	return nil
}

func (f *fakeSMS) ProviderID() string { return "fake" }

type fakeSyncer struct {
	mu       sync.Mutex
	contacts []directory.Contact
}

func (f *fakeSyncer) Sync(_ context.Context, c directory.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c)
	return nil
}

func (f *fakeSyncer) Name() string { return "fake" }

func TestApplicability(t *testing.T) {
	em, sm, dir := &fakeEmail{}, &fakeSMS{}, &fakeSyncer{}
	d := dispatch.New(Build(em, sm, dir), dispatch.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	appt := model.Appointment{ID: "a1", CustomerName: "Jane", CustomerPhone: "+15551234567", Priority: model.PriorityVIP}
	out := d.Dispatch(context.Background(), appt, model.OccasionConfirmation)

	want := map[model.NotifyChannel]model.ChannelStatus{
		model.NotifyEmail:     model.ChannelSkipped,
		model.NotifySMS:       model.ChannelSent,
		model.NotifyDirectory: model.ChannelSent,
	}
	for _, r := range out.Channels {
		if want[r.Channel] != r.Status {
			t.Fatalf("channel %s: expected %s, got %s", r.Channel, want[r.Channel], r.Status)
		}
	}
	if len(dir.contacts) != 1 || dir.contacts[0].Tags[1] != "priority:vip" {
		t.Fatalf("unexpected contacts %+v", dir.contacts)
	}

	out = d.Dispatch(context.Background(), appt, model.OccasionReminder)
	for _, r := range out.Channels {
		if r.Channel == model.NotifyDirectory && r.Status != model.ChannelSkipped {
			t.Fatalf("expected directory skipped for reminders, got %s", r.Status)
		}
	}
	if len(sm.to) != 2 || len(em.to) != 0 {
		t.Fatalf("unexpected deliveries sms=%v email=%v", sm.to, em.to)
	}
}

func TestBuildWithoutDirectory(t *testing.T) {
	notifiers := Build(&fakeEmail{}, &fakeSMS{}, nil)
	if len(notifiers) != 2 {
		t.Fatalf("expected 2 notifiers, got %d", len(notifiers))
	}
}
