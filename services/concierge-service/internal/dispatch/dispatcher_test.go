package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
)

type stubNotifier struct {
	channel model.NotifyChannel
	applies func(model.Appointment) bool
	send    func(ctx context.Context) error

	mu    sync.Mutex
	calls []Message
}

func (s *stubNotifier) Channel() model.NotifyChannel { return s.channel }

func (s *stubNotifier) Applies(appt model.Appointment, _ model.Occasion) bool {
	if s.applies == nil {
		return true
	}
	return s.applies(appt)
}

func (s *stubNotifier) Send(ctx context.Context, _ model.Appointment, _ model.Occasion, msg Message) error {
	s.mu.Lock()
	s.calls = append(s.calls, msg)
	s.mu.Unlock()
	if s.send == nil {
		return nil
	}
	return s.send(ctx)
}

func (s *stubNotifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAppointment() model.Appointment {
	return model.Appointment{
		ID:            "appt-1",
		CustomerName:  "Jane Doe",
		CustomerEmail: "jane@example.com",
		CustomerPhone: "+15551234567",
		Service:       "Consult",
		Date:          "2025-03-10",
		Time:          "14:00",
	}
}

func TestDispatchChannelIsolation(t *testing.T) {
	email := &stubNotifier{channel: model.NotifyEmail, send: func(context.Context) error { return errors.New("smtp down") }}
	sms := &stubNotifier{channel: model.NotifySMS}
	d := New([]Notifier{email, sms}, Options{Logger: quietLogger()})

	out := d.Dispatch(context.Background(), testAppointment(), model.OccasionConfirmation)

	if out.Status != model.OutcomePartial {
		t.Fatalf("expected partial, got %s", out.Status)
	}
	if sms.callCount() != 1 {
		t.Fatalf("expected sms attempted once, got %d", sms.callCount())
	}
	if out.Channels[0].Status != model.ChannelFailed || out.Channels[1].Status != model.ChannelSent {
		t.Fatalf("unexpected channel results %+v", out.Channels)
	}
	if len(out.Errors()) != 1 || !strings.Contains(out.Errors()[0].Error(), "smtp down") {
		t.Fatalf("expected smtp error captured, got %v", out.Errors())
	}
}

func TestDispatchSkipsInapplicable(t *testing.T) {
	email := &stubNotifier{channel: model.NotifyEmail, applies: func(a model.Appointment) bool { return a.CustomerEmail != "" }}
	sms := &stubNotifier{channel: model.NotifySMS, applies: func(a model.Appointment) bool { return a.CustomerPhone != "" }}
	d := New([]Notifier{email, sms}, Options{Logger: quietLogger()})

	appt := testAppointment()
	appt.CustomerEmail = ""
	appt.CustomerPhone = ""
	out := d.Dispatch(context.Background(), appt, model.OccasionReminder)

	if out.Status != model.OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", out.Status)
	}
	if email.callCount()+sms.callCount() != 0 {
		t.Fatal("expected no notifier calls")
	}
}

func TestDispatchTimeoutAndPanic(t *testing.T) {
	hung := &stubNotifier{channel: model.NotifyEmail, send: func(context.Context) error {
		time.Sleep(2 * time.Second)
		return nil
	}}
	panicky := &stubNotifier{channel: model.NotifySMS, send: func(context.Context) error { panic("boom") }}
	ok := &stubNotifier{channel: model.NotifyDirectory}
	d := New([]Notifier{hung, panicky, ok}, Options{Timeout: 50 * time.Millisecond, Logger: quietLogger()})

	start := time.Now()
	out := d.Dispatch(context.Background(), testAppointment(), model.OccasionReminder)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected dispatch bounded by timeout, took %s", elapsed)
	}
	if out.Channels[0].Status != model.ChannelFailed || !errors.Is(out.Channels[0].Err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout failure, got %+v", out.Channels[0])
	}
	if out.Channels[1].Status != model.ChannelFailed || !strings.Contains(out.Channels[1].Err.Error(), "panic") {
		t.Fatalf("expected panic failure, got %+v", out.Channels[1])
	}
	if out.Status != model.OutcomePartial {
		t.Fatalf("expected partial, got %s", out.Status)
	}
}

func TestDispatchAllFailed(t *testing.T) {
	fail := func(context.Context) error { return errors.New("down") }
	d := New([]Notifier{
		&stubNotifier{channel: model.NotifyEmail, send: fail},
		&stubNotifier{channel: model.NotifySMS, send: fail},
	}, Options{Logger: quietLogger()})

	out := d.Dispatch(context.Background(), testAppointment(), model.OccasionReminder)
	if out.Status != model.OutcomeFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
}

func TestDispatchRendersOccasion(t *testing.T) {
	sms := &stubNotifier{channel: model.NotifySMS}
	d := New([]Notifier{sms}, Options{BusinessName: "Acme Dental", Logger: quietLogger()})

	d.Dispatch(context.Background(), testAppointment(), model.OccasionReschedule)
	msg := sms.calls[0]
	if !strings.Contains(msg.Subject, "Acme Dental") || !strings.Contains(msg.Body, "2025-03-10 at 14:00") {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestBackgroundDrain(t *testing.T) {
	release := make(chan struct{})
	sms := &stubNotifier{channel: model.NotifySMS, send: func(context.Context) error {
		<-release
		return nil
	}}
	b := NewBackground(New([]Notifier{sms}, Options{Logger: quietLogger()}), quietLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if !b.Submit(ctx, model.NotificationRequest{Occasion: model.OccasionConfirmation, Appointment: testAppointment()}) {
		t.Fatal("expected submit accepted")
	}
	cancel()

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := b.Drain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected drain to time out while delivery is blocked, got %v", err)
	}
	if b.Submit(context.Background(), model.NotificationRequest{Occasion: model.OccasionConfirmation, Appointment: testAppointment()}) {
		t.Fatal("expected submit rejected after drain started")
	}

	close(release)
	if err := b.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if sms.callCount() != 1 {
		t.Fatalf("expected one delivery despite caller cancellation, got %d", sms.callCount())
	}
}
