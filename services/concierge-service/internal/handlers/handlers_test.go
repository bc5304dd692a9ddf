package handlers

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptconcierge/libs/auth"
	"github.com/md-rashed-zaman/apptconcierge/libs/httpx"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/conversation"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/intent"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/reminders"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/settings"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []model.NotificationRequest
}

func (r *recordingSubmitter) Submit(_ context.Context, req model.NotificationRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return true
}

func (r *recordingSubmitter) occasions() []model.Occasion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Occasion, 0, len(r.reqs))
	for _, req := range r.reqs {
		out = append(out, req.Occasion)
	}
	return out
}

type fakeConversations struct {
	reply conversation.Reply
	err   error
	last  conversation.InboundMessage
	calls int
}

func (f *fakeConversations) HandleMessage(_ context.Context, in conversation.InboundMessage) (conversation.Reply, error) {
	f.last = in
	f.calls++
	return f.reply, f.err
}

type fakeReminders struct {
	result reminders.ReminderResult
	report reminders.SweepReport
	err    error
}

func (f *fakeReminders) SendReminder(_ context.Context, id string) (reminders.ReminderResult, error) {
	res := f.result
	res.AppointmentID = id
	return res, f.err
}

func (f *fakeReminders) RunSweep(context.Context) (reminders.SweepReport, error) {
	return f.report, f.err
}

type server struct {
	mux    *http.ServeMux
	store  *storage.MemoryStore
	sub    *recordingSubmitter
	convs  *fakeConversations
	remind *fakeReminders
}

func newServer(t *testing.T, operator httpx.Middleware) *server {
	t.Helper()
	store := storage.NewMemoryStore()
	business := settings.Business{Name: "Acme Dental", Services: []settings.Service{{Name: "Cleaning", AmountMinor: 8000}}, DefaultAmount: 5000}
	lc := lifecycle.NewManager(store, store, business, quietLogger())
	s := &server{
		mux:    http.NewServeMux(),
		store:  store,
		sub:    &recordingSubmitter{},
		convs:  &fakeConversations{},
		remind: &fakeReminders{},
	}
	Routes{
		Chat:         NewChatHandler(s.convs, business.Name, quietLogger()),
		Appointments: NewAppointmentHandler(store, lc, s.sub, quietLogger()),
		Reminders:    NewReminderHandler(s.remind, quietLogger()),
		Operator:     operator,
	}.Register(s.mux)
	return s
}

func (s *server) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rw := httptest.NewRecorder()
	s.mux.ServeHTTP(rw, req)
	return rw
}

func decode[T any](t *testing.T, rw *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rw.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rw.Body.String(), err)
	}
	return v
}

func TestAppointmentCRUD(t *testing.T) {
	s := newServer(t, nil)

	rw := s.do(http.MethodPost, "/api/v1/appointments", `{"customer_name":"Jane Doe","customer_email":"jane@example.com","customer_phone":"+1 (555) 123-4567","service":"cleaning","date":"2025-03-10","time":"2pm"}`)
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	created := decode[appointmentView](t, rw)
	if created.Service != "Cleaning" || created.AmountMinor != 8000 || created.Time != "14:00" || created.CustomerPhone != "+15551234567" {
		t.Fatalf("unexpected appointment %+v", created)
	}

	rw = s.do(http.MethodGet, "/api/v1/appointments/"+created.ID, "")
	if rw.Code != http.StatusOK || decode[appointmentView](t, rw).ID != created.ID {
		t.Fatalf("expected appointment by id, got %d", rw.Code)
	}

	rw = s.do(http.MethodPatch, "/api/v1/appointments/"+created.ID, `{"payment_status":"paid"}`)
	if rw.Code != http.StatusOK || decode[appointmentView](t, rw).PaymentStatus != "paid" {
		t.Fatalf("expected paid appointment, got %d: %s", rw.Code, rw.Body.String())
	}
	rw = s.do(http.MethodPatch, "/api/v1/appointments/"+created.ID, `{"date":"2025-03-12","time":"09:30"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}

	rw = s.do(http.MethodPost, "/api/v1/appointments/"+created.ID+"/cancel", "")
	if rw.Code != http.StatusOK || decode[appointmentView](t, rw).Status != "cancelled" {
		t.Fatalf("expected cancelled, got %d: %s", rw.Code, rw.Body.String())
	}
	// Cancelling again is idempotent.
	if rw := s.do(http.MethodPost, "/api/v1/appointments/"+created.ID+"/cancel", ""); rw.Code != http.StatusOK {
		t.Fatalf("expected idempotent cancel, got %d", rw.Code)
	}

	got := s.sub.occasions()
	want := []model.Occasion{model.OccasionConfirmation, model.OccasionReschedule, model.OccasionCancellation}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected notifications %v, got %v", want, got)
	}

	rw = s.do(http.MethodGet, "/api/v1/appointments?status=cancelled", "")
	list := decode[listAppointmentsResponse](t, rw)
	if len(list.Appointments) != 1 {
		t.Fatalf("expected one cancelled appointment, got %d", len(list.Appointments))
	}
	rw = s.do(http.MethodGet, "/api/v1/appointments?status=pending", "")
	if n := len(decode[listAppointmentsResponse](t, rw).Appointments); n != 0 {
		t.Fatalf("expected no pending appointments, got %d", n)
	}
}

func TestAppointmentErrors(t *testing.T) {
	s := newServer(t, nil)

	if rw := s.do(http.MethodGet, "/api/v1/appointments/missing", ""); rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
	if rw := s.do(http.MethodPost, "/api/v1/appointments", `{"customer_name":"Jane","service":"x","date":"2025-03-10","time":"14:00","customer_email":"nope"}`); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", rw.Code)
	}
	if rw := s.do(http.MethodPost, "/api/v1/appointments", `{"customer_name":"Jane","service":"x","date":"someday","time":"14:00"}`); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rw.Code)
	}
	if rw := s.do(http.MethodPost, "/api/v1/appointments", `{not json`); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rw.Code)
	}

	appt, err := s.store.CreateAppointment(context.Background(), model.NewAppointment{
		CustomerName: "John Smith", Service: "Cleaning", Date: "2025-03-10", Time: "10:00",
		Status: model.StatusCompleted, AmountMinor: 8000, PaymentStatus: model.PaymentPaid,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if rw := s.do(http.MethodPatch, "/api/v1/appointments/"+appt.ID, `{"status":"pending"}`); rw.Code != http.StatusConflict {
		t.Fatalf("expected 409 for invalid transition, got %d", rw.Code)
	}
	if rw := s.do(http.MethodPost, "/api/v1/appointments/"+appt.ID+"/cancel", ""); rw.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling completed, got %d", rw.Code)
	}
	if rw := s.do(http.MethodPatch, "/api/v1/appointments/"+appt.ID, `{"status":"archived"}`); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rw.Code)
	}
}

func TestReminderSend(t *testing.T) {
	s := newServer(t, nil)
	s.remind.result = reminders.ReminderResult{Outcome: &model.Outcome{
		AppointmentID: "a1",
		Occasion:      model.OccasionReminder,
		Status:        model.OutcomePartial,
		Channels: []model.ChannelResult{
			{Channel: model.NotifyEmail, Status: model.ChannelSent},
			{Channel: model.NotifySMS, Status: model.ChannelFailed, Err: errors.New("carrier rejected")},
		},
	}}

	rw := s.do(http.MethodPost, "/api/v1/reminders/a1/send", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	resp := decode[sendReminderResponse](t, rw)
	if resp.Outcome == nil || resp.Outcome.Status != "partial" || resp.Outcome.Channels[1].Error != "carrier rejected" {
		t.Fatalf("unexpected response %+v", resp)
	}

	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("appointment a1: %w", reminders.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("appointment a1 is cancelled: %w", reminders.ErrAppointmentClosed), http.StatusConflict},
		{errors.Join(reminders.ErrDeliveryFailed, errors.New("email: smtp down")), http.StatusBadGateway},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s.remind.err = tc.err
		if rw := s.do(http.MethodPost, "/api/v1/reminders/a1/send", ""); rw.Code != tc.code {
			t.Fatalf("expected %d for %v, got %d", tc.code, tc.err, rw.Code)
		}
	}
}

func TestReminderSweep(t *testing.T) {
	s := newServer(t, nil)
	start := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)
	s.remind.report = reminders.SweepReport{
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		TargetDate: "2025-03-10",
		Scanned:    3,
		Due:        2,
		Items: []reminders.ItemReport{
			{AppointmentID: "a1", Result: reminders.ResultSent},
			{AppointmentID: "a2", Result: reminders.ResultFailed, Err: "all channels failed"},
		},
	}

	rw := s.do(http.MethodPost, "/api/v1/reminders/sweep", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	resp := decode[sweepResponse](t, rw)
	if resp.TargetDate != "2025-03-10" || resp.Due != 2 || len(resp.Items) != 2 || resp.Items[1].Error == "" {
		t.Fatalf("unexpected sweep response %+v", resp)
	}

	s.remind.err = reminders.ErrSweepLocked
	if rw := s.do(http.MethodPost, "/api/v1/reminders/sweep", ""); rw.Code != http.StatusConflict {
		t.Fatalf("expected 409 when locked elsewhere, got %d", rw.Code)
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	const secret = "operator-secret"
	s := newServer(t, httpx.RequireBearer(secret, "operator", "admin"))

	if rw := s.do(http.MethodPost, "/api/v1/reminders/sweep", ""); rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rw.Code)
	}

	token, err := auth.SignHS256(auth.Claims{Sub: "ops-1", Role: "operator", Exp: time.Now().Add(time.Hour).Unix()}, secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reminders/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	s.mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 with operator token, got %d", rw.Code)
	}

	// Chat stays open.
	s.convs.reply = conversation.Reply{ConversationID: "c1", Message: "Hello!", Intent: intent.General, Status: model.ConversationActive}
	if rw := s.do(http.MethodPost, "/api/v1/chat", `{"message":"hi"}`); rw.Code != http.StatusOK {
		t.Fatalf("expected chat without token, got %d", rw.Code)
	}
}

func TestChat(t *testing.T) {
	s := newServer(t, nil)
	s.convs.reply = conversation.Reply{
		ConversationID: "c1",
		Message:        "You're booked.",
		Intent:         intent.Booking,
		Status:         model.ConversationCompleted,
		Appointment:    &model.Appointment{ID: "a1", CustomerName: "Jane Doe", Status: model.StatusPending},
	}

	rw := s.do(http.MethodPost, "/api/v1/chat", `{"message":"  book a cleaning  ","customer_name":"Jane Doe","customer_email":"jane@example.com"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	resp := decode[chatResponse](t, rw)
	if resp.ConversationID != "c1" || resp.Intent != "booking" || resp.Appointment == nil || resp.Appointment.ID != "a1" {
		t.Fatalf("unexpected chat response %+v", resp)
	}
	if s.convs.last.Text != "book a cleaning" || s.convs.last.Channel != model.ChannelChat || s.convs.last.Customer.Email != "jane@example.com" {
		t.Fatalf("unexpected inbound %+v", s.convs.last)
	}

	if rw := s.do(http.MethodPost, "/api/v1/chat", `{"message":"   "}`); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", rw.Code)
	}
	s.convs.err = fmt.Errorf("%w: c9", conversation.ErrNotFound)
	if rw := s.do(http.MethodPost, "/api/v1/chat", `{"message":"hi","conversation_id":"c9"}`); rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conversation, got %d", rw.Code)
	}
}

func postForm(s *server, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rw := httptest.NewRecorder()
	s.mux.ServeHTTP(rw, req)
	return rw
}

func TestSMSWebhook(t *testing.T) {
	s := newServer(t, nil)
	s.convs.reply = conversation.Reply{ConversationID: "c1", Message: "See you Monday at 2pm.", Status: model.ConversationCompleted}

	rw := postForm(s, "/api/v1/channels/sms", url.Values{"From": {"+15551234567"}, "Body": {"book monday 2pm"}})
	if rw.Code != http.StatusOK || rw.Header().Get("Content-Type") != "application/xml" {
		t.Fatalf("expected xml reply, got %d %s", rw.Code, rw.Header().Get("Content-Type"))
	}
	var resp twiml
	if err := xml.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode twiml: %v", err)
	}
	if resp.Message != "See you Monday at 2pm." {
		t.Fatalf("unexpected twiml %+v", resp)
	}
	if s.convs.last.Channel != model.ChannelSMS || s.convs.last.From != "+15551234567" {
		t.Fatalf("unexpected inbound %+v", s.convs.last)
	}

	if rw := postForm(s, "/api/v1/channels/sms", url.Values{"From": {"+15551234567"}}); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without body, got %d", rw.Code)
	}
}

func TestVoiceWebhook(t *testing.T) {
	s := newServer(t, nil)

	rw := postForm(s, "/api/v1/channels/voice", url.Values{"From": {"+15551234567"}})
	var greet twiml
	if err := xml.Unmarshal(rw.Body.Bytes(), &greet); err != nil {
		t.Fatalf("decode twiml: %v", err)
	}
	if !strings.Contains(greet.Say, "Acme Dental") || greet.Gather == nil || greet.Gather.Input != "speech" {
		t.Fatalf("expected greeting with gather, got %+v", greet)
	}
	if s.convs.calls != 0 {
		t.Fatal("expected no conversation turn for an empty utterance")
	}

	s.convs.reply = conversation.Reply{ConversationID: "c1", Message: "What day works for you?", Status: model.ConversationActive}
	rw = postForm(s, "/api/v1/channels/voice", url.Values{"From": {"+15551234567"}, "SpeechResult": {"I need a cleaning"}})
	var turn twiml
	if err := xml.Unmarshal(rw.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode twiml: %v", err)
	}
	if turn.Say != "What day works for you?" || turn.Gather == nil || turn.Hangup != nil {
		t.Fatalf("expected follow-up gather, got %+v", turn)
	}

	s.convs.reply.Status = model.ConversationEscalated
	rw = postForm(s, "/api/v1/channels/voice", url.Values{"From": {"+15551234567"}, "SpeechResult": {"let me talk to a human"}})
	var last twiml
	if err := xml.Unmarshal(rw.Body.Bytes(), &last); err != nil {
		t.Fatalf("decode twiml: %v", err)
	}
	if last.Hangup == nil || last.Gather != nil {
		t.Fatalf("expected hangup after escalation, got %+v", last)
	}
}
