package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/apptconcierge/libs/httpx"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/conversation"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/reminders"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/storage"
)

// Routes wires the API onto a mux. Operator guards appointment and reminder
// routes; Webhook guards the inbound channel routes. Either may be nil.
type Routes struct {
	Chat         *ChatHandler
	Appointments *AppointmentHandler
	Reminders    *ReminderHandler
	Operator     httpx.Middleware
	Webhook      httpx.Middleware
}

func (rt Routes) Register(mux *http.ServeMux) {
	operator := orPassThrough(rt.Operator)
	webhook := orPassThrough(rt.Webhook)

	if rt.Chat != nil {
		mux.Handle("POST /api/v1/chat", webhook(http.HandlerFunc(rt.Chat.Chat)))
		mux.Handle("POST /api/v1/channels/sms", webhook(http.HandlerFunc(rt.Chat.SMS)))
		mux.Handle("POST /api/v1/channels/voice", webhook(http.HandlerFunc(rt.Chat.Voice)))
	}
	if rt.Appointments != nil {
		mux.Handle("GET /api/v1/appointments", operator(http.HandlerFunc(rt.Appointments.List)))
		mux.Handle("POST /api/v1/appointments", operator(http.HandlerFunc(rt.Appointments.Create)))
		mux.Handle("GET /api/v1/appointments/{id}", operator(http.HandlerFunc(rt.Appointments.Get)))
		mux.Handle("PATCH /api/v1/appointments/{id}", operator(http.HandlerFunc(rt.Appointments.Update)))
		mux.Handle("POST /api/v1/appointments/{id}/cancel", operator(http.HandlerFunc(rt.Appointments.Cancel)))
	}
	if rt.Reminders != nil {
		mux.Handle("POST /api/v1/reminders/{id}/send", operator(http.HandlerFunc(rt.Reminders.Send)))
		mux.Handle("POST /api/v1/reminders/sweep", operator(http.HandlerFunc(rt.Reminders.Sweep)))
	}
}

func orPassThrough(m httpx.Middleware) httpx.Middleware {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return m
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validationMessage flattens validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", field, fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case storage.IsNotFound(err), errors.Is(err, conversation.ErrNotFound), errors.Is(err, reminders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, reminders.ErrAppointmentClosed), errors.Is(err, reminders.ErrSweepLocked):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidAppointment), errors.Is(err, conversation.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, reminders.ErrDeliveryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

type appointmentView struct {
	ID                 string `json:"id"`
	CustomerName       string `json:"customer_name"`
	CustomerEmail      string `json:"customer_email,omitempty"`
	CustomerPhone      string `json:"customer_phone,omitempty"`
	Priority           string `json:"priority"`
	Service            string `json:"service"`
	Date               string `json:"date"`
	Time               string `json:"time"`
	Status             string `json:"status"`
	AmountMinor        int64  `json:"amount_minor"`
	PaymentStatus      string `json:"payment_status"`
	PaymentReference   string `json:"payment_reference,omitempty"`
	LastReminderSentAt string `json:"last_reminder_sent_at,omitempty"`
	ConversationID     string `json:"conversation_id,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

func viewAppointment(a model.Appointment) appointmentView {
	v := appointmentView{
		ID:               a.ID,
		CustomerName:     a.CustomerName,
		CustomerEmail:    a.CustomerEmail,
		CustomerPhone:    a.CustomerPhone,
		Priority:         string(a.Priority),
		Service:          a.Service,
		Date:             a.Date,
		Time:             a.Time,
		Status:           string(a.Status),
		AmountMinor:      a.AmountMinor,
		PaymentStatus:    string(a.PaymentStatus),
		PaymentReference: a.PaymentReference,
		ConversationID:   a.ConversationID,
		CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.LastReminderSentAt != nil {
		v.LastReminderSentAt = a.LastReminderSentAt.UTC().Format(time.RFC3339)
	}
	return v
}

type channelView struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type outcomeView struct {
	AppointmentID string        `json:"appointment_id"`
	Occasion      string        `json:"occasion"`
	Status        string        `json:"status"`
	Channels      []channelView `json:"channels"`
}

func viewOutcome(o *model.Outcome) *outcomeView {
	if o == nil {
		return nil
	}
	v := &outcomeView{
		AppointmentID: o.AppointmentID,
		Occasion:      string(o.Occasion),
		Status:        string(o.Status),
		Channels:      make([]channelView, 0, len(o.Channels)),
	}
	for _, c := range o.Channels {
		cv := channelView{Channel: string(c.Channel), Status: string(c.Status)}
		if c.Err != nil {
			cv.Error = c.Err.Error()
		}
		v.Channels = append(v.Channels, cv)
	}
	return v
}
