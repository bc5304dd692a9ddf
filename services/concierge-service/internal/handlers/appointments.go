package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
)

type AppointmentReader interface {
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context) ([]model.Appointment, error)
}

type AppointmentWriter interface {
	Create(ctx context.Context, in model.NewAppointment) (model.Appointment, []model.NotificationRequest, error)
	Update(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, []model.NotificationRequest, error)
	Cancel(ctx context.Context, id string) (model.Appointment, []model.NotificationRequest, error)
}

type Submitter interface {
	Submit(ctx context.Context, req model.NotificationRequest) bool
}

type AppointmentHandler struct {
	reader AppointmentReader
	writer AppointmentWriter
	notify Submitter
	logger *slog.Logger
}

func NewAppointmentHandler(reader AppointmentReader, writer AppointmentWriter, notify Submitter, logger *slog.Logger) *AppointmentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppointmentHandler{reader: reader, writer: writer, notify: notify, logger: logger}
}

type createAppointmentRequest struct {
	CustomerName     string `json:"customer_name" validate:"required,max=200"`
	CustomerEmail    string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone    string `json:"customer_phone" validate:"omitempty,max=32"`
	Priority         string `json:"priority" validate:"omitempty,oneof=standard vip urgent"`
	Service          string `json:"service" validate:"required,max=200"`
	Date             string `json:"date" validate:"required"`
	Time             string `json:"time" validate:"required"`
	Status           string `json:"status" validate:"omitempty,oneof=pending confirmed"`
	AmountMinor      int64  `json:"amount_minor" validate:"gte=0"`
	PaymentStatus    string `json:"payment_status" validate:"omitempty,oneof=pending paid failed refunded"`
	PaymentReference string `json:"payment_reference" validate:"omitempty,max=200"`
}

type updateAppointmentRequest struct {
	CustomerName     *string `json:"customer_name" validate:"omitempty,min=1,max=200"`
	CustomerEmail    *string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone    *string `json:"customer_phone" validate:"omitempty,max=32"`
	Priority         *string `json:"priority" validate:"omitempty,oneof=standard vip urgent"`
	Service          *string `json:"service" validate:"omitempty,min=1,max=200"`
	Date             *string `json:"date" validate:"omitempty,min=1"`
	Time             *string `json:"time" validate:"omitempty,min=1"`
	Status           *string `json:"status" validate:"omitempty,oneof=pending confirmed cancelled completed"`
	AmountMinor      *int64  `json:"amount_minor" validate:"omitempty,gt=0"`
	PaymentStatus    *string `json:"payment_status" validate:"omitempty,oneof=pending paid failed refunded"`
	PaymentReference *string `json:"payment_reference" validate:"omitempty,max=200"`
}

func (req updateAppointmentRequest) patch() model.AppointmentPatch {
	p := model.AppointmentPatch{
		CustomerName:     trimmed(req.CustomerName),
		CustomerEmail:    trimmed(req.CustomerEmail),
		CustomerPhone:    req.CustomerPhone,
		Service:          trimmed(req.Service),
		Date:             req.Date,
		Time:             req.Time,
		AmountMinor:      req.AmountMinor,
		PaymentReference: trimmed(req.PaymentReference),
	}
	if p.CustomerPhone != nil {
		phone := model.NormalizePhone(*p.CustomerPhone)
		p.CustomerPhone = &phone
	}
	if req.Priority != nil {
		pr := model.Priority(*req.Priority)
		p.Priority = &pr
	}
	if req.Status != nil {
		st := model.AppointmentStatus(*req.Status)
		p.Status = &st
	}
	if req.PaymentStatus != nil {
		ps := model.PaymentStatus(*req.PaymentStatus)
		p.PaymentStatus = &ps
	}
	return p
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

type listAppointmentsResponse struct {
	Appointments []appointmentView `json:"appointments"`
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.reader.ListAppointments(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))

	resp := listAppointmentsResponse{Appointments: make([]appointmentView, 0, len(items))}
	for _, a := range items {
		if status != "" && string(a.Status) != status {
			continue
		}
		if date != "" && a.Date != date {
			continue
		}
		resp.Appointments = append(resp.Appointments, viewAppointment(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.reader.GetAppointment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAppointment(appt))
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		return
	}

	appt, reqs, err := h.writer.Create(r.Context(), model.NewAppointment{
		CustomerName:     strings.TrimSpace(req.CustomerName),
		CustomerEmail:    strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:    model.NormalizePhone(req.CustomerPhone),
		Priority:         model.Priority(req.Priority),
		Service:          strings.TrimSpace(req.Service),
		Date:             req.Date,
		Time:             req.Time,
		Status:           model.AppointmentStatus(req.Status),
		AmountMinor:      req.AmountMinor,
		PaymentStatus:    model.PaymentStatus(req.PaymentStatus),
		PaymentReference: strings.TrimSpace(req.PaymentReference),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.submit(r.Context(), reqs)
	writeJSON(w, http.StatusCreated, viewAppointment(appt))
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		return
	}

	appt, reqs, err := h.writer.Update(r.Context(), r.PathValue("id"), req.patch())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.submit(r.Context(), reqs)
	writeJSON(w, http.StatusOK, viewAppointment(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	appt, reqs, err := h.writer.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.submit(r.Context(), reqs)
	writeJSON(w, http.StatusOK, viewAppointment(appt))
}

func (h *AppointmentHandler) submit(ctx context.Context, reqs []model.NotificationRequest) {
	for _, req := range reqs {
		if h.notify == nil || !h.notify.Submit(ctx, req) {
			h.logger.Warn("notification not queued", "appointment_id", req.Appointment.ID, "occasion", req.Occasion)
		}
	}
}
