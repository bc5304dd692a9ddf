package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/reminders"
)

type ReminderService interface {
	SendReminder(ctx context.Context, id string) (reminders.ReminderResult, error)
	RunSweep(ctx context.Context) (reminders.SweepReport, error)
}

type ReminderHandler struct {
	svc    ReminderService
	logger *slog.Logger
}

func NewReminderHandler(svc ReminderService, logger *slog.Logger) *ReminderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderHandler{svc: svc, logger: logger}
}

type sendReminderResponse struct {
	AppointmentID string       `json:"appointment_id"`
	Skipped       bool         `json:"skipped"`
	Reason        string       `json:"reason,omitempty"`
	Outcome       *outcomeView `json:"outcome,omitempty"`
	Error         string       `json:"error,omitempty"`
}

type sweepItemView struct {
	AppointmentID string       `json:"appointment_id"`
	Result        string       `json:"result"`
	Outcome       *outcomeView `json:"outcome,omitempty"`
	Error         string       `json:"error,omitempty"`
}

type sweepResponse struct {
	StartedAt  string          `json:"started_at"`
	FinishedAt string          `json:"finished_at"`
	TargetDate string          `json:"target_date"`
	Scanned    int             `json:"scanned"`
	Due        int             `json:"due"`
	Items      []sweepItemView `json:"items"`
}

func (h *ReminderHandler) Send(w http.ResponseWriter, r *http.Request) {
	// A claimed reminder is always dispatched, even if the caller goes away.
	res, err := h.svc.SendReminder(context.WithoutCancel(r.Context()), r.PathValue("id"))
	resp := sendReminderResponse{
		AppointmentID: res.AppointmentID,
		Skipped:       res.Skipped,
		Reason:        res.Reason,
		Outcome:       viewOutcome(res.Outcome),
	}
	if err != nil {
		if !errors.Is(err, reminders.ErrDeliveryFailed) {
			writeError(w, r, h.logger, err)
			return
		}
		h.logger.Warn("manual reminder failed", "appointment_id", res.AppointmentID, "err", err)
		resp.Error = "reminder delivery failed on every channel"
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ReminderHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RunSweep(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := sweepResponse{
		StartedAt:  report.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: report.FinishedAt.UTC().Format(time.RFC3339),
		TargetDate: report.TargetDate,
		Scanned:    report.Scanned,
		Due:        report.Due,
		Items:      make([]sweepItemView, 0, len(report.Items)),
	}
	for _, it := range report.Items {
		resp.Items = append(resp.Items, sweepItemView{
			AppointmentID: it.AppointmentID,
			Result:        it.Result,
			Outcome:       viewOutcome(it.Outcome),
			Error:         it.Err,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
