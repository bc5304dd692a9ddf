package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptconcierge/libs/db"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

const appointmentColumns = `
	id, customer_name, customer_email, customer_phone, priority, service,
	appointment_date, appointment_time, status, amount_minor, payment_status, payment_reference,
	last_reminder_sent_at, conversation_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var lastReminder *time.Time
	var conversationID *string
	err := row.Scan(
		&appt.ID,
		&appt.CustomerName,
		&appt.CustomerEmail,
		&appt.CustomerPhone,
		&appt.Priority,
		&appt.Service,
		&appt.Date,
		&appt.Time,
		&appt.Status,
		&appt.AmountMinor,
		&appt.PaymentStatus,
		&appt.PaymentReference,
		&lastReminder,
		&conversationID,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.LastReminderSentAt = lastReminder
	if conversationID != nil {
		appt.ConversationID = *conversationID
	}
	return appt, nil
}

func (r *AppointmentRepository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, ErrNotFound
	}
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

// ListAppointments returns every appointment ordered by creation time, oldest first.
func (r *AppointmentRepository) ListAppointments(ctx context.Context) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func (r *AppointmentRepository) CreateAppointment(ctx context.Context, in model.NewAppointment) (model.Appointment, error) {
	var conversationID *string
	if in.ConversationID != "" {
		conversationID = &in.ConversationID
	}
	return scanAppointment(r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, customer_name, customer_email, customer_phone, priority, service,
			 appointment_date, appointment_time, status, amount_minor, payment_status, payment_reference, conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+appointmentColumns,
		uuid.NewString(), in.CustomerName, in.CustomerEmail, in.CustomerPhone, in.Priority, in.Service,
		in.Date, in.Time, in.Status, in.AmountMinor, in.PaymentStatus, in.PaymentReference, conversationID))
}

// UpdateAppointment locks the row, checks the patch against the locked status, applies
// it and writes every column back.
func (r *AppointmentRepository) UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, ErrNotFound
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	if !patch.AllowedFrom(appt.Status) {
		return model.Appointment{}, fmt.Errorf("%w: appointment is %s", ErrTransitionRejected, appt.Status)
	}
	patch.Apply(&appt)

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET customer_name = $2,
			customer_email = $3,
			customer_phone = $4,
			priority = $5,
			service = $6,
			appointment_date = $7,
			appointment_time = $8,
			status = $9,
			amount_minor = $10,
			payment_status = $11,
			payment_reference = $12,
			last_reminder_sent_at = $13,
			updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, appt.CustomerName, appt.CustomerEmail, appt.CustomerPhone, appt.Priority, appt.Service,
		appt.Date, appt.Time, appt.Status, appt.AmountMinor, appt.PaymentStatus, appt.PaymentReference,
		appt.LastReminderSentAt))
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return updated, nil
}
