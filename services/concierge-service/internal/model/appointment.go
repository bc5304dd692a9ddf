package model

import (
	"strings"
	"time"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusCompleted},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether from -> to is allowed. Staying in the same status is always allowed.
func CanTransition(from, to AppointmentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityVIP      Priority = "vip"
	PriorityUrgent   Priority = "urgent"
)

func ParsePriority(raw string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case PriorityVIP:
		return PriorityVIP
	case PriorityUrgent:
		return PriorityUrgent
	default:
		return PriorityStandard
	}
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Customer is the identity used to reach and match a customer.
type Customer struct {
	Name     string
	Email    string
	Phone    string
	Priority Priority
}

type Appointment struct {
	ID                 string
	CustomerName       string
	CustomerEmail      string
	CustomerPhone      string
	Priority           Priority
	Service            string
	Date               string // YYYY-MM-DD
	Time               string // HH:MM
	Status             AppointmentStatus
	AmountMinor        int64
	PaymentStatus      PaymentStatus
	PaymentReference   string
	LastReminderSentAt *time.Time
	ConversationID     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Reachable reports whether the customer can be notified directly.
func (a Appointment) Reachable() bool {
	return a.CustomerEmail != "" || a.CustomerPhone != ""
}

// NewAppointment carries the fields for a create call; the store assigns id and timestamps.
type NewAppointment struct {
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	Priority         Priority
	Service          string
	Date             string
	Time             string
	Status           AppointmentStatus
	AmountMinor      int64
	PaymentStatus    PaymentStatus
	PaymentReference string
	ConversationID   string
}

// AppointmentPatch is a partial update; nil fields are left untouched.
type AppointmentPatch struct {
	CustomerName       *string
	CustomerEmail      *string
	CustomerPhone      *string
	Priority           *Priority
	Service            *string
	Date               *string
	Time               *string
	Status             *AppointmentStatus
	AmountMinor        *int64
	PaymentStatus      *PaymentStatus
	PaymentReference   *string
	LastReminderSentAt *time.Time
}

// Apply copies the set fields of p onto a.
func (p AppointmentPatch) Apply(a *Appointment) {
	if p.CustomerName != nil {
		a.CustomerName = *p.CustomerName
	}
	if p.CustomerEmail != nil {
		a.CustomerEmail = *p.CustomerEmail
	}
	if p.CustomerPhone != nil {
		a.CustomerPhone = *p.CustomerPhone
	}
	if p.Priority != nil {
		a.Priority = *p.Priority
	}
	if p.Service != nil {
		a.Service = *p.Service
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.Time != nil {
		a.Time = *p.Time
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.AmountMinor != nil {
		a.AmountMinor = *p.AmountMinor
	}
	if p.PaymentStatus != nil {
		a.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentReference != nil {
		a.PaymentReference = *p.PaymentReference
	}
	if p.LastReminderSentAt != nil {
		t := *p.LastReminderSentAt
		a.LastReminderSentAt = &t
	}
}

// TouchesSchedule reports whether the patch moves the appointment in time or changes the service.
func (p AppointmentPatch) TouchesSchedule() bool {
	return p.Service != nil || p.Date != nil || p.Time != nil
}

// AllowedFrom reports whether the patch may be applied to an appointment currently in
// status s. A closed appointment accepts neither a status change nor a schedule change.
func (p AppointmentPatch) AllowedFrom(s AppointmentStatus) bool {
	if s.Terminal() {
		return p.Status == nil && !p.TouchesSchedule()
	}
	return p.Status == nil || CanTransition(s, *p.Status)
}

// NormalizePhone keeps digits and a leading '+', so "+1 (555) 123-4567" and
// "+15551234567" compare equal.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const DateLayout = "2006-01-02"

// ParseDate accepts the canonical layout plus a couple of forms the resolver is known to emit.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{DateLayout, "2006/01/02", "01/02/2006", "January 2, 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

const TimeLayout = "15:04"

// NormalizeTime converts "2pm", "2:30 PM" or "14:30" into HH:MM.
func NormalizeTime(raw string) (string, bool) {
	raw = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), ".", ""))
	for _, layout := range []string{TimeLayout, "15:04:05", "3:04 PM", "3:04PM", "3 PM", "3PM"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(TimeLayout), true
		}
	}
	return "", false
}
