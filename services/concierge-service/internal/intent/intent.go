package intent

import (
	"context"
	"errors"
	"strings"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/settings"
)

type Intent string

const (
	Booking    Intent = "booking"
	Reschedule Intent = "reschedule"
	Cancel     Intent = "cancel"
	Inquiry    Intent = "inquiry"
	FAQ        Intent = "faq"
	General    Intent = "general"
	Unknown    Intent = "unknown"
)

// Parse maps resolver output onto a known intent; anything else is Unknown.
func Parse(raw string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case Booking:
		return Booking
	case Reschedule:
		return Reschedule
	case Cancel:
		return Cancel
	case Inquiry:
		return Inquiry
	case FAQ:
		return FAQ
	case General:
		return General
	default:
		return Unknown
	}
}

type Entities struct {
	Name    string
	Email   string
	Phone   string
	Service string
	Date    string
	Time    string
}

type Result struct {
	Message            string
	Intent             Intent
	Sentiment          string
	RequiresEscalation bool
	Entities           Entities
}

type Request struct {
	Text     string
	History  []model.Message
	Settings settings.Business
}

type Resolver interface {
	Resolve(ctx context.Context, req Request) (Result, error)
}

var ErrUnavailable = errors.New("intent resolver not configured")

// Unavailable is used when no resolver address is configured; every turn degrades to Unknown.
type Unavailable struct{}

func (Unavailable) Resolve(context.Context, Request) (Result, error) {
	return Result{}, ErrUnavailable
}
