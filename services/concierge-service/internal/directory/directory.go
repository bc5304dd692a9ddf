package directory

import (
	"context"
	"time"
)

// Contact is one upsert into the mailing-list directory.
type Contact struct {
	AppointmentID string    `json:"appointment_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Service       string    `json:"service"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Status        string    `json:"status"`
	Occasion      string    `json:"occasion"`
	Tags          []string  `json:"tags,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Syncer interface {
	Sync(ctx context.Context, c Contact) error
	Name() string
}
