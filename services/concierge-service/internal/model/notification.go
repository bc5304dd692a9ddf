package model

// Occasion is the reason a notification is sent.
type Occasion string

const (
	OccasionConfirmation Occasion = "confirmation"
	OccasionReschedule   Occasion = "reschedule"
	OccasionCancellation Occasion = "cancellation"
	OccasionReminder     Occasion = "reminder"
)

// NotificationRequest asks for one dispatch of Occasion for an appointment snapshot.
type NotificationRequest struct {
	Occasion    Occasion
	Appointment Appointment
}

type NotifyChannel string

const (
	NotifyEmail     NotifyChannel = "email"
	NotifySMS       NotifyChannel = "sms"
	NotifyDirectory NotifyChannel = "directory"
)

type ChannelStatus string

const (
	ChannelSent    ChannelStatus = "sent"
	ChannelFailed  ChannelStatus = "failed"
	ChannelSkipped ChannelStatus = "skipped"
)

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomePartial OutcomeStatus = "partial"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

type ChannelResult struct {
	Channel NotifyChannel
	Status  ChannelStatus
	Err     error
}

// Outcome is the aggregate of one dispatch attempt. It is never persisted.
type Outcome struct {
	AppointmentID string
	Occasion      Occasion
	Channels      []ChannelResult
	Status        OutcomeStatus
}

// Summarize derives the overall status from the per-channel results.
func Summarize(results []ChannelResult) OutcomeStatus {
	var attempted, failed int
	for _, r := range results {
		switch r.Status {
		case ChannelSent:
			attempted++
		case ChannelFailed:
			attempted++
			failed++
		}
	}
	switch {
	case attempted == 0:
		return OutcomeSkipped
	case failed == attempted:
		return OutcomeFailed
	case failed > 0:
		return OutcomePartial
	default:
		return OutcomeSuccess
	}
}

// Errors returns the errors of failed channels.
func (o Outcome) Errors() []error {
	var errs []error
	for _, r := range o.Channels {
		if r.Status == ChannelFailed && r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
