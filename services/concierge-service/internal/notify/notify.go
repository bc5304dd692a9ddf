package notify

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/directory"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/dispatch"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/email"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/sms"
)

// Email needs a customer email address.
type Email struct {
	sender email.Sender
}

func NewEmail(sender email.Sender) *Email {
	return &Email{sender: sender}
}

func (n *Email) Channel() model.NotifyChannel { return model.NotifyEmail }

func (n *Email) Applies(appt model.Appointment, _ model.Occasion) bool {
	return appt.CustomerEmail != ""
}

func (n *Email) Send(ctx context.Context, appt model.Appointment, _ model.Occasion, msg dispatch.Message) error {
	return n.sender.Send(ctx, appt.CustomerEmail, msg.Subject, msg.Body)
}

// SMS needs a customer phone number.
type SMS struct {
	sender sms.Sender
}

func NewSMS(sender sms.Sender) *SMS {
	return &SMS{sender: sender}
}

func (n *SMS) Channel() model.NotifyChannel { return model.NotifySMS }

func (n *SMS) Applies(appt model.Appointment, _ model.Occasion) bool {
	return appt.CustomerPhone != ""
}

func (n *SMS) Send(ctx context.Context, appt model.Appointment, _ model.Occasion, msg dispatch.Message) error {
	return n.sender.Send(ctx, appt.CustomerPhone, msg.Body)
}

// Directory keeps the mailing list in step with lifecycle changes. Reminders are not synced.
type Directory struct {
	syncer directory.Syncer
	now    func() time.Time
}

func NewDirectory(syncer directory.Syncer) *Directory {
	return &Directory{syncer: syncer, now: func() time.Time { return time.Now().UTC() }}
}

func (n *Directory) Channel() model.NotifyChannel { return model.NotifyDirectory }

func (n *Directory) Applies(_ model.Appointment, occasion model.Occasion) bool {
	return n.syncer != nil && occasion != model.OccasionReminder
}

func (n *Directory) Send(ctx context.Context, appt model.Appointment, occasion model.Occasion, _ dispatch.Message) error {
	return n.syncer.Sync(ctx, directory.Contact{
		AppointmentID: appt.ID,
		Name:          appt.CustomerName,
		Email:         appt.CustomerEmail,
		Phone:         appt.CustomerPhone,
		Service:       appt.Service,
		Date:          appt.Date,
		Time:          appt.Time,
		Status:        string(appt.Status),
		Occasion:      string(occasion),
		Tags:          tags(appt),
		OccurredAt:    n.now(),
	})
}

func tags(appt model.Appointment) []string {
	out := []string{"service:" + appt.Service}
	if appt.Priority != "" && appt.Priority != model.PriorityStandard {
		out = append(out, "priority:"+string(appt.Priority))
	}
	return out
}

// Build returns the notifiers enabled for this process. A nil syncer disables directory sync.
func Build(emailSender email.Sender, smsSender sms.Sender, syncer directory.Syncer) []dispatch.Notifier {
	var out []dispatch.Notifier
	if emailSender != nil {
		out = append(out, NewEmail(emailSender))
	}
	if smsSender != nil {
		out = append(out, NewSMS(smsSender))
	}
	if syncer != nil {
		out = append(out, NewDirectory(syncer))
	}
	return out
}
