package dispatch

import (
	"fmt"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
)

// Message is the channel-neutral text handed to every notifier.
type Message struct {
	Subject string
	Body    string
}

func Render(business string, appt model.Appointment, occasion model.Occasion) Message {
	if business == "" {
		business = "Our office"
	}
	name := appt.CustomerName
	if name == "" {
		name = "there"
	}
	when := fmt.Sprintf("%s at %s", appt.Date, appt.Time)

	switch occasion {
	case model.OccasionConfirmation:
		return Message{
			Subject: fmt.Sprintf("%s: appointment booked", business),
			Body:    fmt.Sprintf("Hi %s, your %s appointment on %s is booked. Reply to this message if you need to change it.", name, appt.Service, when),
		}
	case model.OccasionReschedule:
		return Message{
			Subject: fmt.Sprintf("%s: appointment rescheduled", business),
			Body:    fmt.Sprintf("Hi %s, your %s appointment has been moved to %s.", name, appt.Service, when),
		}
	case model.OccasionCancellation:
		return Message{
			Subject: fmt.Sprintf("%s: appointment cancelled", business),
			Body:    fmt.Sprintf("Hi %s, your %s appointment on %s has been cancelled.", name, appt.Service, when),
		}
	case model.OccasionReminder:
		return Message{
			Subject: fmt.Sprintf("%s: appointment reminder", business),
			Body:    fmt.Sprintf("Hi %s, this is a reminder of your %s appointment on %s.", name, appt.Service, when),
		}
	default:
		return Message{
			Subject: business,
			Body:    fmt.Sprintf("Hi %s, there is an update to your %s appointment on %s.", name, appt.Service, when),
		}
	}
}
