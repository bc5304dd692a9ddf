package model

import "time"

type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
	ChannelAPI   Channel = "api"
)

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationEscalated ConversationStatus = "escalated"
)

type Conversation struct {
	ID            string
	Channel       Channel
	Status        ConversationStatus
	Sentiment     string
	LastIntent    string
	Customer      Customer
	AppointmentID string
	StartedAt     time.Time
	LastMessageAt time.Time
}

type ConversationPatch struct {
	Status        *ConversationStatus
	Sentiment     *string
	LastIntent    *string
	Customer      *Customer
	AppointmentID *string
	LastMessageAt *time.Time
}

func (p ConversationPatch) Apply(c *Conversation) {
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Sentiment != nil {
		c.Sentiment = *p.Sentiment
	}
	if p.LastIntent != nil {
		c.LastIntent = *p.LastIntent
	}
	if p.Customer != nil {
		c.Customer = *p.Customer
	}
	if p.AppointmentID != nil {
		c.AppointmentID = *p.AppointmentID
	}
	if p.LastMessageAt != nil {
		c.LastMessageAt = *p.LastMessageAt
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
}
