package handlers

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/conversation"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, in conversation.InboundMessage) (conversation.Reply, error)
}

type ChatHandler struct {
	conversations MessageHandler
	greeting      string
	voiceAction   string
	logger        *slog.Logger
}

func NewChatHandler(conversations MessageHandler, businessName string, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	greeting := "Hi, thanks for calling. How can I help you today?"
	if name := strings.TrimSpace(businessName); name != "" {
		greeting = "Hi, thanks for calling " + name + ". How can I help you today?"
	}
	return &ChatHandler{
		conversations: conversations,
		greeting:      greeting,
		voiceAction:   "/api/v1/channels/voice",
		logger:        logger,
	}
}

type chatRequest struct {
	Message        string `json:"message" validate:"required,max=4000"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=64"`
	CustomerName   string `json:"customer_name" validate:"omitempty,max=200"`
	CustomerEmail  string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone  string `json:"customer_phone" validate:"omitempty,max=32"`
	Priority       string `json:"priority" validate:"omitempty,oneof=standard vip urgent"`
}

type chatResponse struct {
	ConversationID     string           `json:"conversation_id"`
	Message            string           `json:"message"`
	Intent             string           `json:"intent"`
	Sentiment          string           `json:"sentiment,omitempty"`
	RequiresEscalation bool             `json:"requires_escalation"`
	Status             string           `json:"status"`
	Appointment        *appointmentView `json:"appointment,omitempty"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		return
	}

	reply, err := h.conversations.HandleMessage(r.Context(), conversation.InboundMessage{
		Channel:        model.ChannelChat,
		ConversationID: strings.TrimSpace(req.ConversationID),
		Text:           req.Message,
		Customer: model.Customer{
			Name:     strings.TrimSpace(req.CustomerName),
			Email:    strings.TrimSpace(req.CustomerEmail),
			Phone:    req.CustomerPhone,
			Priority: model.Priority(req.Priority),
		},
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := chatResponse{
		ConversationID:     reply.ConversationID,
		Message:            reply.Message,
		Intent:             string(reply.Intent),
		Sentiment:          reply.Sentiment,
		RequiresEscalation: reply.RequiresEscalation,
		Status:             string(reply.Status),
	}
	if reply.Appointment != nil {
		v := viewAppointment(*reply.Appointment)
		resp.Appointment = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

// twiml is the provider's XML reply format for SMS and voice webhooks.
type twiml struct {
	XMLName xml.Name  `xml:"Response"`
	Say     string    `xml:"Say,omitempty"`
	Message string    `xml:"Message,omitempty"`
	Gather  *gather   `xml:"Gather,omitempty"`
	Hangup  *struct{} `xml:"Hangup,omitempty"`
}

type gather struct {
	Input         string `xml:"input,attr"`
	Action        string `xml:"action,attr"`
	Method        string `xml:"method,attr"`
	SpeechTimeout string `xml:"speechTimeout,attr,omitempty"`
}

func writeTwiML(w http.ResponseWriter, resp twiml) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(resp)
}

const channelErrorReply = "Sorry, something went wrong on our side. Please try again later."

func (h *ChatHandler) SMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	from := strings.TrimSpace(r.PostForm.Get("From"))
	body := strings.TrimSpace(r.PostForm.Get("Body"))
	if from == "" || body == "" {
		http.Error(w, "missing From or Body", http.StatusBadRequest)
		return
	}

	reply, err := h.conversations.HandleMessage(r.Context(), conversation.InboundMessage{
		Channel: model.ChannelSMS,
		From:    from,
		Text:    body,
	})
	if err != nil {
		h.logger.Error("sms webhook failed", "err", err)
		writeTwiML(w, twiml{Message: channelErrorReply})
		return
	}
	writeTwiML(w, twiml{Message: reply.Message})
}

func (h *ChatHandler) Voice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	from := strings.TrimSpace(r.PostForm.Get("From"))
	speech := strings.TrimSpace(r.PostForm.Get("SpeechResult"))
	if speech == "" {
		// Call just connected or the caller said nothing.
		writeTwiML(w, twiml{Say: h.greeting, Gather: h.gather()})
		return
	}

	reply, err := h.conversations.HandleMessage(r.Context(), conversation.InboundMessage{
		Channel: model.ChannelVoice,
		From:    from,
		Text:    speech,
	})
	if err != nil {
		h.logger.Error("voice webhook failed", "err", err)
		writeTwiML(w, twiml{Say: channelErrorReply, Hangup: &struct{}{}})
		return
	}
	if reply.Status != model.ConversationActive {
		writeTwiML(w, twiml{Say: reply.Message, Hangup: &struct{}{}})
		return
	}
	writeTwiML(w, twiml{Say: reply.Message, Gather: h.gather()})
}

func (h *ChatHandler) gather() *gather {
	return &gather{Input: "speech", Action: h.voiceAction, Method: http.MethodPost, SpeechTimeout: "auto"}
}
