package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptconcierge/libs/db"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/model"
)

type ConversationRepository struct {
	pool *db.Pool
}

func NewConversationRepository(pool *db.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

const conversationColumns = `
	id, channel, status, sentiment, last_intent,
	customer_name, customer_email, customer_phone, customer_priority,
	appointment_id, started_at, last_message_at`

func scanConversation(row pgx.Row) (model.Conversation, error) {
	var conv model.Conversation
	var appointmentID *string
	err := row.Scan(
		&conv.ID,
		&conv.Channel,
		&conv.Status,
		&conv.Sentiment,
		&conv.LastIntent,
		&conv.Customer.Name,
		&conv.Customer.Email,
		&conv.Customer.Phone,
		&conv.Customer.Priority,
		&appointmentID,
		&conv.StartedAt,
		&conv.LastMessageAt,
	)
	if err != nil {
		return model.Conversation{}, err
	}
	if appointmentID != nil {
		conv.AppointmentID = *appointmentID
	}
	return conv, nil
}

func (r *ConversationRepository) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Conversation{}, ErrNotFound
	}
	conv, err := scanConversation(r.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Conversation{}, ErrNotFound
	}
	return conv, err
}

// FindActiveByPhone returns the most recently active conversation for a phone on a channel.
func (r *ConversationRepository) FindActiveByPhone(ctx context.Context, channel model.Channel, phone string) (model.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status = 'active' AND channel = $1 AND customer_phone = $2
		ORDER BY last_message_at DESC
		LIMIT 1
	`, channel, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Conversation{}, ErrNotFound
	}
	return conv, err
}

func (r *ConversationRepository) CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Status == "" {
		conv.Status = model.ConversationActive
	}
	if conv.Customer.Priority == "" {
		conv.Customer.Priority = model.PriorityStandard
	}
	return scanConversation(r.pool.QueryRow(ctx, `
		INSERT INTO conversations
			(id, channel, status, sentiment, last_intent, customer_name, customer_email, customer_phone, customer_priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+conversationColumns,
		conv.ID, conv.Channel, conv.Status, conv.Sentiment, conv.LastIntent,
		conv.Customer.Name, conv.Customer.Email, conv.Customer.Phone, conv.Customer.Priority))
}

func (r *ConversationRepository) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (model.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Conversation{}, ErrNotFound
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Conversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conv, err := scanConversation(tx.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Conversation{}, ErrNotFound
		}
		return model.Conversation{}, err
	}
	patch.Apply(&conv)

	var appointmentID *string
	if conv.AppointmentID != "" {
		appointmentID = &conv.AppointmentID
	}
	updated, err := scanConversation(tx.QueryRow(ctx, `
		UPDATE conversations
		SET status = $2,
			sentiment = $3,
			last_intent = $4,
			customer_name = $5,
			customer_email = $6,
			customer_phone = $7,
			customer_priority = $8,
			appointment_id = $9,
			last_message_at = $10
		WHERE id = $1
		RETURNING `+conversationColumns,
		id, conv.Status, conv.Sentiment, conv.LastIntent,
		conv.Customer.Name, conv.Customer.Email, conv.Customer.Phone, conv.Customer.Priority,
		appointmentID, conv.LastMessageAt))
	if err != nil {
		return model.Conversation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Conversation{}, err
	}
	return updated, nil
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, msg model.Message) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_messages (conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)
	`, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt)
	return err
}

// RecentMessages returns up to limit messages, oldest first.
func (r *ConversationRepository) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT conversation_id, role, content, created_at
		FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
