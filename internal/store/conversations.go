package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ConversationMessage is one turn of an insights conversation.
type ConversationMessage struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	TokensUsed     int
	CreatedAt      time.Time
}

type Conversation struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ConversationStore struct {
	db DB
}

func NewConversationStore(db DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// GetOrCreate returns the existing conversation when the client supplied an
// id, so a retried request continues the same history instead of forking a
// duplicate. A nil id creates a fresh conversation titled from the question.
func (s *ConversationStore) GetOrCreate(ctx context.Context, accountID uuid.UUID, conversationID *uuid.UUID, titleHint string) (*Conversation, error) {
	if conversationID != nil {
		var conv Conversation
		err := s.db.QueryRow(ctx, `
			SELECT id, account_id, title, created_at, updated_at
			FROM conversations
			WHERE id = $1 AND account_id = $2
		`, *conversationID, accountID).Scan(&conv.ID, &conv.AccountID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
		if err == nil {
			return &conv, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lookup conversation: %w", err)
		}
		// Unknown id: create it under the supplied id so the client's retry
		// key stays stable.
		return s.create(ctx, *conversationID, accountID, titleHint)
	}
	return s.create(ctx, uuid.New(), accountID, titleHint)
}

func (s *ConversationStore) create(ctx context.Context, id, accountID uuid.UUID, titleHint string) (*Conversation, error) {
	title := titleHint
	if len(title) > 120 {
		title = title[:120]
	}
	var conv Conversation
	err := s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, account_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, account_id, title, created_at, updated_at
	`, id, accountID, title).Scan(&conv.ID, &conv.AccountID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

// Append records one message and bumps the conversation's updated_at.
func (s *ConversationStore) Append(ctx context.Context, conversationID uuid.UUID, role, content string, tokensUsed int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversation_messages (conversation_id, role, content, tokens_used)
		VALUES ($1, $2, $3, $4)
	`, conversationID, role, content, tokensUsed)
	if err != nil {
		return fmt.Errorf("append conversation message: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// Messages returns the conversation history in chronological order.
func (s *ConversationStore) Messages(ctx context.Context, accountID, conversationID uuid.UUID) ([]ConversationMessage, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1 AND account_id = $2)`,
		conversationID, accountID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, role, content, tokens_used, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query conversation messages: %w", err)
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.TokensUsed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation messages: %w", err)
	}
	return messages, nil
}
