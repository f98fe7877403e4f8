package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UsageEntry records one settled analysis request for audit and reporting.
type UsageEntry struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	ConversationID  uuid.UUID
	EstimatedTokens int
	ActualTokens    int
	ChargedTokens   int
	Fallback        bool
	CreatedAt       time.Time
}

type UsageLogStore struct {
	db DB
}

func NewUsageLogStore(db DB) *UsageLogStore {
	return &UsageLogStore{db: db}
}

func (s *UsageLogStore) Insert(ctx context.Context, entry *UsageEntry) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO usage_log (account_id, conversation_id, estimated_tokens, actual_tokens, charged_tokens, fallback)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		entry.AccountID, entry.ConversationID,
		entry.EstimatedTokens, entry.ActualTokens, entry.ChargedTokens, entry.Fallback,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage entry: %w", err)
	}
	return nil
}

// TotalsForAccount sums charged tokens inside a window, for the quota
// snapshot endpoint.
func (s *UsageLogStore) TotalsForAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(charged_tokens), 0)
		FROM usage_log
		WHERE account_id = $1 AND created_at >= $2 AND created_at <= $3
	`, accountID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage entries: %w", err)
	}
	return total, nil
}
