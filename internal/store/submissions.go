package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubmissionRecord is a form submission as persisted by the intake service.
// This package only ever reads them.
type SubmissionRecord struct {
	ID          uuid.UUID
	FormID      uuid.UUID
	UserID      uuid.UUID
	AgencyID    uuid.UUID
	SubmittedAt time.Time
	Answers     map[string]any
	Attachments []string
}

type SubmissionStore struct {
	db DB
}

func NewSubmissionStore(db DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

// ListByAgency fetches the most recent submissions for an agency, capped at
// limit. The query is deliberately scoped by agency alone so the table needs
// no composite index; callers filter by window, form, and user in memory.
func (s *SubmissionStore) ListByAgency(ctx context.Context, agencyID uuid.UUID, limit int) ([]SubmissionRecord, error) {
	query := `
		SELECT id, form_id, user_id, agency_id, submitted_at, answers, attachments
		FROM submissions
		WHERE agency_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, agencyID, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var records []SubmissionRecord
	for rows.Next() {
		var rec SubmissionRecord
		if err := rows.Scan(
			&rec.ID, &rec.FormID, &rec.UserID, &rec.AgencyID,
			&rec.SubmittedAt, &rec.Answers, &rec.Attachments,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return records, nil
}
