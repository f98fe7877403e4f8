package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AgencyUser is a member of an agency that can submit forms.
type AgencyUser struct {
	ID    uuid.UUID
	Name  string
	Email string
	Role  string
}

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

// ListByAgencyAndRole returns the agency's members, optionally filtered by
// role. An empty role matches everyone.
func (s *UserStore) ListByAgencyAndRole(ctx context.Context, agencyID uuid.UUID, role string) ([]AgencyUser, error) {
	query := `
		SELECT id, name, email, role
		FROM agency_users
		WHERE agency_id = $1 AND ($2 = '' OR role = $2)
		ORDER BY name
	`
	rows, err := s.db.Query(ctx, query, agencyID, role)
	if err != nil {
		return nil, fmt.Errorf("query agency users: %w", err)
	}
	defer rows.Close()

	var users []AgencyUser
	for rows.Next() {
		var u AgencyUser
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role); err != nil {
			return nil, fmt.Errorf("scan agency user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agency users: %w", err)
	}
	return users, nil
}
