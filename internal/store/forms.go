package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// FormField is one question definition inside a form.
type FormField struct {
	ID    string
	Label string
}

// FormDefinition is the subset of a form the insights pipeline needs: its
// title for stats and its field labels for answer remapping.
type FormDefinition struct {
	ID     uuid.UUID
	Title  string
	Fields []FormField
}

// FieldLabel resolves a field id to its human label; it falls back to the id
// when the field definition is missing.
func (f *FormDefinition) FieldLabel(fieldID string) string {
	for _, field := range f.Fields {
		if field.ID == fieldID {
			return field.Label
		}
	}
	return fieldID
}

type FormStore struct {
	db DB
}

func NewFormStore(db DB) *FormStore {
	return &FormStore{db: db}
}

// ListByAgency returns every form owned by the agency with its fields.
func (s *FormStore) ListByAgency(ctx context.Context, agencyID uuid.UUID) ([]FormDefinition, error) {
	query := `
		SELECT f.id, f.title, ff.field_id, ff.label
		FROM forms f
		LEFT JOIN form_fields ff ON ff.form_id = f.id
		WHERE f.agency_id = $1
		ORDER BY f.id, ff.position
	`
	rows, err := s.db.Query(ctx, query, agencyID)
	if err != nil {
		return nil, fmt.Errorf("query forms: %w", err)
	}
	defer rows.Close()

	var forms []FormDefinition
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			id      uuid.UUID
			title   string
			fieldID *string
			label   *string
		)
		if err := rows.Scan(&id, &title, &fieldID, &label); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		pos, ok := index[id]
		if !ok {
			forms = append(forms, FormDefinition{ID: id, Title: title})
			pos = len(forms) - 1
			index[id] = pos
		}
		if fieldID != nil {
			fieldLabel := ""
			if label != nil {
				fieldLabel = *label
			}
			forms[pos].Fields = append(forms[pos].Fields, FormField{ID: *fieldID, Label: fieldLabel})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return forms, nil
}
