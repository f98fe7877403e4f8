package aggregate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formsight/formsight/internal/period"
	"github.com/formsight/formsight/internal/store"
)

// Fetch and output caps. The coarse fetch is agency-only on purpose (no
// composite index needed on the submission table); everything below the cap
// happens in memory.
const (
	FetchLimit  = 500
	EntryLimit  = 100
	DetailLimit = 50
	TopStats    = 5
)

type SubmissionLister interface {
	ListByAgency(ctx context.Context, agencyID uuid.UUID, limit int) ([]store.SubmissionRecord, error)
}

type FormLister interface {
	ListByAgency(ctx context.Context, agencyID uuid.UUID) ([]store.FormDefinition, error)
}

type UserLister interface {
	ListByAgencyAndRole(ctx context.Context, agencyID uuid.UUID, role string) ([]store.AgencyUser, error)
}

// Query scopes one aggregation request.
type Query struct {
	AgencyID        uuid.UUID
	Window          period.Window
	FormID          *uuid.UUID
	UserID          *uuid.UUID
	SelectedFormIDs []uuid.UUID
}

type Totals struct {
	Entries     int `json:"entries"`
	UniqueUsers int `json:"unique_users"`
	UniqueForms int `json:"unique_forms"`
	TotalUsers  int `json:"total_users"`
	TotalForms  int `json:"total_forms"`
}

// StatEntry is a per-user or per-form submission count with a display label.
type StatEntry struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Count int       `json:"count"`
}

type TimelinePoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DetailEntry is one enriched submission in the capped detail export.
// Answers are keyed by the field's human label, falling back to the raw
// field id when the owning form or field definition is missing.
type DetailEntry struct {
	ID          uuid.UUID      `json:"id"`
	FormID      uuid.UUID      `json:"form_id"`
	FormTitle   string         `json:"form_title"`
	UserID      uuid.UUID      `json:"user_id"`
	UserName    string         `json:"user_name"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Answers     map[string]any `json:"answers"`
	IsToday     bool           `json:"is_today"`
	IsThisWeek  bool           `json:"is_this_week"`
}

// Result is built fresh per request and never persisted.
type Result struct {
	Totals              Totals          `json:"totals"`
	UserStats           []StatEntry     `json:"user_stats"`
	FormStats           []StatEntry     `json:"form_stats"`
	Timeline            []TimelinePoint `json:"timeline"`
	Submissions         []DetailEntry   `json:"submissions"`
	TodaySubmissions    int             `json:"today_submissions"`
	ThisWeekSubmissions int             `json:"this_week_submissions"`
}

// Aggregator summarizes an agency's submissions over a resolved window.
// It is a pure function of its inputs and store reads.
type Aggregator struct {
	submissions SubmissionLister
	forms       FormLister
	users       UserLister
	loc         *time.Location
}

func NewAggregator(submissions SubmissionLister, forms FormLister, users UserLister, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{submissions: submissions, forms: forms, users: users, loc: loc}
}

// Aggregate fetches, filters, and summarizes submissions. Any store failure
// aborts the whole aggregation; no partial result is returned.
func (a *Aggregator) Aggregate(ctx context.Context, q Query, now time.Time) (*Result, error) {
	candidates, err := a.submissions.ListByAgency(ctx, q.AgencyID, FetchLimit)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}

	// The org-wide form and user lookups are independent; run them together
	// and join before enrichment.
	var (
		wg       sync.WaitGroup
		forms    []store.FormDefinition
		users    []store.AgencyUser
		formsErr error
		usersErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		forms, formsErr = a.forms.ListByAgency(ctx, q.AgencyID)
	}()
	go func() {
		defer wg.Done()
		users, usersErr = a.users.ListByAgencyAndRole(ctx, q.AgencyID, "")
	}()
	wg.Wait()
	if formsErr != nil {
		return nil, fmt.Errorf("load forms: %w", formsErr)
	}
	if usersErr != nil {
		return nil, fmt.Errorf("load users: %w", usersErr)
	}

	filtered := filterSubmissions(candidates, q)
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].SubmittedAt.After(filtered[j].SubmittedAt)
	})
	if len(filtered) > EntryLimit {
		filtered = filtered[:EntryLimit]
	}

	formIndex := make(map[uuid.UUID]*store.FormDefinition, len(forms))
	for i := range forms {
		formIndex[forms[i].ID] = &forms[i]
	}
	userIndex := make(map[uuid.UUID]*store.AgencyUser, len(users))
	for i := range users {
		userIndex[users[i].ID] = &users[i]
	}

	result := &Result{
		Totals: Totals{
			Entries:    len(filtered),
			TotalUsers: len(users),
			TotalForms: len(forms),
		},
	}

	seenUsers := make(map[uuid.UUID]struct{})
	seenForms := make(map[uuid.UUID]struct{})
	for _, rec := range filtered {
		seenUsers[rec.UserID] = struct{}{}
		seenForms[rec.FormID] = struct{}{}
	}
	result.Totals.UniqueUsers = len(seenUsers)
	result.Totals.UniqueForms = len(seenForms)

	result.UserStats = topStats(filtered, func(rec store.SubmissionRecord) uuid.UUID { return rec.UserID },
		func(id uuid.UUID) string {
			if u, ok := userIndex[id]; ok {
				return u.Name
			}
			return "User " + id.String()
		})
	result.FormStats = topStats(filtered, func(rec store.SubmissionRecord) uuid.UUID { return rec.FormID },
		func(id uuid.UUID) string {
			if f, ok := formIndex[id]; ok {
				return f.Title
			}
			return "Form " + id.String()
		})

	result.Timeline = buildTimeline(filtered, a.loc)

	// Today/this-week flags are relative to the current calendar, not the
	// requested window.
	midnight := time.Date(now.In(a.loc).Year(), now.In(a.loc).Month(), now.In(a.loc).Day(), 0, 0, 0, 0, a.loc)
	weekStart := midnight.AddDate(0, 0, -((int(midnight.Weekday()) + 6) % 7))

	detailCount := len(filtered)
	if detailCount > DetailLimit {
		detailCount = DetailLimit
	}
	result.Submissions = make([]DetailEntry, 0, detailCount)
	for _, rec := range filtered {
		isToday := !rec.SubmittedAt.Before(midnight)
		isThisWeek := !rec.SubmittedAt.Before(weekStart)
		if isToday {
			result.TodaySubmissions++
		}
		if isThisWeek {
			result.ThisWeekSubmissions++
		}
		if len(result.Submissions) >= DetailLimit {
			continue
		}

		entry := DetailEntry{
			ID:          rec.ID,
			FormID:      rec.FormID,
			UserID:      rec.UserID,
			SubmittedAt: rec.SubmittedAt,
			IsToday:     isToday,
			IsThisWeek:  isThisWeek,
			Answers:     remapAnswers(rec.Answers, formIndex[rec.FormID]),
		}
		if form, ok := formIndex[rec.FormID]; ok {
			entry.FormTitle = form.Title
		} else {
			entry.FormTitle = "Form " + rec.FormID.String()
		}
		if user, ok := userIndex[rec.UserID]; ok {
			entry.UserName = user.Name
		} else {
			entry.UserName = "User " + rec.UserID.String()
		}
		result.Submissions = append(result.Submissions, entry)
	}

	return result, nil
}

func filterSubmissions(candidates []store.SubmissionRecord, q Query) []store.SubmissionRecord {
	selected := make(map[uuid.UUID]struct{}, len(q.SelectedFormIDs))
	for _, id := range q.SelectedFormIDs {
		selected[id] = struct{}{}
	}

	var out []store.SubmissionRecord
	for _, rec := range candidates {
		if !q.Window.Contains(rec.SubmittedAt) {
			continue
		}
		if q.FormID != nil && rec.FormID != *q.FormID {
			continue
		}
		if len(selected) > 0 {
			if _, ok := selected[rec.FormID]; !ok {
				continue
			}
		}
		if q.UserID != nil && rec.UserID != *q.UserID {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// topStats groups by key in first-seen order, then stable-sorts by count
// descending so ties keep their first-seen order.
func topStats(records []store.SubmissionRecord, key func(store.SubmissionRecord) uuid.UUID, label func(uuid.UUID) string) []StatEntry {
	counts := make(map[uuid.UUID]int)
	var order []uuid.UUID
	for _, rec := range records {
		id := key(rec)
		if _, ok := counts[id]; !ok {
			order = append(order, id)
		}
		counts[id]++
	}

	stats := make([]StatEntry, 0, len(order))
	for _, id := range order {
		stats = append(stats, StatEntry{ID: id, Name: label(id), Count: counts[id]})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Count > stats[j].Count })
	if len(stats) > TopStats {
		stats = stats[:TopStats]
	}
	return stats
}

func buildTimeline(records []store.SubmissionRecord, loc *time.Location) []TimelinePoint {
	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.SubmittedAt.In(loc).Format("2006-01-02")]++
	}
	points := make([]TimelinePoint, 0, len(counts))
	for date, count := range counts {
		points = append(points, TimelinePoint{Date: date, Count: count})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

func remapAnswers(answers map[string]any, form *store.FormDefinition) map[string]any {
	if len(answers) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(answers))
	for fieldID, value := range answers {
		if form != nil {
			out[form.FieldLabel(fieldID)] = value
		} else {
			out[fieldID] = value
		}
	}
	return out
}
