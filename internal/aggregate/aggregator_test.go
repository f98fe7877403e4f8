package aggregate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/formsight/formsight/internal/period"
	"github.com/formsight/formsight/internal/store"
)

type fakeStores struct {
	submissions []store.SubmissionRecord
	forms       []store.FormDefinition
	users       []store.AgencyUser

	submissionsErr error
	formsErr       error
	usersErr       error
}

func (f *fakeStores) ListByAgency(_ context.Context, _ uuid.UUID, limit int) ([]store.SubmissionRecord, error) {
	if f.submissionsErr != nil {
		return nil, f.submissionsErr
	}
	if len(f.submissions) > limit {
		return f.submissions[:limit], nil
	}
	return f.submissions, nil
}

type fakeForms struct{ parent *fakeStores }

func (f fakeForms) ListByAgency(_ context.Context, _ uuid.UUID) ([]store.FormDefinition, error) {
	return f.parent.forms, f.parent.formsErr
}

type fakeUsers struct{ parent *fakeStores }

func (f fakeUsers) ListByAgencyAndRole(_ context.Context, _ uuid.UUID, _ string) ([]store.AgencyUser, error) {
	return f.parent.users, f.parent.usersErr
}

func newTestAggregator(f *fakeStores) *Aggregator {
	return NewAggregator(f, fakeForms{f}, fakeUsers{f}, time.UTC)
}

func windowAround(now time.Time, days int) period.Window {
	return period.Window{Start: now.AddDate(0, 0, -days), End: now, Label: "test window"}
}

func TestAggregateCapsAndTotals(t *testing.T) {
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	agency := uuid.New()
	userA := uuid.New()
	userB := uuid.New()
	formA := uuid.New()
	formB := uuid.New()

	f := &fakeStores{
		forms: []store.FormDefinition{{ID: formA, Title: "Intake"}, {ID: formB, Title: "Renewal"}},
		users: []store.AgencyUser{{ID: userA, Name: "Ana"}, {ID: userB, Name: "Botan"}},
	}
	// More candidates than the in-memory cap, all inside the window.
	for i := 0; i < FetchLimit; i++ {
		user, form := userA, formA
		if i%3 == 0 {
			user, form = userB, formB
		}
		f.submissions = append(f.submissions, store.SubmissionRecord{
			ID:          uuid.New(),
			AgencyID:    agency,
			FormID:      form,
			UserID:      user,
			SubmittedAt: now.Add(-time.Duration(i) * time.Minute),
		})
	}

	res, err := newTestAggregator(f).Aggregate(context.Background(), Query{AgencyID: agency, Window: windowAround(now, 30)}, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Totals.Entries != EntryLimit {
		t.Fatalf("entries = %d, want %d", res.Totals.Entries, EntryLimit)
	}
	if len(res.Submissions) != DetailLimit {
		t.Fatalf("detail entries = %d, want %d", len(res.Submissions), DetailLimit)
	}
	if res.Totals.UniqueUsers != 2 || res.Totals.UniqueForms != 2 {
		t.Fatalf("unique users/forms = %d/%d, want 2/2", res.Totals.UniqueUsers, res.Totals.UniqueForms)
	}
	if res.Totals.TotalUsers != 2 || res.Totals.TotalForms != 2 {
		t.Fatalf("org totals = %d/%d, want 2/2", res.Totals.TotalUsers, res.Totals.TotalForms)
	}
	// Newest first.
	for i := 1; i < len(res.Submissions); i++ {
		if res.Submissions[i].SubmittedAt.After(res.Submissions[i-1].SubmittedAt) {
			t.Fatalf("submissions not sorted descending at index %d", i)
		}
	}
	// Flags are relative to the current calendar.
	if res.TodaySubmissions == 0 || res.ThisWeekSubmissions < res.TodaySubmissions {
		t.Fatalf("today/week counts = %d/%d", res.TodaySubmissions, res.ThisWeekSubmissions)
	}
}

func TestAggregateFilters(t *testing.T) {
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	agency := uuid.New()
	userA := uuid.New()
	userB := uuid.New()
	formA := uuid.New()
	formB := uuid.New()

	f := &fakeStores{
		submissions: []store.SubmissionRecord{
			{ID: uuid.New(), AgencyID: agency, FormID: formA, UserID: userA, SubmittedAt: now.Add(-time.Hour)},
			{ID: uuid.New(), AgencyID: agency, FormID: formB, UserID: userA, SubmittedAt: now.Add(-2 * time.Hour)},
			{ID: uuid.New(), AgencyID: agency, FormID: formA, UserID: userB, SubmittedAt: now.Add(-3 * time.Hour)},
			// Outside the window.
			{ID: uuid.New(), AgencyID: agency, FormID: formA, UserID: userA, SubmittedAt: now.AddDate(0, -2, 0)},
		},
	}
	agg := newTestAggregator(f)
	win := windowAround(now, 7)

	res, err := agg.Aggregate(context.Background(), Query{AgencyID: agency, Window: win, FormID: &formA}, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Totals.Entries != 2 {
		t.Fatalf("form filter entries = %d, want 2", res.Totals.Entries)
	}

	res, err = agg.Aggregate(context.Background(), Query{AgencyID: agency, Window: win, UserID: &userB}, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Totals.Entries != 1 {
		t.Fatalf("user filter entries = %d, want 1", res.Totals.Entries)
	}

	res, err = agg.Aggregate(context.Background(), Query{AgencyID: agency, Window: win, SelectedFormIDs: []uuid.UUID{formB}}, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.Totals.Entries != 1 || res.Submissions[0].FormID != formB {
		t.Fatalf("selected-forms filter returned wrong rows")
	}
}

func TestTopStatsTieBreakAndFallbacks(t *testing.T) {
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	agency := uuid.New()
	known := uuid.New()
	unknown := uuid.New()
	form := uuid.New()

	f := &fakeStores{
		forms: []store.FormDefinition{{ID: form, Title: "Intake"}},
		users: []store.AgencyUser{{ID: known, Name: "Ana"}},
	}
	// Equal counts; the known user appears first and must stay first.
	f.submissions = []store.SubmissionRecord{
		{ID: uuid.New(), AgencyID: agency, FormID: form, UserID: known, SubmittedAt: now.Add(-time.Minute)},
		{ID: uuid.New(), AgencyID: agency, FormID: form, UserID: unknown, SubmittedAt: now.Add(-2 * time.Minute)},
		{ID: uuid.New(), AgencyID: agency, FormID: form, UserID: known, SubmittedAt: now.Add(-3 * time.Minute)},
		{ID: uuid.New(), AgencyID: agency, FormID: form, UserID: unknown, SubmittedAt: now.Add(-4 * time.Minute)},
	}

	res, err := newTestAggregator(f).Aggregate(context.Background(), Query{AgencyID: agency, Window: windowAround(now, 7)}, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(res.UserStats) != 2 {
		t.Fatalf("user stats = %d, want 2", len(res.UserStats))
	}
	if res.UserStats[0].ID != known {
		t.Fatalf("tie break broke first-seen order")
	}
	want := "User " + unknown.String()
	if res.UserStats[1].Name != want {
		t.Fatalf("fallback name = %q, want %q", res.UserStats[1].Name, want)
	}
}

func TestTopStatsCappedAtFive(t *testing.T) {
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	agency := uuid.New()
	form := uuid.New()

	f := &fakeStores{}
	for i := 0; i < 8; i++ {
		user := uuid.New()
		for j := 0; j <= i; j++ {
			f.submissions = append(f.submissions, store.SubmissionRecord{
				ID: uuid.New(), AgencyID: agency, FormID: form, UserID: user,
				SubmittedAt: now.Add(-time.Duration(i*10+j) * time.Minute),
			})
		}
	}

	res, err := newTestAggregator(f).Aggregate(context.Background(), Query{AgencyID: agency, Window: windowAround(now, 7)}, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(res.UserStats) != TopStats {
		t.Fatalf("user stats = %d, want %d", len(res.UserStats), TopStats)
	}
	if res.UserStats[0].Count != 8 {
		t.Fatalf("top count = %d, want 8", res.UserStats[0].Count)
	}
}

func TestTimelineAscending(t *testing.T) {
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	agency := uuid.New()
	form := uuid.New()
	user := uuid.New()

	f := &fakeStores{
		submissions: []store.SubmissionRecord{
			{ID: uuid.New(), AgencyID: agency, FormID: form, UserID: user, SubmittedAt: now},
			{ID: uuid.New(), AgencyID: agency, FormID: form, UserID: user, SubmittedAt: now.AddDate(0, 0, -2)},
			{ID: uuid.New(), AgencyID: agency, FormID: form, UserID: user, SubmittedAt: now.AddDate(0, 0, -2).Add(time.Hour)},
			{ID: uuid.New(), AgencyID: agency, FormID: form, UserID: user, SubmittedAt: now.AddDate(0, 0, -1)},
		},
	}

	res, err := newTestAggregator(f).Aggregate(context.Background(), Query{AgencyID: agency, Window: windowAround(now, 7)}, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	want := []TimelinePoint{
		{Date: "2026-03-16", Count: 2},
		{Date: "2026-03-17", Count: 1},
		{Date: "2026-03-18", Count: 1},
	}
	if len(res.Timeline) != len(want) {
		t.Fatalf("timeline points = %d, want %d", len(res.Timeline), len(want))
	}
	for i := range want {
		if res.Timeline[i] != want[i] {
			t.Fatalf("timeline[%d] = %+v, want %+v", i, res.Timeline[i], want[i])
		}
	}
}

func TestAnswerLabelRemap(t *testing.T) {
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	agency := uuid.New()
	form := uuid.New()
	user := uuid.New()

	f := &fakeStores{
		forms: []store.FormDefinition{{
			ID:    form,
			Title: "Intake",
			Fields: []store.FormField{
				{ID: "field_1", Label: "Full name"},
				{ID: "field_2", Label: "Reason"},
			},
		}},
		users: []store.AgencyUser{{ID: user, Name: "Ana"}},
		submissions: []store.SubmissionRecord{{
			ID: uuid.New(), AgencyID: agency, FormID: form, UserID: user,
			SubmittedAt: now.Add(-time.Hour),
			Answers:     map[string]any{"field_1": "Jo Riku", "field_9": "stray"},
		}},
	}

	res, err := newTestAggregator(f).Aggregate(context.Background(), Query{AgencyID: agency, Window: windowAround(now, 7)}, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	answers := res.Submissions[0].Answers
	if answers["Full name"] != "Jo Riku" {
		t.Fatalf("labeled answer missing: %v", answers)
	}
	if answers["field_9"] != "stray" {
		t.Fatalf("unknown field should keep its raw id: %v", answers)
	}
}

func TestAggregateStoreErrorsAbort(t *testing.T) {
	now := time.Now()
	agency := uuid.New()
	boom := errors.New("boom")

	cases := []struct {
		name string
		prep func(*fakeStores)
	}{
		{"submissions", func(f *fakeStores) { f.submissionsErr = boom }},
		{"forms", func(f *fakeStores) { f.formsErr = boom }},
		{"users", func(f *fakeStores) { f.usersErr = boom }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeStores{}
			tc.prep(f)
			_, err := newTestAggregator(f).Aggregate(context.Background(), Query{AgencyID: agency, Window: windowAround(now, 7)}, now)
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want wrapped boom", err)
			}
		})
	}
}

func TestDetailFallbackTitles(t *testing.T) {
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	agency := uuid.New()
	form := uuid.New()
	user := uuid.New()

	f := &fakeStores{
		submissions: []store.SubmissionRecord{{
			ID: uuid.New(), AgencyID: agency, FormID: form, UserID: user,
			SubmittedAt: now.Add(-time.Hour),
		}},
	}

	res, err := newTestAggregator(f).Aggregate(context.Background(), Query{AgencyID: agency, Window: windowAround(now, 7)}, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	entry := res.Submissions[0]
	if entry.FormTitle != fmt.Sprintf("Form %s", form) {
		t.Fatalf("form title fallback = %q", entry.FormTitle)
	}
	if entry.UserName != fmt.Sprintf("User %s", user) {
		t.Fatalf("user name fallback = %q", entry.UserName)
	}
}
