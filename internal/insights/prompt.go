package insights

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/formsight/formsight/internal/aggregate"
	"github.com/formsight/formsight/internal/period"
)

// buildSystemPrompt renders the aggregated dataset into the instruction block
// the model answers from. The dataset is already capped upstream, so the
// prompt stays bounded regardless of agency size.
func buildSystemPrompt(window period.Window, result *aggregate.Result) string {
	var b strings.Builder
	b.WriteString("You are a data analyst for an administrative forms platform. ")
	b.WriteString("Answer the user's question using only the dataset below. ")
	b.WriteString("Be concise and concrete; cite counts and dates from the data. ")
	b.WriteString("If the dataset cannot answer the question, say so.\n\n")

	fmt.Fprintf(&b, "Period: %s (%s to %s)\n",
		window.Label,
		window.Start.Format("2006-01-02"),
		window.End.Format("2006-01-02"))
	fmt.Fprintf(&b, "Submissions in period: %d (from %d users across %d forms)\n",
		result.Totals.Entries, result.Totals.UniqueUsers, result.Totals.UniqueForms)
	fmt.Fprintf(&b, "Organization size: %d users, %d forms\n\n", result.Totals.TotalUsers, result.Totals.TotalForms)

	if len(result.UserStats) > 0 {
		b.WriteString("Top users by submissions:\n")
		for _, s := range result.UserStats {
			fmt.Fprintf(&b, "- %s: %d\n", s.Name, s.Count)
		}
		b.WriteByte('\n')
	}
	if len(result.FormStats) > 0 {
		b.WriteString("Top forms by submissions:\n")
		for _, s := range result.FormStats {
			fmt.Fprintf(&b, "- %s: %d\n", s.Name, s.Count)
		}
		b.WriteByte('\n')
	}
	if len(result.Timeline) > 0 {
		b.WriteString("Daily submission counts:\n")
		for _, p := range result.Timeline {
			fmt.Fprintf(&b, "- %s: %d\n", p.Date, p.Count)
		}
		b.WriteByte('\n')
	}

	if len(result.Submissions) > 0 {
		b.WriteString("Recent submissions (newest first):\n")
		for _, sub := range result.Submissions {
			line := map[string]any{
				"form":         sub.FormTitle,
				"user":         sub.UserName,
				"submitted_at": sub.SubmittedAt.Format("2006-01-02 15:04"),
				"answers":      sub.Answers,
			}
			encoded, err := json.Marshal(line)
			if err != nil {
				continue
			}
			b.Write(encoded)
			b.WriteByte('\n')
		}
	}

	return b.String()
}

// fallbackSummary is the deterministic answer served when the model is
// unavailable. It restates the headline numbers so the user still gets
// something useful for free.
func fallbackSummary(window period.Window, result *aggregate.Result) string {
	var b strings.Builder
	b.WriteString("The AI assistant is temporarily unavailable, so here is a summary of your data instead.\n\n")
	fmt.Fprintf(&b, "For %s you have %d submissions from %d users across %d forms.\n",
		window.Label, result.Totals.Entries, result.Totals.UniqueUsers, result.Totals.UniqueForms)

	if len(result.UserStats) > 0 {
		top := result.UserStats[0]
		fmt.Fprintf(&b, "Most active user: %s with %d submissions.\n", top.Name, top.Count)
	}
	if len(result.FormStats) > 0 {
		top := result.FormStats[0]
		fmt.Fprintf(&b, "Most used form: %s with %d submissions.\n", top.Name, top.Count)
	}
	if result.TodaySubmissions > 0 || result.ThisWeekSubmissions > 0 {
		fmt.Fprintf(&b, "Recent activity: %d today, %d this week.\n",
			result.TodaySubmissions, result.ThisWeekSubmissions)
	}
	b.WriteString("\nYou have not been charged for this request.")
	return b.String()
}
