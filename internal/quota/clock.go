package quota

import (
	"time"
)

// Clock applies subscription-lifecycle transitions to an account state:
// expiry once the subscription end date has passed, and the idempotent
// monthly usage rollover.
type Clock struct {
	limits Limits
}

func NewClock(limits Limits) *Clock {
	return &Clock{limits: limits}
}

// Advance brings the state up to date with "now" and reports whether anything
// changed (and therefore needs persisting). It is safe to call on every
// request; a second call in the same calendar month is a no-op.
func (c *Clock) Advance(state *AccountState, now time.Time) bool {
	changed := false

	// The configured table is authoritative over whatever limit was stored.
	if limit := c.limits.ForPackage(state.Package); state.PackageLimit != limit {
		state.PackageLimit = limit
		changed = true
	}

	if state.SubscriptionEndDate != nil && now.After(*state.SubscriptionEndDate) {
		if state.SubscriptionStatus != StatusExpired {
			state.SubscriptionStatus = StatusExpired
			changed = true
		}
		if state.TokensUsedMonthly != 0 || state.PayAsYouGoTokens != 0 {
			state.TokensUsedMonthly = 0
			state.PayAsYouGoTokens = 0
			changed = true
		}
		return changed
	}

	if state.SubscriptionStatus == StatusExpired {
		// Expired without an end-date rewind stays expired until an external
		// renewal sets a new subscription window.
		return changed
	}

	if state.TokensResetDate == nil || !now.Before(*state.TokensResetDate) {
		state.TokensUsedMonthly = 0
		next := firstOfNextMonth(now)
		state.TokensResetDate = &next
		changed = true
	}

	return changed
}

func firstOfNextMonth(now time.Time) time.Time {
	year, month, _ := now.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
}
