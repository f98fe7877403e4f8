package quota

import (
	"time"

	"github.com/google/uuid"

	"github.com/formsight/formsight/internal/config"
)

// Package identifies a subscription tier.
type Package string

const (
	PackageStarter  Package = "starter"
	PackageStandard Package = "standard"
	PackagePremium  Package = "premium"
	PackageCustom   Package = "custom"
)

// Status is the subscription lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Unlimited marks a package without a monthly allowance cap.
const Unlimited int64 = -1

// AccountState is the persisted quota record for one account. It is mutated
// only by the subscription clock (expiry, monthly rollover) and the ledger
// (deductions).
type AccountState struct {
	AccountID             uuid.UUID
	AgencyID              uuid.UUID
	Package               Package
	PackageLimit          int64
	TokensUsedMonthly     int64
	PayAsYouGoTokens      int64
	TokensResetDate       *time.Time
	SubscriptionStartDate *time.Time
	SubscriptionEndDate   *time.Time
	SubscriptionStatus    Status
}

// Remaining reports how many chargeable tokens the account can still spend
// this month. Unlimited packages report Unlimited.
func (s *AccountState) Remaining() int64 {
	if s.PackageLimit == Unlimited {
		return Unlimited
	}
	remaining := s.PackageLimit + s.PayAsYouGoTokens - s.TokensUsedMonthly
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limits is the package-to-monthly-allowance table. There is exactly one of
// these in the process, sourced from configuration; the historical duplicate
// table in the data-migration tooling is intentionally gone.
type Limits struct {
	Starter  int64
	Standard int64
	Premium  int64
	Custom   int64
}

// DefaultLimits mirrors the production tier allowances.
func DefaultLimits() Limits {
	return Limits{
		Starter:  10_000,
		Standard: 30_000,
		Premium:  100_000,
		Custom:   Unlimited,
	}
}

// LimitsFromConfig builds the table from the quota config section.
func LimitsFromConfig(cfg config.QuotaConfig) Limits {
	return Limits{
		Starter:  cfg.StarterTokens,
		Standard: cfg.StandardTokens,
		Premium:  cfg.PremiumTokens,
		Custom:   cfg.CustomTokens,
	}
}

// ForPackage returns the monthly allowance for a tier. Unknown tiers fall
// back to the starter allowance rather than granting unlimited use.
func (l Limits) ForPackage(pkg Package) int64 {
	switch pkg {
	case PackageStarter:
		return l.Starter
	case PackageStandard:
		return l.Standard
	case PackagePremium:
		return l.Premium
	case PackageCustom:
		return l.Custom
	default:
		return l.Starter
	}
}
