package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSubscriptionExpired = errors.New("subscription expired")
	ErrAccountNotFound     = errors.New("account not found")
)

// InsufficientTokensError carries the structured shortfall payload the caller
// needs to drive a purchase or upgrade flow.
type InsufficientTokensError struct {
	Required         int64
	Available        int64
	PackageLimit     int64
	PayAsYouGoTokens int64
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: required=%d available=%d", e.Required, e.Available)
}

// AccountStore is the persistence contract the ledger settles against.
// Update must execute the mutator inside a single serialized transaction on
// the account row (read latest state, mutate, persist atomically).
type AccountStore interface {
	Get(ctx context.Context, accountID uuid.UUID) (*AccountState, error)
	Update(ctx context.Context, accountID uuid.UUID, mutate func(*AccountState) error) (*AccountState, error)
}

// Ledger is the admission-control and deduction state machine over an
// account's package allowance and pay-as-you-go balance.
type Ledger struct {
	clock *Clock
	store AccountStore
}

func NewLedger(clock *Clock, store AccountStore) *Ledger {
	return &Ledger{clock: clock, store: store}
}

// CheckAdmission decides whether a request costing requiredTokens may
// proceed. The state is advanced through the subscription clock first, so an
// expired subscription rejects before any balance math.
func (l *Ledger) CheckAdmission(state *AccountState, requiredTokens int64, now time.Time) error {
	l.clock.Advance(state, now)

	if state.SubscriptionStatus == StatusExpired {
		return ErrSubscriptionExpired
	}
	if state.PackageLimit == Unlimited {
		return nil
	}

	available := state.PackageLimit + state.PayAsYouGoTokens
	if state.TokensUsedMonthly+requiredTokens > available {
		shortfallBase := available - state.TokensUsedMonthly
		if shortfallBase < 0 {
			shortfallBase = 0
		}
		return &InsufficientTokensError{
			Required:         requiredTokens,
			Available:        shortfallBase,
			PackageLimit:     state.PackageLimit,
			PayAsYouGoTokens: state.PayAsYouGoTokens,
		}
	}
	return nil
}

// Deduct consumes amount from the package allowance first and only then from
// the pay-as-you-go balance. Unlimited packages never touch the overflow
// balance.
func (l *Ledger) Deduct(state *AccountState, amount int64) {
	if amount <= 0 {
		return
	}
	if state.PackageLimit == Unlimited {
		state.TokensUsedMonthly += amount
		return
	}

	packageRemaining := state.PackageLimit - state.TokensUsedMonthly
	if amount <= packageRemaining {
		state.TokensUsedMonthly += amount
		return
	}

	fromPackage := packageRemaining
	if fromPackage < 0 {
		fromPackage = 0
	}
	fromOverflow := amount - fromPackage
	state.TokensUsedMonthly += fromPackage
	state.PayAsYouGoTokens -= fromOverflow
	if state.PayAsYouGoTokens < 0 {
		state.PayAsYouGoTokens = 0
	}
}

// Settle re-reads the latest persisted state and applies the debit inside a
// single atomic store transaction. Two concurrent settlements for the same
// account serialize on the row; neither can spend against a stale read.
func (l *Ledger) Settle(ctx context.Context, accountID uuid.UUID, amount int64, now time.Time) (*AccountState, error) {
	return l.store.Update(ctx, accountID, func(state *AccountState) error {
		l.clock.Advance(state, now)
		if state.SubscriptionStatus == StatusExpired {
			return ErrSubscriptionExpired
		}
		l.Deduct(state, amount)
		return nil
	})
}

// Admit loads the account and runs admission control against the freshest
// state, persisting any clock transition (expiry or monthly reset) it caused.
func (l *Ledger) Admit(ctx context.Context, accountID uuid.UUID, requiredTokens int64, now time.Time) (*AccountState, error) {
	var admissionErr error
	state, err := l.store.Update(ctx, accountID, func(state *AccountState) error {
		admissionErr = l.CheckAdmission(state, requiredTokens, now)
		// Clock transitions persist even when admission is rejected.
		return nil
	})
	if err != nil {
		return nil, err
	}
	if admissionErr != nil {
		return state, admissionErr
	}
	return state, nil
}
