package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/formsight/formsight/internal/quota"
)

// AccountStore persists quota state. Update runs its mutator inside a single
// transaction holding a row lock, so concurrent settlements for the same
// account serialize instead of racing a stale read.
type AccountStore struct {
	db TxBeginner
}

func NewAccountStore(db TxBeginner) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `
	account_id, agency_id, package, package_limit,
	tokens_used_monthly, pay_as_you_go_tokens, tokens_reset_date,
	subscription_start_date, subscription_end_date, subscription_status
`

func (s *AccountStore) Get(ctx context.Context, accountID uuid.UUID) (*quota.AccountState, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM account_quota WHERE account_id = $1`, accountID)
	return scanAccountState(row)
}

func (s *AccountStore) Update(ctx context.Context, accountID uuid.UUID, mutate func(*quota.AccountState) error) (*quota.AccountState, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin account update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM account_quota WHERE account_id = $1 FOR UPDATE`, accountID)
	state, err := scanAccountState(row)
	if err != nil {
		return nil, err
	}

	if err := mutate(state); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE account_quota SET
			package = $2,
			package_limit = $3,
			tokens_used_monthly = $4,
			pay_as_you_go_tokens = $5,
			tokens_reset_date = $6,
			subscription_start_date = $7,
			subscription_end_date = $8,
			subscription_status = $9,
			updated_at = now()
		WHERE account_id = $1
	`,
		state.AccountID,
		state.Package,
		state.PackageLimit,
		state.TokensUsedMonthly,
		state.PayAsYouGoTokens,
		state.TokensResetDate,
		state.SubscriptionStartDate,
		state.SubscriptionEndDate,
		state.SubscriptionStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("persist account state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit account update: %w", err)
	}
	return state, nil
}

func scanAccountState(row pgx.Row) (*quota.AccountState, error) {
	var state quota.AccountState
	err := row.Scan(
		&state.AccountID, &state.AgencyID, &state.Package, &state.PackageLimit,
		&state.TokensUsedMonthly, &state.PayAsYouGoTokens, &state.TokensResetDate,
		&state.SubscriptionStartDate, &state.SubscriptionEndDate, &state.SubscriptionStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, quota.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account state: %w", err)
	}
	return &state, nil
}
