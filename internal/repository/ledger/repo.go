// Package ledger persists per-account daily token consumption.
package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/promptgate/internal/domain"
	"github.com/kailas-cloud/promptgate/internal/domain/account"
	"github.com/kailas-cloud/promptgate/internal/domain/plan"
)

// Hash fields of one account record.
const (
	fieldPlan      = "plan"
	fieldTokens    = "tokens_used_today"
	fieldResetDate = "reset_date"
	fieldEmail     = "email"
)

// store is the consumer interface for ledger operations (ISP).
type store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HIncrBy(ctx context.Context, key, field string, val int64) error
}

// Repo implements the quota ledger on a hash per account.
type Repo struct {
	store  store
	prefix string
}

// New creates a ledger repository. prefix namespaces the account keys.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

func (r *Repo) key(accountID string) string {
	return r.prefix + "account:" + accountID
}

// Read returns the usage record for an account.
// Returns domain.ErrAccountNotFound when no record exists.
func (r *Repo) Read(ctx context.Context, accountID string) (account.Usage, error) {
	fields, err := r.store.HGetAll(ctx, r.key(accountID))
	if err != nil {
		return account.Usage{}, fmt.Errorf("ledger read %s: %w", accountID, err)
	}
	if len(fields) == 0 {
		return account.Usage{}, domain.ErrAccountNotFound
	}

	used, err := strconv.ParseInt(fields[fieldTokens], 10, 64)
	if err != nil {
		return account.Usage{}, fmt.Errorf("ledger read %s: parse %s: %w", accountID, fieldTokens, err)
	}

	return account.Usage{
		Plan:            plan.Tier(fields[fieldPlan]),
		TokensUsedToday: used,
		ResetDate:       fields[fieldResetDate],
	}, nil
}

// Create writes a fresh free-tier record for a new account.
func (r *Repo) Create(ctx context.Context, acct account.Account, today string) (account.Usage, error) {
	fields := map[string]string{
		fieldPlan:      string(plan.TierFree),
		fieldTokens:    "0",
		fieldResetDate: today,
		fieldEmail:     acct.Email,
	}
	if err := r.store.HSet(ctx, r.key(acct.ID), fields); err != nil {
		return account.Usage{}, fmt.Errorf("ledger create %s: %w", acct.ID, err)
	}
	return account.Usage{Plan: plan.TierFree, TokensUsedToday: 0, ResetDate: today}, nil
}

// Reset zeroes the daily counter and advances the reset date.
// Last-writer-wins with concurrent resets of the same account is acceptable.
func (r *Repo) Reset(ctx context.Context, accountID, today string) error {
	fields := map[string]string{
		fieldTokens:    "0",
		fieldResetDate: today,
	}
	if err := r.store.HSet(ctx, r.key(accountID), fields); err != nil {
		return fmt.Errorf("ledger reset %s: %w", accountID, err)
	}
	return nil
}

// Increment atomically adds consumed tokens to the daily counter (HINCRBY).
// Never read-modify-write: concurrent relays for one account must not lose updates.
func (r *Repo) Increment(ctx context.Context, accountID string, amount int64) error {
	if err := r.store.HIncrBy(ctx, r.key(accountID), fieldTokens, amount); err != nil {
		return fmt.Errorf("ledger increment %s: %w", accountID, err)
	}
	return nil
}
