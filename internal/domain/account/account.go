// Package account holds the account identity and quota usage types.
package account

import "github.com/kailas-cloud/promptgate/internal/domain/plan"

// Account is an authenticated end-user identity consuming the proxy.
// Identity is established by the authentication collaborator, not the core.
type Account struct {
	ID    string
	Email string
}

// Usage is the per-account daily consumption record held by the quota ledger.
// ResetDate is the calendar date (YYYY-MM-DD) of the last counter reset;
// when it differs from today the record must be repaired before any
// admission decision reads it.
type Usage struct {
	Plan            plan.Tier
	TokensUsedToday int64
	ResetDate       string
}

// Remaining returns the tokens left against the given plan, never negative.
func (u Usage) Remaining(p plan.Plan) int64 {
	left := p.TokensPerDay - u.TokensUsedToday
	if left < 0 {
		return 0
	}
	return left
}
