package admission

import (
	"context"

	"github.com/kailas-cloud/promptgate/internal/domain/account"
)

// Ledger is the quota ledger interface the admission gate needs.
type Ledger interface {
	Read(ctx context.Context, accountID string) (account.Usage, error)
	Create(ctx context.Context, acct account.Account, today string) (account.Usage, error)
	Reset(ctx context.Context, accountID, today string) error
}
