package usage

import (
	"context"

	"github.com/kailas-cloud/promptgate/internal/domain/account"
)

// Snapshotter supplies a repaired usage snapshot for an account
// (implemented by the admission service).
type Snapshotter interface {
	Snapshot(ctx context.Context, acct account.Account) (account.Usage, error)
}
