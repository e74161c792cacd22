package relay

import "context"

// Ledger is the quota ledger interface the relay loop needs.
type Ledger interface {
	Increment(ctx context.Context, accountID string, amount int64) error
}

// LineSink is the caller-facing outbound stream. WriteLine receives one
// complete line without its terminator; implementations append the terminator
// and flush so the caller sees the line immediately.
type LineSink interface {
	WriteLine(line []byte) error
}
