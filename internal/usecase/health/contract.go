package health

import "context"

// DBPinger checks ledger store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}
