package chain

import (
	"context"

	"github.com/shopspring/decimal"

	"nano_storage/internal/domain"
)

// Offline is the remote ledger used when no RPC endpoint is configured. Every
// call reports the ledger as unavailable, so balances are served from the
// local cache.
type Offline struct{}

func (Offline) ReadBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, domain.ErrRemoteUnavailable
}

func (Offline) AuthorizeDeduction(context.Context, string, decimal.Decimal) (string, error) {
	return "", domain.ErrRemoteUnavailable
}
