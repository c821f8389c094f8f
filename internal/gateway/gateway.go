// Package gateway is the arena's boundary to the token wallet backend: balance
// lookups, stake escrow and payouts.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway moves and inspects token balances. Implementations return errors that
// wrap errors.ErrInsufficientFunds or errors.ErrGateway.
type Gateway interface {
	CheckBalance(ctx context.Context, address, token string) (decimal.Decimal, error)
	// Escrow locks amount from address until the battle settles.
	Escrow(ctx context.Context, address, token string, amount decimal.Decimal) (string, error)
	// Transfer pays amount out of the arena escrow to address.
	Transfer(ctx context.Context, to, token string, amount decimal.Decimal) (string, error)
}
