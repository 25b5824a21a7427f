package exchange

import (
	"context"
	"strings"
	"trade_engine/internal/models"
)

// Capability is the execution boundary. The remote side reports failures as an
// "Error"-prefixed result string rather than a transport error, so callers
// must check both the error and IsErrorResult.
type Capability interface {
	// PlaceEntry opens or adds to a position and attaches the stop/target.
	PlaceEntry(ctx context.Context, req models.OrderRequest) (string, error)

	// ClosePosition closes fraction (0,1] of the open position for coin.
	ClosePosition(ctx context.Context, coin string, fraction float64) (string, error)

	// CloseAllPositions is the panic button used by the emergency paths.
	CloseAllPositions(ctx context.Context) (string, error)

	// AccountState returns equity, margin and open positions/orders.
	AccountState(ctx context.Context) (models.AccountState, error)
}

// IsErrorResult reports whether a capability result string signals failure.
func IsErrorResult(result string) bool {
	return strings.HasPrefix(strings.TrimSpace(result), "Error")
}
