package shadow

import (
	"context"
	"trade_engine/internal/models"
)

// Store persists shadow trades. Outcome fields are written exactly once, by
// CloseOutcome, and only for rows still open.
type Store interface {
	Insert(ctx context.Context, t *models.ShadowTrade) error
	OpenByCoin(ctx context.Context, coin string) ([]*models.ShadowTrade, error)
	CloseOutcome(ctx context.Context, t *models.ShadowTrade) error
	OpenCount(ctx context.Context) (int, error)
	LastClosed(ctx context.Context) (*models.ShadowTrade, error)
}

// Ledger is the singleton shadow account. GetOrCreate seeds it once from the
// real account's equity; every later call is a pure read. Seeding requires a
// positive equity: a zeroed account snapshot from a failed exchange call must
// not become the initial equity forever. ApplyClose is the sole mutator and is
// called only by the simulator after a trade closes.
type Ledger interface {
	GetOrCreate(ctx context.Context, seedEquity float64) (*models.ShadowAccount, error)
	ApplyClose(ctx context.Context, grossPnl, fees, slippage float64, isWin bool) error
	Stats(ctx context.Context) (models.ShadowStats, error)
}
