package store

import (
	"context"
	"time"
	"trade_engine/internal/models"
)

// UpsertParams carries one executed entry into the store. When an open trade
// already exists for the coin only the exit plan is refreshed; size, leverage
// and entry price of the existing row are never overwritten by a later cycle.
type UpsertParams struct {
	Coin       string
	Direction  models.Direction
	EntryPrice float64
	SizeUSD    float64
	Leverage   int
	Reasoning  string

	StopLossPct            float64
	TakeProfitPct          float64
	InvalidationConditions []string
}

// Positions is the durable record of trade lifecycle. At most one open trade
// per coin at any time.
type Positions interface {
	Upsert(ctx context.Context, p UpsertParams) (*models.Trade, error)

	// Close computes directional PnL and stamps closed_at. Closing a coin with
	// no open trade is a no-op returning (nil, nil).
	Close(ctx context.Context, coin string, exitPrice float64, reason string) (*models.Trade, error)

	OpenTrade(ctx context.Context, coin string) (*models.Trade, error)
	Open(ctx context.Context) ([]*models.Trade, error)
	Recent(ctx context.Context, limit int) ([]*models.Trade, error)

	Plan(ctx context.Context, tradeID int64) (*models.ExitPlan, error)
	InvalidatePlan(ctx context.Context, tradeID int64, reason string) error

	Performance(ctx context.Context, window time.Duration) (models.Performance, error)
}

// planPrices derives absolute stop/target levels from entry price and
// percentages, mirrored for shorts.
func planPrices(entry, slPct, tpPct float64, dir models.Direction) (slPx, tpPx float64) {
	if entry <= 0 {
		return 0, 0
	}
	if dir == models.DirLong {
		if slPct > 0 {
			slPx = entry * (1 - slPct)
		}
		if tpPct > 0 {
			tpPx = entry * (1 + tpPct)
		}
		return slPx, tpPx
	}
	if slPct > 0 {
		slPx = entry * (1 + slPct)
	}
	if tpPct > 0 {
		tpPx = entry * (1 - tpPct)
	}
	return slPx, tpPx
}

func closeTrade(t *models.Trade, exitPrice float64, reason string, now time.Time) {
	t.ExitPrice = exitPrice
	t.PnlPct = models.DirectionalPct(t.EntryPrice, exitPrice, t.Direction)
	t.PnlUSD = t.PnlPct * t.SizeUSD * float64(t.Leverage)
	t.CloseReason = reason
	t.ClosedAt = &now
}
