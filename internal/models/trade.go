package models

import "time"

type Direction string

const (
	DirLong  Direction = "LONG"
	DirShort Direction = "SHORT"
)

// DirectionalPct is the raw percentage move from entry to exit,
// sign-flipped for shorts.
func DirectionalPct(entry, exit float64, dir Direction) float64 {
	if entry == 0 {
		return 0
	}
	if dir == DirShort {
		return (entry - exit) / entry
	}
	return (exit - entry) / entry
}

// Trade is one persisted position: at most one open row per coin.
// Closed rows are permanent history.
type Trade struct {
	ID        int64
	Coin      string
	Direction Direction

	EntryPrice float64
	SizeUSD    float64
	Leverage   int

	OpenedAt time.Time
	ClosedAt *time.Time

	ExitPrice   float64
	PnlUSD      float64
	PnlPct      float64
	CloseReason string

	Reasoning string
}

func (t *Trade) Open() bool { return t.ClosedAt == nil }

const (
	PlanActive      = "ACTIVE"
	PlanInvalidated = "INVALIDATED"
)

// ExitPlan is the stop/target/invalidation bundle attached 1:1 to an open Trade.
type ExitPlan struct {
	ID      int64
	TradeID int64

	StopLossPct     float64
	TakeProfitPct   float64
	StopLossPrice   float64
	TakeProfitPrice float64

	InvalidationConditions []string

	Status          string
	TriggeredAt     *time.Time
	TriggeredReason string

	UpdatedAt time.Time
}

// Performance aggregates closed trades over a window.
type Performance struct {
	WinRate     float64
	TotalPnlUSD float64
	TotalTrades int
	Wins        int
	Losses      int
}
