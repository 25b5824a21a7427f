package models

import "time"

// ShadowTrade is a paper-only simulated trade. Outcome fields are pointers:
// either all nil (open) or all set (closed), never mixed.
type ShadowTrade struct {
	ID       int64
	OpenedAt time.Time

	Coin       string
	Signal     SignalType
	Confidence float64

	EntryPrice float64
	SizeUSD    float64
	Leverage   int

	StopLoss   float64
	TakeProfit float64

	ExitPrice   *float64
	PnlUSD      *float64
	PnlPct      *float64
	FeesUSD     *float64
	SlippageUSD *float64
	DurationMin *float64
	CloseReason string

	// Equity of the shadow account at open time, for audit.
	AccountEquity float64

	// Dedup/audit: hash of the cycle inputs plus the full input/output trace.
	ContextHash string
	Trace       []byte
}

func (t *ShadowTrade) Closed() bool { return t.PnlUSD != nil }

// ShadowAccount is the singleton virtual equity ledger. Seeded once from the
// real account and never re-seeded, so it diverges from the real book over time.
type ShadowAccount struct {
	ID        int64
	CreatedAt time.Time
	UpdatedAt time.Time

	InitialEquity float64
	CurrentEquity float64

	CumulativePnl      float64
	CumulativeFees     float64
	CumulativeSlippage float64

	TotalTrades   int64
	WinningTrades int64
	LosingTrades  int64
}

// ShadowStats are read-only projections over the ledger, recomputed on demand.
type ShadowStats struct {
	CurrentEquity   float64
	CumulativePnl   float64
	WinRate         float64
	AvgPnlPerTrade  float64
	EquityChangePct float64
}
