package models

import "time"

// OpenPosition is one live exchange position as reported by the account state call.
type OpenPosition struct {
	Coin          string
	Direction     Direction
	Size          float64
	EntryPrice    float64
	UnrealizedPnl float64
}

// AccountState is the snapshot of the real account taken at the start of a cycle.
type AccountState struct {
	Equity         float64
	MarginUsed     float64
	MarginUsagePct float64
	Withdrawable   float64

	OpenPositions []OpenPosition
	OpenOrders    []string
}

// PositionSide returns the direction of the open position for coin,
// or "" when no position is open.
func (a AccountState) PositionSide(coin string) Direction {
	for _, p := range a.OpenPositions {
		if p.Coin == coin {
			return p.Direction
		}
	}
	return ""
}

// MarketSnapshot is the immutable per-cycle view of market data. The shadow
// path receives its own copy and must never share it with the live path.
type MarketSnapshot struct {
	Coin      string
	LastPrice float64

	Structure       string
	RiskEnvironment string

	TakenAt time.Time
}
