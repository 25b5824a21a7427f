package models

import "time"

// InferenceRecord is the per-cycle audit row: what the cycle saw and what it
// decided. One row per FinalDecision, appended and never updated.
type InferenceRecord struct {
	ID          int64
	CycleNumber int64
	CreatedAt   time.Time

	Coin       string
	Signal     SignalType
	Confidence float64
	RiskAction RiskAction

	Action    FinalAction
	Reasoning string

	Equity    float64
	LastPrice float64
}
