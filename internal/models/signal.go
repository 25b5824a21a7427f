package models

// SignalType is the analyst-side verdict for one cycle.
type SignalType string

const (
	SignalLong     SignalType = "LONG"
	SignalShort    SignalType = "SHORT"
	SignalHold     SignalType = "HOLD"
	SignalClose    SignalType = "CLOSE"
	SignalCutLoss  SignalType = "CUT_LOSS"
	SignalScaleOut SignalType = "SCALE_OUT"
	SignalScaleIn  SignalType = "SCALE_IN"
)

func (s SignalType) Valid() bool {
	switch s {
	case SignalLong, SignalShort, SignalHold, SignalClose, SignalCutLoss, SignalScaleOut, SignalScaleIn:
		return true
	}
	return false
}

// Entry returns true for signals that open or add to a position.
func (s SignalType) Entry() bool {
	return s == SignalLong || s == SignalShort || s == SignalScaleIn
}

// TradeSignal is the validated analyst output for one cycle.
// Produced once per cycle and consumed exactly once; zero price fields mean "not provided".
type TradeSignal struct {
	Coin       string     `json:"coin"`
	Signal     SignalType `json:"signal"`
	Confidence float64    `json:"confidence"`

	EntryPrice float64 `json:"entry_price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`

	// Analyst's own notional suggestion; the risk manager's sizing wins when
	// both are present.
	SizeUSD float64 `json:"size_usd,omitempty"`

	Reasoning string `json:"reasoning"`
	Timeframe string `json:"timeframe"`
}

// RiskAction is the normalized risk-manager verdict.
type RiskAction string

const (
	RiskOpenLong   RiskAction = "OPEN_LONG"
	RiskOpenShort  RiskAction = "OPEN_SHORT"
	RiskNoTrade    RiskAction = "NO_TRADE"
	RiskCloseLong  RiskAction = "CLOSE_LONG"
	RiskCloseShort RiskAction = "CLOSE_SHORT"
	RiskHold       RiskAction = "HOLD"
	RiskReject     RiskAction = "REJECT"
	RiskCutLoss    RiskAction = "CUT_LOSS"
	RiskScaleOut   RiskAction = "SCALE_OUT"

	// Legacy alias kept after ingestion when the upstream payload used the old
	// "decision" vocabulary and the direction is carried by the signal instead.
	RiskApprove RiskAction = "APPROVE"
)

func (a RiskAction) Valid() bool {
	switch a {
	case RiskOpenLong, RiskOpenShort, RiskNoTrade, RiskCloseLong, RiskCloseShort,
		RiskHold, RiskReject, RiskCutLoss, RiskScaleOut, RiskApprove:
		return true
	}
	return false
}

// Approving reports whether the action green-lights an entry.
func (a RiskAction) Approving() bool {
	return a == RiskApprove || a == RiskOpenLong || a == RiskOpenShort
}

// RiskDecision is the validated risk-manager output for one cycle.
type RiskDecision struct {
	Approved bool       `json:"approved"`
	Action   RiskAction `json:"action"`
	SizeUSD  float64    `json:"size_usd"`
	Leverage int        `json:"leverage"`

	StopLoss               float64  `json:"stop_loss,omitempty"`
	TakeProfit             float64  `json:"take_profit,omitempty"`
	InvalidationConditions []string `json:"invalidation_conditions,omitempty"`

	Reason string `json:"reason"`
}
