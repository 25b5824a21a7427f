package models

// FinalAction is the single terminal output of one engine cycle.
type FinalAction string

const (
	ActionNoTrade         FinalAction = "NO_TRADE"
	ActionRejected        FinalAction = "REJECTED"
	ActionExecuted        FinalAction = "EXECUTED"
	ActionRequestApproval FinalAction = "REQUEST_APPROVAL"
)

// OrderRequest is the fully built entry order passed to the exchange capability.
type OrderRequest struct {
	Coin     string  `json:"coin"`
	IsBuy    bool    `json:"is_buy"`
	SizeUSD  float64 `json:"size"`
	SizeMode string  `json:"size_type"`
	SlPct    float64 `json:"sl_pct"`
	TpPct    float64 `json:"tp_pct"`
	Leverage int     `json:"leverage"`
}

func (o OrderRequest) Direction() Direction {
	if o.IsBuy {
		return DirLong
	}
	return DirShort
}

// ExecResult records the outcome of a capability call. A failed call is data,
// not an error: the cycle still terminates with a decision.
type ExecResult struct {
	Success bool   `json:"success"`
	Raw     string `json:"result,omitempty"`
	Err     string `json:"error,omitempty"`
}

// FinalDecision is emitted exactly once per cycle, even under total upstream failure.
type FinalDecision struct {
	Action    FinalAction   `json:"action"`
	Trade     *OrderRequest `json:"trade,omitempty"`
	Result    *ExecResult   `json:"result,omitempty"`
	Reasoning string        `json:"reasoning"`

	RequiresApproval bool   `json:"requires_approval,omitempty"`
	ApprovalMessage  string `json:"approval_message,omitempty"`
}

// CycleContext is the immutable input bundle for one coordinator run.
// Stages communicate through explicit structs, not shared maps.
type CycleContext struct {
	CycleNumber int64

	Signal TradeSignal
	Risk   RiskDecision

	Account AccountState
	Market  MarketSnapshot
}
