package signal

import (
	"fmt"
	"strings"
	"trade_engine/internal/models"

	"github.com/bytedance/sonic"
)

const (
	minReasoningWords = 5
	maxErrorEmbed     = 160

	MinLeverage = 1
	MaxLeverage = 50
)

// ParseSignal converts untrusted upstream text into a validated TradeSignal.
// It never fails: anything that does not survive schema validation degrades to
// a HOLD / zero-confidence fallback with the error embedded in the rationale.
func ParseSignal(raw string, coinHint string) models.TradeSignal {
	sig, err := parseSignal(raw, coinHint)
	if err != nil {
		return FallbackSignal(coinHint, err)
	}
	return sig
}

func parseSignal(raw string, coinHint string) (models.TradeSignal, error) {
	data, err := Extract(raw)
	if err != nil {
		return models.TradeSignal{}, err
	}

	var p struct {
		Coin       string  `json:"coin"`
		Signal     string  `json:"signal"`
		Confidence float64 `json:"confidence"`
		EntryPrice float64 `json:"entry_price"`
		StopLoss   float64 `json:"stop_loss"`
		TakeProfit float64 `json:"take_profit"`
		SizeUSD    float64 `json:"size_usd"`
		Reasoning  string  `json:"reasoning"`
		Timeframe  string  `json:"timeframe"`
	}
	if err := sonic.Unmarshal(data, &p); err != nil {
		return models.TradeSignal{}, fmt.Errorf("unmarshal: %w", err)
	}

	sig := models.TradeSignal{
		Coin:       strings.ToUpper(strings.TrimSpace(p.Coin)),
		Signal:     models.SignalType(strings.ToUpper(strings.TrimSpace(p.Signal))),
		Confidence: p.Confidence,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		SizeUSD:    p.SizeUSD,
		Reasoning:  strings.TrimSpace(p.Reasoning),
		Timeframe:  p.Timeframe,
	}
	if sig.Coin == "" {
		sig.Coin = coinHint
	}
	if sig.Timeframe == "" {
		sig.Timeframe = "1H"
	}
	if sig.SizeUSD < 0 {
		sig.SizeUSD = 0
	}
	if err := validateSignal(sig); err != nil {
		return models.TradeSignal{}, err
	}
	return sig, nil
}

func validateSignal(sig models.TradeSignal) error {
	if sig.Coin == "" {
		return fmt.Errorf("coin is required")
	}
	if !sig.Signal.Valid() {
		return fmt.Errorf("unknown signal %q", sig.Signal)
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		return fmt.Errorf("confidence %.3f out of [0,1]", sig.Confidence)
	}
	if len(strings.Fields(sig.Reasoning)) < minReasoningWords {
		return fmt.Errorf("reasoning must be descriptive")
	}
	return nil
}

// FallbackSignal is the safe value the pipeline trades on when validation
// fails: HOLD with zero confidence, error text preserved for the audit trail.
func FallbackSignal(coinHint string, err error) models.TradeSignal {
	coin := coinHint
	if coin == "" {
		coin = "BTC"
	}
	return models.TradeSignal{
		Coin:       coin,
		Signal:     models.SignalHold,
		Confidence: 0,
		Reasoning:  "validation failed: " + truncate(err.Error(), maxErrorEmbed),
		Timeframe:  "1H",
	}
}

// ParseRiskDecision converts untrusted risk-manager text into a validated
// RiskDecision, normalizing the legacy "decision"/"reasoning" vocabulary.
// Failures degrade to an unapproved NO_TRADE.
func ParseRiskDecision(raw string) models.RiskDecision {
	d, err := parseRiskDecision(raw)
	if err != nil {
		return FallbackRiskDecision(err)
	}
	return d
}

func parseRiskDecision(raw string) (models.RiskDecision, error) {
	data, err := Extract(raw)
	if err != nil {
		return models.RiskDecision{}, err
	}

	var p struct {
		Approved *bool  `json:"approved"`
		Action   string `json:"action"`
		Decision string `json:"decision"` // legacy alias for action

		SizeUSD         float64 `json:"size_usd"`
		AdjustedSizeUSD float64 `json:"adjusted_size_usd"`
		Leverage        int     `json:"leverage"`

		StopLoss               float64  `json:"stop_loss"`
		TakeProfit             float64  `json:"take_profit"`
		InvalidationConditions []string `json:"invalidation_conditions"`

		Reason    string `json:"reason"`
		Reasoning string `json:"reasoning"` // legacy alias for reason
	}
	if err := sonic.Unmarshal(data, &p); err != nil {
		return models.RiskDecision{}, fmt.Errorf("unmarshal: %w", err)
	}

	action := strings.ToUpper(strings.TrimSpace(p.Action))
	if action == "" {
		action = strings.ToUpper(strings.TrimSpace(p.Decision))
	}
	if action == "" {
		return models.RiskDecision{}, fmt.Errorf("action is required")
	}
	switch action {
	case "RESCUE_DCA":
		// Legacy verb for averaging into a losing position: an approved add,
		// the signal side carries the direction.
		action = string(models.RiskApprove)
	case "REDUCE":
		action = string(models.RiskScaleOut)
	}
	act := models.RiskAction(action)
	if !act.Valid() {
		return models.RiskDecision{}, fmt.Errorf("unknown action %q", action)
	}

	size := p.SizeUSD
	if p.AdjustedSizeUSD > 0 {
		size = p.AdjustedSizeUSD
	}
	if size < 0 {
		return models.RiskDecision{}, fmt.Errorf("size_usd %.2f must be >= 0", size)
	}

	lev := p.Leverage
	if lev < MinLeverage {
		lev = MinLeverage
	}
	if lev > MaxLeverage {
		lev = MaxLeverage
	}

	approved := act.Approving()
	if p.Approved != nil {
		approved = *p.Approved
	}
	switch act {
	case models.RiskNoTrade, models.RiskReject:
		approved = false
	}

	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		reason = strings.TrimSpace(p.Reasoning)
	}

	return models.RiskDecision{
		Approved:               approved,
		Action:                 act,
		SizeUSD:                size,
		Leverage:               lev,
		StopLoss:               p.StopLoss,
		TakeProfit:             p.TakeProfit,
		InvalidationConditions: p.InvalidationConditions,
		Reason:                 reason,
	}, nil
}

// FallbackRiskDecision never approves anything.
func FallbackRiskDecision(err error) models.RiskDecision {
	return models.RiskDecision{
		Approved: false,
		Action:   models.RiskNoTrade,
		SizeUSD:  0,
		Leverage: MinLeverage,
		Reason:   "validation failed: " + truncate(err.Error(), maxErrorEmbed),
	}
}
