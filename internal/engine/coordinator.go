package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"trade_engine/internal/exchange"
	"trade_engine/internal/models"
	"trade_engine/internal/precision"
	"trade_engine/internal/sizing"
	"trade_engine/internal/store"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
)

// Coordinator merges the analyst signal and the risk verdict into exactly one
// terminal decision per cycle. Safety verdicts outrank profit verdicts:
// emergency closes run regardless of approval state.
type Coordinator struct {
	cap   exchange.Capability
	pos   store.Positions
	norm  *precision.Normalizer

	// Orders above this notional wait for a human; zero disables the gate.
	autoApproveUSD float64
}

func NewCoordinator(cap exchange.Capability, pos store.Positions, norm *precision.Normalizer, autoApproveUSD float64) *Coordinator {
	return &Coordinator{cap: cap, pos: pos, norm: norm, autoApproveUSD: autoApproveUSD}
}

// Run executes one cycle. It always returns a decision; upstream and exchange
// failures are folded into it rather than surfaced as errors.
func (c *Coordinator) Run(ctx context.Context, cycle models.CycleContext) models.FinalDecision {
	sig := cycle.Signal
	risk := cycle.Risk

	logger.Info("cycle %d %s: signal=%s conf=%.2f risk=%s approved=%v",
		cycle.CycleNumber, sig.Coin, sig.Signal, sig.Confidence, risk.Action, risk.Approved)

	// Risk-side emergency exit wins over everything, including its own
	// approval flag.
	if risk.Action == models.RiskCutLoss || risk.Action == models.RiskCloseLong || risk.Action == models.RiskCloseShort {
		return c.emergencyClose(ctx, cycle, fmt.Sprintf("risk manager ordered %s: %s", risk.Action, risk.Reason))
	}
	if sig.Signal == models.SignalClose || sig.Signal == models.SignalCutLoss {
		return c.emergencyClose(ctx, cycle, fmt.Sprintf("analyst ordered %s: %s", sig.Signal, sig.Reasoning))
	}

	// A holding analyst means no action. Only the emergency paths above may
	// act on a HOLD cycle; a risk-side SCALE_OUT does not.
	if sig.Signal == models.SignalHold || sig.Signal == "" {
		return models.FinalDecision{
			Action:    models.ActionNoTrade,
			Reasoning: nonEmpty(sig.Reasoning, "analyst holding"),
		}
	}

	if risk.Action == models.RiskScaleOut || sig.Signal == models.SignalScaleOut {
		return c.scaleOut(ctx, cycle)
	}

	if risk.Action == models.RiskReject {
		return models.FinalDecision{
			Action:    models.ActionRejected,
			Reasoning: nonEmpty(risk.Reason, "risk manager rejected the trade"),
		}
	}
	if !risk.Approved || risk.Action == models.RiskNoTrade || risk.Action == models.RiskHold {
		return models.FinalDecision{
			Action:    models.ActionNoTrade,
			Reasoning: nonEmpty(risk.Reason, "risk manager did not approve"),
		}
	}

	req, err := c.buildOrder(ctx, cycle)
	if err != nil {
		logger.Error("cycle %d %s: order build failed: %v", cycle.CycleNumber, sig.Coin, err)
		return models.FinalDecision{
			Action:    models.ActionNoTrade,
			Reasoning: fmt.Sprintf("could not build order: %v", err),
		}
	}

	if c.autoApproveUSD > 0 && req.SizeUSD > c.autoApproveUSD {
		return models.FinalDecision{
			Action:           models.ActionRequestApproval,
			Trade:            &req,
			Reasoning:        sig.Reasoning,
			RequiresApproval: true,
			ApprovalMessage: fmt.Sprintf("%s %s $%.2f %dx exceeds auto-approve limit $%.2f",
				req.Coin, req.Direction(), req.SizeUSD, req.Leverage, c.autoApproveUSD),
		}
	}

	return c.execute(ctx, cycle, req)
}

// Execute places an already-approved order. Used by the runner after the
// approval gate confirms a REQUEST_APPROVAL decision.
func (c *Coordinator) Execute(ctx context.Context, cycle models.CycleContext, req models.OrderRequest) models.FinalDecision {
	return c.execute(ctx, cycle, req)
}

// emergencyClose flattens the coin at market and records the exit. A close on
// a coin with no tracked position still calls the exchange: the tracker can
// lag reality and the panic path must not trust it.
func (c *Coordinator) emergencyClose(ctx context.Context, cycle models.CycleContext, reason string) models.FinalDecision {
	coin := cycle.Signal.Coin
	result, err := c.cap.ClosePosition(ctx, coin, 1.0)
	res := resultOf(result, err)
	if !res.Success {
		logger.Error("cycle %d %s: emergency close failed: %s", cycle.CycleNumber, coin, res.Err)
	}

	if res.Success {
		exitPrice := cycle.Market.LastPrice
		if exitPrice <= 0 {
			// Cold feed. Fall back to the entry price rather than record a
			// bogus exit at zero.
			if t, tErr := c.pos.OpenTrade(ctx, coin); tErr == nil && t != nil {
				exitPrice = t.EntryPrice
			}
		}
		if exitPrice <= 0 {
			logger.Error("cycle %d %s: closed on exchange but no usable exit price, manual reconciliation needed",
				cycle.CycleNumber, coin)
		} else if _, err := c.pos.Close(ctx, coin, exitPrice, reason); err != nil {
			logger.Error("cycle %d %s: close persisted on exchange but not in store, manual reconciliation needed: %v",
				cycle.CycleNumber, coin, err)
		}
	}

	return models.FinalDecision{
		Action:    models.ActionExecuted,
		Result:    &res,
		Reasoning: reason,
	}
}

// scaleOut takes half the position off at market. The trade record stays open.
func (c *Coordinator) scaleOut(ctx context.Context, cycle models.CycleContext) models.FinalDecision {
	coin := cycle.Signal.Coin
	result, err := c.cap.ClosePosition(ctx, coin, 0.5)
	res := resultOf(result, err)
	if !res.Success {
		logger.Error("cycle %d %s: scale-out failed: %s", cycle.CycleNumber, coin, res.Err)
	}
	return models.FinalDecision{
		Action:    models.ActionExecuted,
		Result:    &res,
		Reasoning: nonEmpty(cycle.Risk.Reason, "scaling out half the position"),
	}
}

// buildOrder turns the merged verdicts into an exchange-legal order request.
// Risk-manager sizing wins over the analyst's, the sizer fills the gaps and
// applies the equity-mode overrides.
func (c *Coordinator) buildOrder(ctx context.Context, cycle models.CycleContext) (models.OrderRequest, error) {
	sig := cycle.Signal
	risk := cycle.Risk

	isBuy, err := c.direction(ctx, cycle)
	if err != nil {
		return models.OrderRequest{}, err
	}

	sizer := sizing.New(c.norm.MaxLeverage(sig.Coin))
	plan := sizer.Plan(cycle.Account.Equity, sig.Confidence, sizing.Suggestion{
		SizeUSD:  firstPositive(risk.SizeUSD, sig.SizeUSD),
		Leverage: risk.Leverage,
	})

	entry := sig.EntryPrice
	if entry <= 0 {
		entry = cycle.Market.LastPrice
	}
	slPct, tpPct := exitPcts(entry, firstPositive(risk.StopLoss, sig.StopLoss), firstPositive(risk.TakeProfit, sig.TakeProfit))

	req := models.OrderRequest{
		Coin:     sig.Coin,
		IsBuy:    isBuy,
		SizeUSD:  c.norm.Size(sig.Coin, plan.SizeUSD),
		SizeMode: "usd",
		SlPct:    slPct,
		TpPct:    tpPct,
		Leverage: plan.Leverage,
	}
	logger.Info("cycle %d %s: sized %s mode=%s size=%.2f lev=%d sl=%.4f tp=%.4f",
		cycle.CycleNumber, req.Coin, req.Direction(), plan.Mode, req.SizeUSD, req.Leverage, slPct, tpPct)
	return req, nil
}

// direction resolves the trade side. SCALE_IN adds to whatever is already
// open; with nothing open it defaults long, which is wrong half the time and
// logged loudly for that reason.
func (c *Coordinator) direction(ctx context.Context, cycle models.CycleContext) (bool, error) {
	switch cycle.Signal.Signal {
	case models.SignalLong:
		return true, nil
	case models.SignalShort:
		return false, nil
	case models.SignalScaleIn:
	default:
		return false, fmt.Errorf("signal %q does not open a position", cycle.Signal.Signal)
	}

	if side := cycle.Account.PositionSide(cycle.Signal.Coin); side != "" {
		return side == models.DirLong, nil
	}
	if t, err := c.pos.OpenTrade(ctx, cycle.Signal.Coin); err == nil && t != nil {
		return t.Direction == models.DirLong, nil
	}
	logger.Error("cycle %d %s: SCALE_IN with no open position, assuming LONG", cycle.CycleNumber, cycle.Signal.Coin)
	return true, nil
}

// execute places the entry and persists the resulting trade. A persistence
// failure after a successful fill is reported but does not change the outcome:
// the exchange is the source of truth at that point.
func (c *Coordinator) execute(ctx context.Context, cycle models.CycleContext, req models.OrderRequest) models.FinalDecision {
	result, err := c.cap.PlaceEntry(ctx, req)
	res := resultOf(result, err)

	decision := models.FinalDecision{
		Action:    models.ActionExecuted,
		Trade:     &req,
		Result:    &res,
		Reasoning: cycle.Signal.Reasoning,
	}
	if !res.Success {
		logger.Error("cycle %d %s: entry failed: %s", cycle.CycleNumber, req.Coin, res.Err)
		return decision
	}

	entry := fillPrice(res.Raw)
	if entry <= 0 {
		entry = cycle.Signal.EntryPrice
	}
	if entry <= 0 {
		entry = cycle.Market.LastPrice
	}
	_, err = c.pos.Upsert(ctx, store.UpsertParams{
		Coin:                   req.Coin,
		Direction:              req.Direction(),
		EntryPrice:             entry,
		SizeUSD:                req.SizeUSD,
		Leverage:               req.Leverage,
		Reasoning:              cycle.Signal.Reasoning,
		StopLossPct:            req.SlPct,
		TakeProfitPct:          req.TpPct,
		InvalidationConditions: cycle.Risk.InvalidationConditions,
	})
	if err != nil {
		logger.Error("cycle %d %s: order filled but trade record not written, manual reconciliation needed: %v",
			cycle.CycleNumber, req.Coin, err)
	}
	return decision
}

// resultOf folds a capability call into an ExecResult. Transport errors and
// "Error"-prefixed result strings are both failures.
func resultOf(result string, err error) models.ExecResult {
	if err != nil {
		return models.ExecResult{Err: err.Error()}
	}
	if exchange.IsErrorResult(result) {
		return models.ExecResult{Raw: result, Err: result}
	}
	return models.ExecResult{Success: true, Raw: result}
}

// fillPrice pulls the fill price out of an order result. The bridge reports it
// as avgPx or entryPx, sometimes as a quoted string.
func fillPrice(raw string) float64 {
	if raw == "" {
		return 0
	}
	var body struct {
		AvgPx   sonicNumber `json:"avgPx"`
		EntryPx sonicNumber `json:"entryPx"`
	}
	if err := sonic.UnmarshalString(raw, &body); err != nil {
		return 0
	}
	if body.AvgPx > 0 {
		return float64(body.AvgPx)
	}
	return float64(body.EntryPx)
}

// sonicNumber decodes a JSON number that may arrive quoted.
type sonicNumber float64

func (n *sonicNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	*n = sonicNumber(f)
	return nil
}

// exitPcts converts absolute stop/target levels to entry-relative fractions.
func exitPcts(entry, slPx, tpPx float64) (slPct, tpPct float64) {
	if entry <= 0 {
		return 0, 0
	}
	if slPx > 0 {
		slPct = math.Abs(entry-slPx) / entry
	}
	if tpPx > 0 {
		tpPct = math.Abs(tpPx-entry) / entry
	}
	return slPct, tpPct
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
