package service

import (
	"context"
	"time"
	"trade_engine/internal/engine"
	"trade_engine/internal/exchange"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	feedsvc "trade_engine/internal/modules/feed/service"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/notify"
	"trade_engine/internal/shadow"
	"trade_engine/internal/signal"
	"trade_engine/internal/store"
	"trade_engine/pkg/logger"

	"github.com/opentracing/opentracing-go"
)

// Runner drives the decision loop: one cycle per interval, one terminal
// decision per cycle no matter what fails upstream.
type Runner struct {
	cfg *config.Config

	coord     *engine.Coordinator
	source    engine.Source
	cap       exchange.Capability
	feed      *feedsvc.Client
	sim       *shadow.Simulator
	ledger    shadow.Ledger
	inference store.Inference
	notifier  notify.Notifier

	cycle int64
}

func NewRunner(
	cfg *config.Config,
	coord *engine.Coordinator,
	source engine.Source,
	cap exchange.Capability,
	feed *feedsvc.Client,
	sim *shadow.Simulator,
	ledger shadow.Ledger,
	inference store.Inference,
	notifier notify.Notifier,
) *Runner {
	return &Runner{
		cfg:       cfg,
		coord:     coord,
		source:    source,
		cap:       cap,
		feed:      feed,
		sim:       sim,
		ledger:    ledger,
		inference: inference,
		notifier:  notifier,
	}
}

// Run blocks until ctx is cancelled. The first cycle fires immediately.
func (r *Runner) Run(ctx context.Context) {
	logger.Info("engine: starting, coin=%s interval=%s", r.cfg.Coin, r.cfg.CycleInterval)

	ticker := time.NewTicker(r.cfg.CycleInterval)
	defer ticker.Stop()

	r.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("engine: stopped after %d cycles", r.cycle)
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Runner) runCycle(ctx context.Context) {
	r.cycle++
	span := opentracing.StartSpan("engine.cycle")
	span.SetTag("cycle", r.cycle)
	span.SetTag("coin", r.cfg.Coin)
	defer span.Finish()
	ctx = opentracing.ContextWithSpan(ctx, span)

	account, err := r.cap.AccountState(ctx)
	if err != nil {
		logger.Error("cycle %d: account state unavailable: %v", r.cycle, err)
		account = models.AccountState{}
	}
	metrics.SetEquity(account.Equity)

	snap := r.feed.Snapshot(r.cfg.Coin)

	sig := r.fetchSignal(ctx, snap, account)
	risk := r.fetchRisk(ctx, sig, account)

	cycleCtx := models.CycleContext{
		CycleNumber: r.cycle,
		Signal:      sig,
		Risk:        risk,
		Account:     account,
		Market:      snap,
	}

	decision := r.coord.Run(ctx, cycleCtx)
	if decision.RequiresApproval && decision.Trade != nil {
		decision = r.resolveApproval(ctx, cycleCtx, decision)
	}
	span.SetTag("action", string(decision.Action))

	metrics.ObserveDecision(decision)
	r.announce(decision)
	r.record(ctx, cycleCtx, decision)

	// shadow path runs on its own copy and its own goroutine
	r.sim.Spawn(snap, account.Equity, sig)
	if stats, sErr := r.ledger.Stats(ctx); sErr == nil {
		metrics.SetShadowEquity(stats.CurrentEquity)
	}
}

func (r *Runner) fetchSignal(ctx context.Context, snap models.MarketSnapshot, account models.AccountState) models.TradeSignal {
	raw, err := r.source.AnalystSignal(ctx, snap, account)
	if err != nil {
		logger.Error("cycle %d: analyst unavailable: %v", r.cycle, err)
		return signal.FallbackSignal(r.cfg.Coin, err)
	}
	return signal.ParseSignal(raw, r.cfg.Coin)
}

func (r *Runner) fetchRisk(ctx context.Context, sig models.TradeSignal, account models.AccountState) models.RiskDecision {
	raw, err := r.source.RiskVerdict(ctx, sig, account)
	if err != nil {
		logger.Error("cycle %d: risk manager unavailable: %v", r.cycle, err)
		return signal.FallbackRiskDecision(err)
	}
	return signal.ParseRiskDecision(raw)
}

func (r *Runner) resolveApproval(ctx context.Context, cycleCtx models.CycleContext, d models.FinalDecision) models.FinalDecision {
	if r.notifier.Confirm(ctx, d.ApprovalMessage, r.cfg.ConfirmTimeout) {
		return r.coord.Execute(ctx, cycleCtx, *d.Trade)
	}
	return models.FinalDecision{
		Action:    models.ActionRejected,
		Trade:     d.Trade,
		Reasoning: "operator declined the order",
	}
}

func (r *Runner) announce(d models.FinalDecision) {
	switch d.Action {
	case models.ActionExecuted:
		if d.Trade != nil {
			ok := d.Result != nil && d.Result.Success
			mark := "✅"
			if !ok {
				mark = "❌"
			}
			r.notifier.Sendf("%s %s %s $%.2f %dx\n%s",
				mark, d.Trade.Direction(), d.Trade.Coin, d.Trade.SizeUSD, d.Trade.Leverage, d.Reasoning)
			return
		}
		r.notifier.Sendf("⚠️ Position closed: %s", d.Reasoning)
	case models.ActionRejected:
		r.notifier.Sendf("🚫 Rejected: %s", d.Reasoning)
	}
}

func (r *Runner) record(ctx context.Context, cycleCtx models.CycleContext, d models.FinalDecision) {
	rec := &models.InferenceRecord{
		CycleNumber: cycleCtx.CycleNumber,
		Coin:        cycleCtx.Signal.Coin,
		Signal:      cycleCtx.Signal.Signal,
		Confidence:  cycleCtx.Signal.Confidence,
		RiskAction:  cycleCtx.Risk.Action,
		Action:      d.Action,
		Reasoning:   d.Reasoning,
		Equity:      cycleCtx.Account.Equity,
		LastPrice:   cycleCtx.Market.LastPrice,
	}
	if err := r.inference.Record(ctx, rec); err != nil {
		logger.Error("cycle %d: inference log write failed: %v", cycleCtx.CycleNumber, err)
	}
}
