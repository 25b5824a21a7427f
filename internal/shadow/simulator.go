package shadow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
)

const (
	// Per-side rates; a round trip pays both sides.
	DefaultFeeRate      = 0.0003
	DefaultSlippageRate = 0.0001

	shadowLeverage    = 20
	shadowMaxNotional = 1000.0
	shadowSafety      = 0.9
)

const (
	CloseStopLoss   = "STOP_LOSS"
	CloseTakeProfit = "TAKE_PROFIT"
)

// Notifier receives shadow lifecycle events; may be nil.
type Notifier interface {
	ShadowOpened(t *models.ShadowTrade, openCount int)
	ShadowClosed(t *models.ShadowTrade, stats models.ShadowStats)
}

type Config struct {
	FeeRate      float64
	SlippageRate float64
}

// Simulator is the paper-trading twin of the live path. It consumes immutable
// cycle snapshots, never touches the exchange, and never propagates failures
// to the live loop.
type Simulator struct {
	store  Store
	ledger Ledger
	n      Notifier

	feeRate      float64
	slippageRate float64
}

func NewSimulator(store Store, ledger Ledger, n Notifier, cfg Config) *Simulator {
	fee := cfg.FeeRate
	if fee <= 0 {
		fee = DefaultFeeRate
	}
	slip := cfg.SlippageRate
	if slip <= 0 {
		slip = DefaultSlippageRate
	}
	return &Simulator{
		store:        store,
		ledger:       ledger,
		n:            n,
		feeRate:      fee,
		slippageRate: slip,
	}
}

// Spawn runs one shadow cycle detached from the live loop. The snapshot and
// signal are copies owned by this goroutine; panics and errors end up in the
// log, never in the caller.
func (s *Simulator) Spawn(snap models.MarketSnapshot, realEquity float64, sig models.TradeSignal) {
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("shadow: cycle panic (dead-letter): %v", p)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.RunCycle(ctx, snap, realEquity, sig); err != nil {
			logger.Error("shadow: cycle failed: %v", err)
		}
	}()
}

// RunCycle resolves prior positions first, then considers the new signal:
// CLOSE/CUT_LOSS flattens the coin, HOLD does nothing, directional entries
// open a new shadow trade sized off shadow equity.
func (s *Simulator) RunCycle(ctx context.Context, snap models.MarketSnapshot, realEquity float64, sig models.TradeSignal) error {
	account, err := s.ledger.GetOrCreate(ctx, realEquity)
	if err != nil {
		return err
	}

	if snap.LastPrice > 0 {
		if err := s.EvaluateOpenTrades(ctx, snap.Coin, snap.LastPrice); err != nil {
			return err
		}
	}

	switch sig.Signal {
	case models.SignalClose, models.SignalCutLoss:
		if snap.LastPrice <= 0 {
			return nil
		}
		// Flatten, do not record a row for the close itself.
		return s.CloseAll(ctx, sig.Coin, snap.LastPrice, string(sig.Signal))
	}
	if !sig.Signal.Entry() {
		return nil
	}

	return s.openTrade(ctx, snap, account, sig)
}

func (s *Simulator) openTrade(ctx context.Context, snap models.MarketSnapshot, account *models.ShadowAccount, sig models.TradeSignal) error {
	entry := sig.EntryPrice
	if entry <= 0 {
		entry = snap.LastPrice
	}
	if entry <= 0 {
		logger.Info("shadow: no usable entry price for %s, skipping", sig.Coin)
		return nil
	}

	size := shadowMaxNotional
	if account.CurrentEquity > 0 {
		size = account.CurrentEquity * shadowSafety * shadowLeverage
		if size > shadowMaxNotional {
			size = shadowMaxNotional
		}
	}

	hash, trace := traceOf(snap, sig, account.CurrentEquity)
	t := &models.ShadowTrade{
		OpenedAt:      time.Now().UTC(),
		Coin:          sig.Coin,
		Signal:        sig.Signal,
		Confidence:    sig.Confidence,
		EntryPrice:    entry,
		SizeUSD:       size,
		Leverage:      shadowLeverage,
		StopLoss:      sig.StopLoss,
		TakeProfit:    sig.TakeProfit,
		AccountEquity: account.CurrentEquity,
		ContextHash:   hash,
		Trace:         trace,
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return err
	}

	logger.Info("shadow: opened %s %s @ %.2f size=%.2f equity=%.2f",
		t.Coin, t.Signal, t.EntryPrice, t.SizeUSD, account.CurrentEquity)

	if s.n != nil {
		count, _ := s.store.OpenCount(ctx)
		s.n.ShadowOpened(t, count)
	}
	return nil
}

// EvaluateOpenTrades checks stop/target crossings for every open shadow trade
// on coin and settles the ones that triggered. Runs before any open in the
// same cycle so prior positions are resolved first.
func (s *Simulator) EvaluateOpenTrades(ctx context.Context, coin string, currentPrice float64) error {
	if currentPrice <= 0 {
		return nil
	}
	open, err := s.store.OpenByCoin(ctx, coin)
	if err != nil {
		return err
	}

	for _, t := range open {
		reason := triggeredExit(t, currentPrice)
		if reason == "" {
			continue
		}
		if err := s.settle(ctx, t, currentPrice, reason); err != nil {
			return err
		}
	}
	return nil
}

// CloseAll settles every open shadow trade on coin at the current price.
func (s *Simulator) CloseAll(ctx context.Context, coin string, currentPrice float64, reason string) error {
	open, err := s.store.OpenByCoin(ctx, coin)
	if err != nil {
		return err
	}
	for _, t := range open {
		if err := s.settle(ctx, t, currentPrice, reason); err != nil {
			return err
		}
	}
	return nil
}

// triggeredExit reports whether price crossed the trade's stop or target.
// Shorts are mirrored. The trade settles at the current price, not the level:
// a gap through the stop fills where the market is.
func triggeredExit(t *models.ShadowTrade, price float64) string {
	switch t.Signal {
	case models.SignalLong, models.SignalScaleIn:
		if t.StopLoss > 0 && price <= t.StopLoss {
			return CloseStopLoss
		}
		if t.TakeProfit > 0 && price >= t.TakeProfit {
			return CloseTakeProfit
		}
	case models.SignalShort:
		if t.StopLoss > 0 && price >= t.StopLoss {
			return CloseStopLoss
		}
		if t.TakeProfit > 0 && price <= t.TakeProfit {
			return CloseTakeProfit
		}
	}
	return ""
}

// settle writes the full outcome exactly once and applies it to the ledger.
func (s *Simulator) settle(ctx context.Context, t *models.ShadowTrade, exitPrice float64, reason string) error {
	if t.Closed() || t.EntryPrice <= 0 {
		return nil
	}

	dir := models.DirLong
	if t.Signal == models.SignalShort {
		dir = models.DirShort
	}
	rawPct := models.DirectionalPct(t.EntryPrice, exitPrice, dir)
	gross := rawPct * t.SizeUSD * float64(t.Leverage)
	fees := 2 * t.SizeUSD * s.feeRate
	slippage := 2 * t.SizeUSD * s.slippageRate
	net := gross - fees - slippage
	pnlPct := rawPct * float64(t.Leverage) * 100
	duration := time.Since(t.OpenedAt).Minutes()

	t.ExitPrice = &exitPrice
	t.PnlUSD = &net
	t.PnlPct = &pnlPct
	t.FeesUSD = &fees
	t.SlippageUSD = &slippage
	t.DurationMin = &duration
	t.CloseReason = reason

	if err := s.store.CloseOutcome(ctx, t); err != nil {
		return err
	}
	if err := s.ledger.ApplyClose(ctx, gross, fees, slippage, net > 0); err != nil {
		return err
	}

	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		return err
	}
	logger.Info("shadow: closed trade %d (%s) net=%.2f equity=%.2f (%+.1f%%)",
		t.ID, reason, net, stats.CurrentEquity, stats.EquityChangePct)

	if s.n != nil {
		s.n.ShadowClosed(t, stats)
	}
	return nil
}

// traceOf builds the dedup hash and the audit trace blob for one decision.
func traceOf(snap models.MarketSnapshot, sig models.TradeSignal, equity float64) (string, []byte) {
	payload := struct {
		Snapshot models.MarketSnapshot `json:"snapshot"`
		Signal   models.TradeSignal    `json:"signal"`
		Equity   float64               `json:"equity"`
	}{snap, sig, equity}

	trace, err := sonic.Marshal(payload)
	if err != nil {
		return "", nil
	}
	sum := sha256.Sum256(trace)
	return hex.EncodeToString(sum[:]), trace
}
