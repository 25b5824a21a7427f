package shadow

import (
	"context"
	"math"
	"testing"
	"time"
	"trade_engine/internal/models"
)

func newTestSim() (*Simulator, *MemoryStore, *MemoryLedger) {
	store := NewMemoryStore()
	ledger := NewMemoryLedger()
	sim := NewSimulator(store, ledger, nil, Config{})
	return sim, store, ledger
}

func seedLong(t *testing.T, store *MemoryStore, entry, stop, target float64) *models.ShadowTrade {
	t.Helper()
	tr := &models.ShadowTrade{
		OpenedAt:   time.Now().UTC().Add(-30 * time.Minute),
		Coin:       "BTC",
		Signal:     models.SignalLong,
		EntryPrice: entry,
		SizeUSD:    720,
		Leverage:   20,
		StopLoss:   stop,
		TakeProfit: target,
	}
	if err := store.Insert(context.Background(), tr); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return tr
}

func TestStopTriggerSettlesAtCurrentPrice(t *testing.T) {
	ctx := context.Background()
	sim, store, ledger := newTestSim()

	if _, err := ledger.GetOrCreate(ctx, 40); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	tr := seedLong(t, store, 100, 95, 120)

	if err := sim.EvaluateOpenTrades(ctx, "BTC", 94); err != nil {
		t.Fatalf("EvaluateOpenTrades: %v", err)
	}

	open, _ := store.OpenByCoin(ctx, "BTC")
	if len(open) != 0 {
		t.Fatal("trade still open after stop trigger")
	}

	last, _ := store.LastClosed(ctx)
	if last == nil || last.ID != tr.ID {
		t.Fatal("closed trade not found")
	}
	if last.CloseReason != CloseStopLoss {
		t.Errorf("reason = %q, want %q", last.CloseReason, CloseStopLoss)
	}

	// gross = (94-100)/100 * 720 * 20 = -864
	gross := -0.06 * 720 * 20
	fees := 2 * 720 * DefaultFeeRate
	slip := 2 * 720 * DefaultSlippageRate
	wantNet := gross - fees - slip
	if last.PnlUSD == nil || math.Abs(*last.PnlUSD-wantNet) > 1e-9 {
		t.Errorf("net pnl = %v, want %v", last.PnlUSD, wantNet)
	}
	if last.ExitPrice == nil || *last.ExitPrice != 94 {
		t.Errorf("exit price = %v, want 94", last.ExitPrice)
	}
	if last.FeesUSD == nil || *last.FeesUSD != fees {
		t.Errorf("fees = %v, want %v", last.FeesUSD, fees)
	}
	if last.DurationMin == nil || *last.DurationMin < 29 {
		t.Errorf("duration = %v, want about 30 minutes", last.DurationMin)
	}

	acct, _ := ledger.GetOrCreate(ctx, 9999)
	if acct.LosingTrades != 1 || acct.WinningTrades != 0 {
		t.Errorf("counters = %d/%d, want 0 wins 1 loss", acct.WinningTrades, acct.LosingTrades)
	}
	if math.Abs(acct.CurrentEquity-(40+wantNet)) > 1e-9 {
		t.Errorf("equity = %v, want %v", acct.CurrentEquity, 40+wantNet)
	}
	if acct.InitialEquity != 40 {
		t.Error("ledger re-seeded on later GetOrCreate")
	}
}

func TestTargetTriggerCountsWin(t *testing.T) {
	ctx := context.Background()
	sim, store, ledger := newTestSim()

	ledger.GetOrCreate(ctx, 100)
	seedLong(t, store, 100, 90, 110)

	if err := sim.EvaluateOpenTrades(ctx, "BTC", 112); err != nil {
		t.Fatalf("EvaluateOpenTrades: %v", err)
	}

	acct, _ := ledger.GetOrCreate(ctx, 0)
	if acct.WinningTrades != 1 {
		t.Errorf("wins = %d, want 1", acct.WinningTrades)
	}
	last, _ := store.LastClosed(ctx)
	if last.CloseReason != CloseTakeProfit {
		t.Errorf("reason = %q, want %q", last.CloseReason, CloseTakeProfit)
	}
}

func TestNoTriggerLeavesTradeOpen(t *testing.T) {
	ctx := context.Background()
	sim, store, ledger := newTestSim()

	ledger.GetOrCreate(ctx, 100)
	seedLong(t, store, 100, 95, 120)

	if err := sim.EvaluateOpenTrades(ctx, "BTC", 101); err != nil {
		t.Fatalf("EvaluateOpenTrades: %v", err)
	}
	open, _ := store.OpenByCoin(ctx, "BTC")
	if len(open) != 1 {
		t.Errorf("open = %d, want 1", len(open))
	}
}

func TestRunCycleOpensEntrySignal(t *testing.T) {
	ctx := context.Background()
	sim, store, _ := newTestSim()

	snap := models.MarketSnapshot{Coin: "BTC", LastPrice: 100000}
	sig := models.TradeSignal{
		Coin: "BTC", Signal: models.SignalLong, Confidence: 0.8,
		StopLoss: 95000, TakeProfit: 110000,
		Reasoning: "clean breakout above prior range high",
	}
	if err := sim.RunCycle(ctx, snap, 40, sig); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	open, _ := store.OpenByCoin(ctx, "BTC")
	if len(open) != 1 {
		t.Fatalf("open = %d, want 1", len(open))
	}
	tr := open[0]

	// 40 * 0.9 * 20 = 720, under the $1000 cap
	if math.Abs(tr.SizeUSD-720) > 1e-9 {
		t.Errorf("size = %v, want 720", tr.SizeUSD)
	}
	if tr.Leverage != 20 {
		t.Errorf("leverage = %d, want 20", tr.Leverage)
	}
	if tr.EntryPrice != 100000 {
		t.Errorf("entry = %v, want snapshot price", tr.EntryPrice)
	}
	if tr.ContextHash == "" || len(tr.Trace) == 0 {
		t.Error("context hash / trace not recorded")
	}
}

func TestRunCycleSizingCappedAtThousand(t *testing.T) {
	ctx := context.Background()
	sim, store, _ := newTestSim()

	sig := models.TradeSignal{
		Coin: "BTC", Signal: models.SignalShort, Confidence: 0.7,
		Reasoning: "rolling over after failed retest attempt",
	}
	snap := models.MarketSnapshot{Coin: "BTC", LastPrice: 50000}
	if err := sim.RunCycle(ctx, snap, 5000, sig); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	open, _ := store.OpenByCoin(ctx, "BTC")
	if len(open) != 1 || open[0].SizeUSD != 1000 {
		t.Fatalf("size = %v, want capped 1000", open[0].SizeUSD)
	}
}

func TestRunCycleHoldOpensNothing(t *testing.T) {
	ctx := context.Background()
	sim, store, _ := newTestSim()

	sig := models.TradeSignal{Coin: "BTC", Signal: models.SignalHold, Reasoning: "chop, nothing to do here"}
	if err := sim.RunCycle(ctx, models.MarketSnapshot{Coin: "BTC", LastPrice: 100}, 40, sig); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if n, _ := store.OpenCount(ctx); n != 0 {
		t.Errorf("open = %d, want 0", n)
	}
}

func TestRunCycleCloseFlattensWithoutNewRow(t *testing.T) {
	ctx := context.Background()
	sim, store, ledger := newTestSim()

	ledger.GetOrCreate(ctx, 100)
	seedLong(t, store, 100, 90, 150)
	seedLong(t, store, 102, 90, 150)

	sig := models.TradeSignal{Coin: "BTC", Signal: models.SignalClose, Reasoning: "momentum gone, exit everything now"}
	if err := sim.RunCycle(ctx, models.MarketSnapshot{Coin: "BTC", LastPrice: 105}, 100, sig); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if n, _ := store.OpenCount(ctx); n != 0 {
		t.Errorf("open = %d, want all flattened", n)
	}
	acct, _ := ledger.GetOrCreate(ctx, 0)
	if acct.TotalTrades != 2 {
		t.Errorf("settled = %d, want 2 and no new row", acct.TotalTrades)
	}
}

func TestCloseOutcomeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tr := seedLong(t, store, 100, 95, 120)
	exit, pnl := 94.0, -10.0
	tr.ExitPrice = &exit
	tr.PnlUSD = &pnl

	if err := store.CloseOutcome(ctx, tr); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := store.CloseOutcome(ctx, tr); err == nil {
		t.Fatal("second close must fail")
	}
}

func TestZeroEquityNeverSeedsLedger(t *testing.T) {
	ctx := context.Background()
	sim, store, ledger := newTestSim()

	sig := models.TradeSignal{
		Coin: "BTC", Signal: models.SignalLong, Confidence: 0.8,
		Reasoning: "good setup on a bad cycle",
	}
	snap := models.MarketSnapshot{Coin: "BTC", LastPrice: 100}

	// account snapshot failed upstream, equity arrives as zero
	if err := sim.RunCycle(ctx, snap, 0, sig); err == nil {
		t.Fatal("cycle with zero equity must not seed the ledger")
	}
	if n, _ := store.OpenCount(ctx); n != 0 {
		t.Errorf("open = %d, want nothing opened", n)
	}

	// next cycle the exchange is back; the real equity seeds the ledger
	if err := sim.RunCycle(ctx, snap, 40, sig); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	acct, err := ledger.GetOrCreate(ctx, 0)
	if err != nil {
		t.Fatalf("GetOrCreate read: %v", err)
	}
	if acct.InitialEquity != 40 {
		t.Errorf("initial equity = %v, want 40", acct.InitialEquity)
	}
}

func TestLedgerAccumulation(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.GetOrCreate(ctx, 100)

	l.ApplyClose(ctx, 50, 2, 1, true)
	l.ApplyClose(ctx, -20, 2, 1, false)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	// net: +47 then -23 => equity 124
	if math.Abs(stats.CurrentEquity-124) > 1e-9 {
		t.Errorf("equity = %v, want 124", stats.CurrentEquity)
	}
	if stats.WinRate != 50 {
		t.Errorf("win rate = %v, want 50", stats.WinRate)
	}
	if math.Abs(stats.AvgPnlPerTrade-12) > 1e-9 {
		t.Errorf("avg pnl = %v, want 12", stats.AvgPnlPerTrade)
	}
	if math.Abs(stats.EquityChangePct-24) > 1e-9 {
		t.Errorf("equity change = %v%%, want 24", stats.EquityChangePct)
	}
}
