package engine

import (
	"context"
	"strings"
	"testing"
	"trade_engine/internal/exchange"
	"trade_engine/internal/models"
	"trade_engine/internal/precision"
	"trade_engine/internal/store"
)

func newTestCoordinator(autoApproveUSD float64) (*Coordinator, *exchange.Paper, *store.Memory) {
	paper := exchange.NewPaper(10000)
	mem := store.NewMemory()
	return NewCoordinator(paper, mem, precision.New(), autoApproveUSD), paper, mem
}

func cycleWith(sig models.TradeSignal, risk models.RiskDecision) models.CycleContext {
	return models.CycleContext{
		CycleNumber: 7,
		Signal:      sig,
		Risk:        risk,
		Account:     models.AccountState{Equity: 10000},
		Market:      models.MarketSnapshot{Coin: sig.Coin, LastPrice: 100000},
	}
}

func TestHoldProducesNoTrade(t *testing.T) {
	coord, paper, _ := newTestCoordinator(0)

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalHold, Reasoning: "range bound"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 500, Leverage: 10},
	))
	if d.Action != models.ActionNoTrade {
		t.Fatalf("action = %s, want NO_TRADE", d.Action)
	}
	if len(paper.Positions()) != 0 {
		t.Error("hold placed an order")
	}
}

func TestApprovedLongExecutesAndPersists(t *testing.T) {
	ctx := context.Background()
	coord, paper, mem := newTestCoordinator(0)
	paper.SetPrice(100000)

	d := coord.Run(ctx, cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.75, Reasoning: "breaking out of the weekly range"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 500, Leverage: 10,
			StopLoss: 95000, TakeProfit: 115000},
	))
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED", d.Action)
	}
	if d.Result == nil || !d.Result.Success {
		t.Fatalf("result = %+v, want success", d.Result)
	}
	if d.Trade == nil || !d.Trade.IsBuy || d.Trade.SizeUSD != 500 || d.Trade.Leverage != 10 {
		t.Errorf("order = %+v, want LONG 500 @ 10x", d.Trade)
	}

	pos, ok := paper.Positions()["BTC"]
	if !ok || pos.Direction != models.DirLong {
		t.Fatalf("exchange book = %+v, want open BTC long", paper.Positions())
	}

	tr, err := mem.OpenTrade(ctx, "BTC")
	if err != nil || tr == nil {
		t.Fatalf("OpenTrade: %v %v", tr, err)
	}
	if tr.Direction != models.DirLong || tr.EntryPrice != 100000 {
		t.Errorf("trade = %s @ %v, want LONG @ fill price 100000", tr.Direction, tr.EntryPrice)
	}
}

func TestUnapprovedSignalIsNoTrade(t *testing.T) {
	coord, paper, _ := newTestCoordinator(0)

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.8, Reasoning: "long setup"},
		models.RiskDecision{Approved: false, Action: models.RiskNoTrade, Reason: "drawdown limit hit"},
	))
	if d.Action != models.ActionNoTrade {
		t.Fatalf("action = %s, want NO_TRADE", d.Action)
	}
	if d.Reasoning != "drawdown limit hit" {
		t.Errorf("reasoning = %q, want the risk reason", d.Reasoning)
	}
	if len(paper.Positions()) != 0 {
		t.Error("unapproved signal placed an order")
	}
}

func TestRiskRejectIsRejected(t *testing.T) {
	coord, _, _ := newTestCoordinator(0)

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalShort, Confidence: 0.9, Reasoning: "lower highs stacking up"},
		models.RiskDecision{Approved: false, Action: models.RiskReject, Reason: "correlation too high"},
	))
	if d.Action != models.ActionRejected {
		t.Fatalf("action = %s, want REJECTED", d.Action)
	}
}

func TestAnalystCutLossOverridesApproval(t *testing.T) {
	ctx := context.Background()
	coord, paper, mem := newTestCoordinator(0)
	paper.SetPrice(100000)

	coord.Run(ctx, cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, Reasoning: "initial long entry here"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 500, Leverage: 10},
	))

	paper.SetPrice(94000)
	d := coord.Run(ctx, models.CycleContext{
		CycleNumber: 8,
		Signal:      models.TradeSignal{Coin: "BTC", Signal: models.SignalCutLoss, Reasoning: "thesis invalidated"},
		Risk:        models.RiskDecision{Approved: false, Action: models.RiskNoTrade},
		Account:     models.AccountState{Equity: 9700},
		Market:      models.MarketSnapshot{Coin: "BTC", LastPrice: 94000},
	})
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED emergency close", d.Action)
	}
	if d.Result == nil || !d.Result.Success {
		t.Fatalf("result = %+v, want success", d.Result)
	}
	if len(paper.Positions()) != 0 {
		t.Error("position still open after cut loss")
	}
	if tr, _ := mem.OpenTrade(ctx, "BTC"); tr != nil {
		t.Error("trade record still open after cut loss")
	}
}

func TestRiskCutLossClosesWithNoOpenPosition(t *testing.T) {
	coord, _, _ := newTestCoordinator(0)

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalHold, Reasoning: "waiting"},
		models.RiskDecision{Approved: false, Action: models.RiskCutLoss, Reason: "exposure breach"},
	))
	// The exchange call still happens and fails with an error string.
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED", d.Action)
	}
	if d.Result == nil || d.Result.Success {
		t.Fatal("close with nothing open should report failure")
	}
	if !strings.Contains(d.Result.Err, "no open position") {
		t.Errorf("err = %q", d.Result.Err)
	}
}

func TestScaleOutHalvesPosition(t *testing.T) {
	ctx := context.Background()
	coord, paper, _ := newTestCoordinator(0)
	paper.SetPrice(100000)

	coord.Run(ctx, cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, Reasoning: "entry for scale-out test"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 1000, Leverage: 10},
	))
	before := paper.Positions()["BTC"].Size

	d := coord.Run(ctx, cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalScaleOut, Reasoning: "taking half off here"},
		models.RiskDecision{Approved: false, Action: models.RiskScaleOut, Reason: "target one reached"},
	))
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED", d.Action)
	}
	after, ok := paper.Positions()["BTC"]
	if !ok {
		t.Fatal("scale-out closed the whole position")
	}
	if after.Size != before/2 {
		t.Errorf("size = %v, want half of %v", after.Size, before)
	}
}

func TestHoldIgnoresRiskScaleOut(t *testing.T) {
	ctx := context.Background()
	coord, paper, _ := newTestCoordinator(0)
	paper.SetPrice(100000)

	coord.Run(ctx, cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, Reasoning: "entry before the hold cycle"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 1000, Leverage: 10},
	))
	before := paper.Positions()["BTC"].Size

	d := coord.Run(ctx, cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalHold, Reasoning: "nothing new this cycle"},
		models.RiskDecision{Approved: false, Action: models.RiskScaleOut, Reason: "trim if entering"},
	))
	if d.Action != models.ActionNoTrade {
		t.Fatalf("action = %s, want NO_TRADE on a holding analyst", d.Action)
	}
	if paper.Positions()["BTC"].Size != before {
		t.Error("hold cycle touched the position")
	}
}

func TestEmergencyCloseColdFeedKeepsEntryPrice(t *testing.T) {
	ctx := context.Background()
	coord, paper, mem := newTestCoordinator(0)
	paper.SetPrice(100000)

	coord.Run(ctx, cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, Reasoning: "entry before the feed died"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 500, Leverage: 10},
	))

	cycle := cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalCutLoss, Reasoning: "thesis gone, get out now"},
		models.RiskDecision{Approved: false, Action: models.RiskNoTrade},
	)
	cycle.Market.LastPrice = 0

	d := coord.Run(ctx, cycle)
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED", d.Action)
	}

	recent, err := mem.Recent(ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("Recent: %v %v", recent, err)
	}
	tr := recent[0]
	if tr.Open() {
		t.Fatal("trade still open after emergency close")
	}
	if tr.ExitPrice != 100000 {
		t.Errorf("exit price = %v, want entry-price fallback 100000", tr.ExitPrice)
	}
	if tr.PnlUSD != 0 {
		t.Errorf("pnl = %v, want 0 at the entry-price fallback", tr.PnlUSD)
	}
}

func TestSignalSizeUsedWhenRiskOmitsIt(t *testing.T) {
	coord, paper, _ := newTestCoordinator(0)
	paper.SetPrice(100000)

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, SizeUSD: 400,
			Reasoning: "analyst sized this one itself"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 0, Leverage: 10},
	))
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED", d.Action)
	}
	if d.Trade.SizeUSD != 400 {
		t.Errorf("size = %v, want the signal's 400", d.Trade.SizeUSD)
	}
}

func TestRiskSizeOutranksSignalSize(t *testing.T) {
	coord, paper, _ := newTestCoordinator(0)
	paper.SetPrice(100000)

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, SizeUSD: 900,
			Reasoning: "both sides carry a size"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 250, Leverage: 10},
	))
	if d.Trade == nil || d.Trade.SizeUSD != 250 {
		t.Fatalf("order = %+v, want risk-side 250", d.Trade)
	}
}

func TestErrorResultStringIsFailure(t *testing.T) {
	coord, paper, mem := newTestCoordinator(0)
	paper.FailWith = "Error: insufficient margin"

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, Reasoning: "long on strength again"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 500, Leverage: 10},
	))
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED with failed result", d.Action)
	}
	if d.Result == nil || d.Result.Success {
		t.Fatal("error-string result must not be a success")
	}
	if tr, _ := mem.OpenTrade(context.Background(), "BTC"); tr != nil {
		t.Error("failed entry must not persist a trade")
	}
}

func TestLargeOrderWaitsForApproval(t *testing.T) {
	coord, paper, _ := newTestCoordinator(400)

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, Reasoning: "sized above the gate"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 500, Leverage: 10},
	))
	if d.Action != models.ActionRequestApproval {
		t.Fatalf("action = %s, want REQUEST_APPROVAL", d.Action)
	}
	if !d.RequiresApproval || d.Trade == nil || d.ApprovalMessage == "" {
		t.Fatalf("decision = %+v, want pending order attached", d)
	}
	if len(paper.Positions()) != 0 {
		t.Error("order executed before approval")
	}

	// The runner resolves the gate by calling Execute with the same order.
	res := coord.Execute(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, Reasoning: "sized above the gate"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 500, Leverage: 10},
	), *d.Trade)
	if res.Action != models.ActionExecuted || res.Result == nil || !res.Result.Success {
		t.Fatalf("post-approval execute = %+v", res)
	}
	if len(paper.Positions()) != 1 {
		t.Error("approved order not placed")
	}
}

func TestSmallOrderSkipsApprovalGate(t *testing.T) {
	coord, paper, _ := newTestCoordinator(600)
	paper.SetPrice(100000)

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalLong, Confidence: 0.7, Reasoning: "sized under the gate"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 500, Leverage: 10},
	))
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED", d.Action)
	}
}

func TestScaleInFollowsOpenDirection(t *testing.T) {
	ctx := context.Background()
	coord, paper, _ := newTestCoordinator(0)
	paper.SetPrice(100000)

	cycle := cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalScaleIn, Confidence: 0.7, Reasoning: "adding to the short"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 300, Leverage: 10},
	)
	cycle.Account.OpenPositions = []models.OpenPosition{{Coin: "BTC", Direction: models.DirShort, Size: 0.01, EntryPrice: 101000}}

	d := coord.Run(ctx, cycle)
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED", d.Action)
	}
	if d.Trade.IsBuy {
		t.Error("scale-in on a short must sell")
	}
}

func TestScaleInWithNothingOpenDefaultsLong(t *testing.T) {
	coord, _, _ := newTestCoordinator(0)

	d := coord.Run(context.Background(), cycleWith(
		models.TradeSignal{Coin: "BTC", Signal: models.SignalScaleIn, Confidence: 0.7, Reasoning: "adding to nothing at all"},
		models.RiskDecision{Approved: true, Action: models.RiskApprove, SizeUSD: 300, Leverage: 10},
	))
	if d.Action != models.ActionExecuted {
		t.Fatalf("action = %s, want EXECUTED", d.Action)
	}
	if !d.Trade.IsBuy {
		t.Error("fallback direction must be LONG")
	}
}

func TestFillPriceParsing(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{`{"status":"ok","avgPx":98123.5}`, 98123.5},
		{`{"status":"ok","avgPx":"98123.5"}`, 98123.5},
		{`{"entryPx":"3421.1"}`, 3421.1},
		{`{"status":"ok"}`, 0},
		{`not json`, 0},
		{``, 0},
	}
	for _, c := range cases {
		if got := fillPrice(c.raw); got != c.want {
			t.Errorf("fillPrice(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}
