package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"trade_engine/internal/models"
)

// Memory implements Positions on maps. Used by tests and paper runs; the pg
// store carries the same contract.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	trades map[int64]*models.Trade
	plans  map[int64]*models.ExitPlan // keyed by trade ID
}

func NewMemory() *Memory {
	return &Memory{
		trades: make(map[int64]*models.Trade),
		plans:  make(map[int64]*models.ExitPlan),
	}
}

func (m *Memory) Upsert(ctx context.Context, p UpsertParams) (t *models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Memory.Upsert: %w", err)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.openLocked(p.Coin); existing != nil {
		plan := m.plans[existing.ID]
		if plan == nil {
			plan = &models.ExitPlan{TradeID: existing.ID, Status: models.PlanActive}
			m.plans[existing.ID] = plan
		}
		applyPlan(plan, existing, p)
		return existing, nil
	}

	m.nextID++
	t = &models.Trade{
		ID:         m.nextID,
		Coin:       p.Coin,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		SizeUSD:    p.SizeUSD,
		Leverage:   p.Leverage,
		OpenedAt:   time.Now().UTC(),
		Reasoning:  p.Reasoning,
	}
	m.trades[t.ID] = t

	plan := &models.ExitPlan{TradeID: t.ID, Status: models.PlanActive}
	applyPlan(plan, t, p)
	m.plans[t.ID] = plan
	return t, nil
}

func applyPlan(plan *models.ExitPlan, t *models.Trade, p UpsertParams) {
	if p.StopLossPct > 0 {
		plan.StopLossPct = p.StopLossPct
	}
	if p.TakeProfitPct > 0 {
		plan.TakeProfitPct = p.TakeProfitPct
	}
	if len(p.InvalidationConditions) > 0 {
		plan.InvalidationConditions = p.InvalidationConditions
	}
	plan.StopLossPrice, plan.TakeProfitPrice = planPrices(
		t.EntryPrice, plan.StopLossPct, plan.TakeProfitPct, t.Direction,
	)
	plan.UpdatedAt = time.Now().UTC()
}

func (m *Memory) Close(ctx context.Context, coin string, exitPrice float64, reason string) (t *models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Memory.Close: %w", err)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	t = m.openLocked(coin)
	if t == nil {
		return nil, nil
	}
	closeTrade(t, exitPrice, reason, time.Now().UTC())
	return t, nil
}

func (m *Memory) openLocked(coin string) *models.Trade {
	for _, t := range m.trades {
		if t.Coin == coin && t.Open() {
			return t
		}
	}
	return nil
}

func (m *Memory) OpenTrade(ctx context.Context, coin string) (*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openLocked(coin), nil
}

func (m *Memory) Open(ctx context.Context) ([]*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Trade
	for _, t := range m.trades {
		if t.Open() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Recent(ctx context.Context, limit int) ([]*models.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Trade, 0, len(m.trades))
	for _, t := range m.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Plan(ctx context.Context, tradeID int64) (*models.ExitPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plans[tradeID], nil
}

func (m *Memory) InvalidatePlan(ctx context.Context, tradeID int64, reason string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Memory.InvalidatePlan: %w", err)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	plan, ok := m.plans[tradeID]
	if !ok {
		return fmt.Errorf("no plan for trade %d", tradeID)
	}
	now := time.Now().UTC()
	plan.Status = models.PlanInvalidated
	plan.TriggeredAt = &now
	plan.TriggeredReason = reason
	return nil
}

func (m *Memory) Performance(ctx context.Context, window time.Duration) (models.Performance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-window)
	var perf models.Performance
	for _, t := range m.trades {
		if t.Open() || t.ClosedAt.Before(cutoff) {
			continue
		}
		perf.TotalTrades++
		perf.TotalPnlUSD += t.PnlUSD
		if t.PnlPct > 0 {
			perf.Wins++
		} else {
			perf.Losses++
		}
	}
	if perf.TotalTrades > 0 {
		perf.WinRate = float64(perf.Wins) / float64(perf.TotalTrades) * 100
	}
	return perf, nil
}
