package shadow

import (
	"context"
	"fmt"
	"sync"
	"time"
	"trade_engine/internal/models"
)

// MemoryStore keeps shadow trades in maps, mirroring the pg store contract.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]*models.ShadowTrade
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*models.ShadowTrade)}
}

func (m *MemoryStore) Insert(ctx context.Context, t *models.ShadowTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	t.ID = m.nextID
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now().UTC()
	}
	cp := *t
	m.rows[t.ID] = &cp
	return nil
}

func (m *MemoryStore) OpenByCoin(ctx context.Context, coin string) ([]*models.ShadowTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.ShadowTrade
	for _, t := range m.rows {
		if t.Coin == coin && !t.Closed() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CloseOutcome(ctx context.Context, t *models.ShadowTrade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("MemoryStore.CloseOutcome: %w", err)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[t.ID]
	if !ok {
		return fmt.Errorf("shadow trade %d not found", t.ID)
	}
	if row.Closed() {
		return fmt.Errorf("shadow trade %d already closed", t.ID)
	}
	cp := *t
	m.rows[t.ID] = &cp
	return nil
}

func (m *MemoryStore) OpenCount(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.rows {
		if !t.Closed() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LastClosed(ctx context.Context) (*models.ShadowTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *models.ShadowTrade
	for _, t := range m.rows {
		if !t.Closed() {
			continue
		}
		if last == nil || t.ID > last.ID {
			last = t
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

// MemoryLedger is the in-memory shadow account, single row by construction.
type MemoryLedger struct {
	mu      sync.Mutex
	account *models.ShadowAccount
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) GetOrCreate(ctx context.Context, seedEquity float64) (*models.ShadowAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.account == nil {
		if seedEquity <= 0 {
			return nil, fmt.Errorf("MemoryLedger.GetOrCreate: refusing to seed with equity %.2f", seedEquity)
		}
		now := time.Now().UTC()
		l.account = &models.ShadowAccount{
			ID:            1,
			CreatedAt:     now,
			UpdatedAt:     now,
			InitialEquity: seedEquity,
			CurrentEquity: seedEquity,
		}
	}
	cp := *l.account
	return &cp, nil
}

func (l *MemoryLedger) ApplyClose(ctx context.Context, grossPnl, fees, slippage float64, isWin bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.account == nil {
		return fmt.Errorf("MemoryLedger.ApplyClose: account not seeded")
	}
	net := grossPnl - fees - slippage
	l.account.CurrentEquity += net
	l.account.CumulativePnl += net
	l.account.CumulativeFees += fees
	l.account.CumulativeSlippage += slippage
	l.account.TotalTrades++
	if isWin {
		l.account.WinningTrades++
	} else {
		l.account.LosingTrades++
	}
	l.account.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) Stats(ctx context.Context) (models.ShadowStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.account == nil {
		return models.ShadowStats{}, nil
	}
	return deriveStats(l.account), nil
}

// deriveStats computes the read-only projections; nothing here is ever stored.
func deriveStats(a *models.ShadowAccount) models.ShadowStats {
	s := models.ShadowStats{
		CurrentEquity: a.CurrentEquity,
		CumulativePnl: a.CumulativePnl,
	}
	if a.TotalTrades > 0 {
		s.WinRate = float64(a.WinningTrades) / float64(a.TotalTrades) * 100
		s.AvgPnlPerTrade = a.CumulativePnl / float64(a.TotalTrades)
	}
	if a.InitialEquity > 0 {
		s.EquityChangePct = (a.CurrentEquity - a.InitialEquity) / a.InitialEquity * 100
	}
	return s
}
