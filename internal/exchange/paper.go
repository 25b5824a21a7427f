package exchange

import (
	"context"
	"fmt"
	"sync"
	"trade_engine/internal/models"
)

// Paper is an in-memory capability used for dry runs and tests. Orders never
// touch an exchange; entries and closes mutate a local position book.
type Paper struct {
	mu     sync.Mutex
	equity float64
	price  float64
	book   map[string]models.OpenPosition

	// FailWith, when set, is returned as the result string of the next
	// mutating call, exercising the error-string failure path.
	FailWith string
}

func NewPaper(equity float64) *Paper {
	return &Paper{
		equity: equity,
		book:   make(map[string]models.OpenPosition),
	}
}

func (p *Paper) SetPrice(px float64) {
	p.mu.Lock()
	p.price = px
	p.mu.Unlock()
}

func (p *Paper) PlaceEntry(ctx context.Context, req models.OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != "" {
		res := p.FailWith
		p.FailWith = ""
		return res, nil
	}

	px := p.price
	if px <= 0 {
		px = 100000 // bootstrap price if none seen yet
	}
	p.book[req.Coin] = models.OpenPosition{
		Coin:       req.Coin,
		Direction:  req.Direction(),
		Size:       req.SizeUSD / px,
		EntryPrice: px,
	}
	return fmt.Sprintf(`{"status":"ok","avgPx":%f}`, px), nil
}

func (p *Paper) ClosePosition(ctx context.Context, coin string, fraction float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != "" {
		res := p.FailWith
		p.FailWith = ""
		return res, nil
	}

	pos, ok := p.book[coin]
	if !ok {
		return fmt.Sprintf("Error: no open position for %s", coin), nil
	}
	if fraction >= 1 {
		delete(p.book, coin)
	} else {
		pos.Size *= 1 - fraction
		p.book[coin] = pos
	}
	return `{"status":"ok"}`, nil
}

func (p *Paper) CloseAllPositions(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.book = make(map[string]models.OpenPosition)
	return `{"status":"ok"}`, nil
}

func (p *Paper) AccountState(ctx context.Context) (models.AccountState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := models.AccountState{Equity: p.equity, Withdrawable: p.equity}
	for _, pos := range p.book {
		state.OpenPositions = append(state.OpenPositions, pos)
	}
	return state, nil
}

// Positions returns a copy of the book, for assertions.
func (p *Paper) Positions() map[string]models.OpenPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.OpenPosition, len(p.book))
	for k, v := range p.book {
		out[k] = v
	}
	return out
}
