package precision

import (
	"context"
	"math"
	"sync"
	"trade_engine/internal/models"
	"trade_engine/pkg/logger"
)

const (
	defaultSzDecimals = 5
	wholePxThreshold  = 10000
	defaultMaxLev     = 40
)

// MetaSource supplies instrument metadata, typically the exchange universe call.
type MetaSource interface {
	InstrumentMeta(ctx context.Context) ([]models.Instrument, error)
}

// Normalizer rounds prices and sizes to exchange-legal precision. Metadata is
// loaded once at startup; when the load fails the normalizer stays in
// heuristic-only mode and never blocks startup.
type Normalizer struct {
	mu   sync.RWMutex
	meta map[string]models.Instrument
}

func New() *Normalizer {
	return &Normalizer{meta: make(map[string]models.Instrument)}
}

// Load fetches and caches the instrument universe. Errors are logged, not returned:
// a dead metadata endpoint must not take the process down.
func (n *Normalizer) Load(ctx context.Context, src MetaSource) {
	insts, err := src.InstrumentMeta(ctx)
	if err != nil {
		logger.Error("precision: metadata load failed, heuristic mode only: %v", err)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, inst := range insts {
		n.meta[inst.Coin] = inst
	}
	logger.Info("precision: loaded metadata for %d instruments", len(insts))
}

// Price returns px rounded to a legal tick for coin. Never fails; worst case
// is the magnitude heuristic.
func (n *Normalizer) Price(coin string, px float64) float64 {
	n.mu.RLock()
	inst, ok := n.meta[coin]
	n.mu.RUnlock()

	if ok && inst.PxDecimals > 0 {
		return roundTo(px, inst.PxDecimals)
	}
	return heuristicPrice(px)
}

// Size returns sz rounded to the instrument's size decimals, defaulting to 5.
func (n *Normalizer) Size(coin string, sz float64) float64 {
	n.mu.RLock()
	inst, ok := n.meta[coin]
	n.mu.RUnlock()

	if ok {
		return roundTo(sz, inst.SzDecimals)
	}
	return roundTo(sz, defaultSzDecimals)
}

// MaxLeverage returns the instrument cap, or the 40x default when unknown.
func (n *Normalizer) MaxLeverage(coin string) int {
	n.mu.RLock()
	inst, ok := n.meta[coin]
	n.mu.RUnlock()

	if ok && inst.MaxLeverage > 0 {
		return inst.MaxLeverage
	}
	return defaultMaxLev
}

func heuristicPrice(px float64) float64 {
	switch {
	case px == 0:
		return 0
	case px > wholePxThreshold:
		return math.Round(px)
	case px >= 1:
		return roundTo(px, 5)
	default:
		return roundTo(px, 6) // low-cap coins
	}
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
