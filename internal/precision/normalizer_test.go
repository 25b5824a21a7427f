package precision

import (
	"context"
	"fmt"
	"testing"
	"trade_engine/internal/models"
)

type fakeMeta struct {
	insts []models.Instrument
	err   error
}

func (f fakeMeta) InstrumentMeta(ctx context.Context) ([]models.Instrument, error) {
	return f.insts, f.err
}

func TestHeuristicPrice(t *testing.T) {
	n := New()

	cases := []struct {
		px   float64
		want float64
	}{
		{0, 0},
		{98123.456, 98123},     // whole numbers above the threshold
		{3421.123456789, 3421.12346},
		{1.000004, 1},
		{0.123456789, 0.123457},
	}
	for _, tc := range cases {
		if got := n.Price("UNKNOWN", tc.px); got != tc.want {
			t.Errorf("Price(%v) = %v, want %v", tc.px, got, tc.want)
		}
	}
}

func TestMetadataOverridesHeuristic(t *testing.T) {
	n := New()
	n.Load(context.Background(), fakeMeta{insts: []models.Instrument{
		{Coin: "ETH", SzDecimals: 4, PxDecimals: 2, MaxLeverage: 25},
	}})

	if got := n.Price("ETH", 3421.12789); got != 3421.13 {
		t.Errorf("Price = %v, want 3421.13", got)
	}
	if got := n.Size("ETH", 0.123456); got != 0.1235 {
		t.Errorf("Size = %v, want 0.1235", got)
	}
	if got := n.MaxLeverage("ETH"); got != 25 {
		t.Errorf("MaxLeverage = %v, want 25", got)
	}
}

func TestSizeDefaultsToFiveDecimals(t *testing.T) {
	n := New()
	if got := n.Size("UNKNOWN", 0.123456789); got != 0.12346 {
		t.Errorf("Size = %v, want 0.12346", got)
	}
}

func TestFailedLoadKeepsHeuristicMode(t *testing.T) {
	n := New()
	n.Load(context.Background(), fakeMeta{err: fmt.Errorf("endpoint down")})

	if got := n.MaxLeverage("BTC"); got != 40 {
		t.Errorf("MaxLeverage = %v, want default 40", got)
	}
	if got := n.Price("BTC", 20000.4); got != 20000 {
		t.Errorf("Price = %v, want heuristic 20000", got)
	}
}
