package sizing

import (
	"math"
	"testing"
)

func TestSelectMode(t *testing.T) {
	cases := []struct {
		equity float64
		want   Mode
	}{
		{5, ModeLadder},
		{49.99, ModeLadder},
		{50, ModeGrowth},
		{1000, ModeGrowth},
		{1000.01, ModeStandard},
		{250000, ModeStandard},
	}
	for _, tc := range cases {
		if got := SelectMode(tc.equity); got != tc.want {
			t.Errorf("SelectMode(%v) = %v, want %v", tc.equity, got, tc.want)
		}
	}
}

func TestLadderOverridesUpstreamUpward(t *testing.T) {
	s := New(40)

	// $30 equity with a $50 upstream suggestion: the ladder wins.
	d := s.Plan(30, 0.9, Suggestion{SizeUSD: 50, Leverage: 5})

	if d.Mode != ModeLadder {
		t.Fatalf("mode = %v, want LADDER", d.Mode)
	}
	want := 30 * 40 * 0.9
	if math.Abs(d.SizeUSD-want) > 1e-9 {
		t.Errorf("size = %v, want %v", d.SizeUSD, want)
	}
	if d.Leverage != 40 {
		t.Errorf("leverage = %d, want 40", d.Leverage)
	}
}

func TestLadderKeepsLargerUpstream(t *testing.T) {
	s := New(40)

	d := s.Plan(30, 0.9, Suggestion{SizeUSD: 2000})
	if d.SizeUSD != 2000 {
		t.Errorf("size = %v, want upstream 2000 kept", d.SizeUSD)
	}
}

func TestLadderMicroFloor(t *testing.T) {
	s := New(40)

	// $2 equity: 2*40*0.9 = 72, below the $100 micro floor.
	d := s.Plan(2, 0.5, Suggestion{})
	if d.SizeUSD != 100 {
		t.Errorf("size = %v, want micro floor 100", d.SizeUSD)
	}

	// $20 equity: 20*40*0.9 = 720, well above the $12 floor.
	d = s.Plan(20, 0.5, Suggestion{})
	if d.SizeUSD != 720 {
		t.Errorf("size = %v, want 720", d.SizeUSD)
	}
}

func TestGrowthTiers(t *testing.T) {
	s := New(50)

	high := s.Plan(500, 0.85, Suggestion{})
	if high.SizeUSD != 400 || high.Leverage != 40 {
		t.Errorf("high tier = %v/%d, want 400/40", high.SizeUSD, high.Leverage)
	}

	low := s.Plan(500, 0.5, Suggestion{})
	if low.SizeUSD != 250 || low.Leverage != 30 {
		t.Errorf("low tier = %v/%d, want 250/30", low.SizeUSD, low.Leverage)
	}
}

func TestStandardPassthrough(t *testing.T) {
	s := New(50)

	d := s.Plan(5000, 0.7, Suggestion{SizeUSD: 500, Leverage: 10})
	if d.Mode != ModeStandard {
		t.Fatalf("mode = %v, want STANDARD", d.Mode)
	}
	if d.SizeUSD != 500 || d.Leverage != 10 {
		t.Errorf("passthrough = %v/%d, want 500/10", d.SizeUSD, d.Leverage)
	}
}

func TestStandardFractions(t *testing.T) {
	s := New(50)

	cases := []struct {
		confidence float64
		wantSize   float64
		wantLev    int
	}{
		{0.85, 3000, 20},
		{0.65, 2000, 10},
		{0.3, 1000, 10},
	}
	for _, tc := range cases {
		d := s.Plan(10000, tc.confidence, Suggestion{})
		if d.SizeUSD != tc.wantSize || d.Leverage != tc.wantLev {
			t.Errorf("conf %v: got %v/%d, want %v/%d",
				tc.confidence, d.SizeUSD, d.Leverage, tc.wantSize, tc.wantLev)
		}
	}
}

func TestLeverageClampedToInstrument(t *testing.T) {
	s := New(25)

	d := s.Plan(5000, 0.9, Suggestion{SizeUSD: 500, Leverage: 40})
	if d.Leverage != 25 {
		t.Errorf("leverage = %d, want instrument cap 25", d.Leverage)
	}
}

func TestMinNotionalEnforced(t *testing.T) {
	s := New(50)

	d := s.Plan(60, 0.2, Suggestion{SizeUSD: 3})
	if d.SizeUSD < minOrderUSD {
		t.Errorf("size = %v, below exchange minimum %v", d.SizeUSD, minOrderUSD)
	}
}
