package sizing

import "math"

// Mode is the equity-selected sizing policy. Selection is a pure function of
// current equity, re-evaluated every cycle with no hysteresis.
type Mode string

const (
	ModeLadder   Mode = "LADDER"
	ModeGrowth   Mode = "GROWTH"
	ModeStandard Mode = "STANDARD"
)

const (
	ladderMaxEquity = 50.0
	growthMaxEquity = 1000.0

	// Exchange minimum order sizes (USD notional, with buffer).
	minOrderUSD      = 12.0
	microMinOrderUSD = 100.0
	microEquity      = 10.0

	ladderSafety = 0.90 // leave a buffer for fees

	minLeverage = 1
	maxLeverage = 50
)

func SelectMode(equity float64) Mode {
	switch {
	case equity < ladderMaxEquity:
		return ModeLadder
	case equity <= growthMaxEquity:
		return ModeGrowth
	default:
		return ModeStandard
	}
}

// Suggestion is the upstream-proposed sizing, zero fields meaning "none given".
type Suggestion struct {
	SizeUSD  float64
	Leverage int
}

// Decision is the final (notional, leverage) pair. Leverage is always a
// positive integer inside the instrument range, notional always covers the
// exchange minimum.
type Decision struct {
	SizeUSD  float64
	Leverage int
	Mode     Mode
}

// Sizer sizes positions against one instrument's leverage cap.
type Sizer struct {
	maxLev int
}

func New(instrumentMaxLeverage int) *Sizer {
	lev := instrumentMaxLeverage
	if lev < minLeverage {
		lev = minLeverage
	}
	if lev > maxLeverage {
		lev = maxLeverage
	}
	return &Sizer{maxLev: lev}
}

// Plan computes the final notional and leverage for the cycle.
// Ladder mode overrides upstream suggestions upward, never downward.
func (s *Sizer) Plan(equity, confidence float64, upstream Suggestion) Decision {
	mode := SelectMode(equity)

	switch mode {
	case ModeLadder:
		return s.ladder(equity, upstream)
	case ModeGrowth:
		return s.tiered(mode, equity, confidence, upstream, growthFraction, growthLeverage)
	default:
		return s.tiered(mode, equity, confidence, upstream, standardFraction, standardLeverage)
	}
}

// ladder forces a maximum-margin position so micro accounts can outrun fee drag.
func (s *Sizer) ladder(equity float64, upstream Suggestion) Decision {
	lev := s.maxLev
	floor := minOrderUSD
	if equity < microEquity {
		floor = microMinOrderUSD
	}
	size := equity * float64(lev) * ladderSafety
	size = math.Max(size, upstream.SizeUSD)
	size = math.Max(size, floor)

	return Decision{SizeUSD: size, Leverage: lev, Mode: ModeLadder}
}

func (s *Sizer) tiered(
	mode Mode,
	equity, confidence float64,
	upstream Suggestion,
	fraction func(confidence float64) float64,
	leverage func(confidence float64) int,
) Decision {
	size := upstream.SizeUSD
	lev := upstream.Leverage
	if size <= 0 {
		size = equity * fraction(confidence)
	}
	if lev <= 0 {
		lev = leverage(confidence)
	}
	if size < minOrderUSD {
		size = minOrderUSD
	}
	return Decision{SizeUSD: size, Leverage: s.clampLev(lev), Mode: mode}
}

func (s *Sizer) clampLev(lev int) int {
	if lev < minLeverage {
		return minLeverage
	}
	if lev > s.maxLev {
		return s.maxLev
	}
	return lev
}

func growthFraction(confidence float64) float64 {
	if confidence >= 0.8 {
		return 0.8
	}
	return 0.5
}

func growthLeverage(confidence float64) int {
	if confidence >= 0.8 {
		return 40
	}
	return 30
}

func standardFraction(confidence float64) float64 {
	switch {
	case confidence >= 0.8:
		return 0.3
	case confidence >= 0.6:
		return 0.2
	default:
		return 0.1
	}
}

func standardLeverage(confidence float64) int {
	if confidence >= 0.8 {
		return 20
	}
	return 10
}
