package models

// Instrument is the per-coin exchange metadata used for rounding and leverage caps.
type Instrument struct {
	Coin        string
	SzDecimals  int
	PxDecimals  int
	MaxLeverage int
}
