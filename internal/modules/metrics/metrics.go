package metrics

import (
	"trade_engine/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters and gauges the engine updates during operation:
//   - engine_decisions_total{action}: terminal decisions per cycle
//   - engine_orders_total{side}: entry orders placed
//   - engine_order_failures_total: capability calls that came back failed
//   - engine_equity_usd: real account equity snapshot
//   - engine_shadow_equity_usd: shadow ledger equity
//   - engine_shadow_trades_total{result}: shadow closes by win|loss
//   - engine_exit_reasons_total{reason}: shadow exits split by reason
var (
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_decisions_total",
			Help: "Terminal decisions per cycle",
		},
		[]string{"action"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Entry orders placed",
		},
		[]string{"side"},
	)

	mtxOrderFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_order_failures_total",
			Help: "Capability calls that returned a failure",
		},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_equity_usd",
			Help: "Real account equity in USD",
		},
	)

	mtxShadowEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_shadow_equity_usd",
			Help: "Shadow account equity in USD",
		},
	)

	mtxShadowTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_shadow_trades_total",
			Help: "Shadow trades closed, by result (win|loss)",
		},
		[]string{"result"},
	)

	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_exit_reasons_total",
			Help: "Shadow exits split by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(mtxDecisions, mtxOrders, mtxOrderFailures)
	prometheus.MustRegister(mtxEquity, mtxShadowEquity, mtxShadowTrades, mtxExitReasons)
}

func ObserveDecision(d models.FinalDecision) {
	mtxDecisions.WithLabelValues(string(d.Action)).Inc()
	if d.Trade != nil && d.Action == models.ActionExecuted {
		mtxOrders.WithLabelValues(string(d.Trade.Direction())).Inc()
	}
	if d.Result != nil && !d.Result.Success {
		mtxOrderFailures.Inc()
	}
}

func SetEquity(v float64)       { mtxEquity.Set(v) }
func SetShadowEquity(v float64) { mtxShadowEquity.Set(v) }

func ObserveShadowClose(t *models.ShadowTrade) {
	result := "loss"
	if t.PnlUSD != nil && *t.PnlUSD > 0 {
		result = "win"
	}
	mtxShadowTrades.WithLabelValues(result).Inc()
	if t.CloseReason != "" {
		mtxExitReasons.WithLabelValues(t.CloseReason).Inc()
	}
}
