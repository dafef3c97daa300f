// Package metrics mirrors the unified engine's periodic per-ticker METRIC
// diagnostic as Prometheus gauges/counters, grounded on
// chidi150c-coinbase's metrics.go/main.go (registered vecs, served via
// promhttp on a dedicated, non-trading-facing HTTP endpoint).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sdibella/kalshi-btc15m/internal/engine"
)

var _ engine.MetricsSink = (*Collector)(nil)

// Collector implements engine.MetricsSink.
type Collector struct {
	cash             *prometheus.GaugeVec
	posYes           *prometheus.GaugeVec
	posNo            *prometheus.GaugeVec
	pendingYes       *prometheus.GaugeVec
	pendingNo        *prometheus.GaugeVec
	netInventory     *prometheus.GaugeVec
	openOrders       *prometheus.GaugeVec
	buyYesOrders     *prometheus.GaugeVec
	buyNoOrders      *prometheus.GaugeVec
	actionsLast60s   *prometheus.GaugeVec
	recentOpenReject *prometheus.GaugeVec
	ticksObserved    *prometheus.CounterVec
}

// NewCollector builds and registers the engine's gauge set against reg. Pass
// prometheus.DefaultRegisterer to expose them on the process-wide /metrics
// handler.
func NewCollector(reg prometheus.Registerer) *Collector {
	labels := []string{"ticker"}
	c := &Collector{
		cash: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_cash_dollars", Help: "Spendable cash per ticker's adapter at last tick.",
		}, labels),
		posYes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_position_yes", Help: "Filled YES contracts held.",
		}, labels),
		posNo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_position_no", Help: "Filled NO contracts held.",
		}, labels),
		pendingYes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_pending_yes", Help: "Resting YES order quantity.",
		}, labels),
		pendingNo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_pending_no", Help: "Resting NO order quantity.",
		}, labels),
		netInventory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_net_inventory", Help: "(yes+pending_yes) - (no+pending_no).",
		}, labels),
		openOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_open_orders", Help: "Raw open order count before filtering.",
		}, labels),
		buyYesOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_open_orders_buy_yes", Help: "Open orders with action BUY_YES.",
		}, labels),
		buyNoOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_open_orders_buy_no", Help: "Open orders with action BUY_NO.",
		}, labels),
		actionsLast60s: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_actions_last_60s", Help: "Place/cancel/amend calls in the trailing 60s rate window.",
		}, labels),
		recentOpenReject: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_recent_open_reject", Help: "1 if an open order was cash-rejected within the cooldown window.",
		}, labels),
		ticksObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_ticks_total", Help: "Ticks that reached the METRIC checkpoint.",
		}, labels),
	}
	reg.MustRegister(
		c.cash, c.posYes, c.posNo, c.pendingYes, c.pendingNo, c.netInventory,
		c.openOrders, c.buyYesOrders, c.buyNoOrders, c.actionsLast60s,
		c.recentOpenReject, c.ticksObserved,
	)
	return c
}

// ObserveTick records one METRIC checkpoint.
func (c *Collector) ObserveTick(ticker string, cash float64, posYes, posNo, pendingYes, pendingNo, netInv, openOrders, buyYesOrders, buyNoOrders, actionsLast60s int, recentOpenReject bool) {
	c.cash.WithLabelValues(ticker).Set(cash)
	c.posYes.WithLabelValues(ticker).Set(float64(posYes))
	c.posNo.WithLabelValues(ticker).Set(float64(posNo))
	c.pendingYes.WithLabelValues(ticker).Set(float64(pendingYes))
	c.pendingNo.WithLabelValues(ticker).Set(float64(pendingNo))
	c.netInventory.WithLabelValues(ticker).Set(float64(netInv))
	c.openOrders.WithLabelValues(ticker).Set(float64(openOrders))
	c.buyYesOrders.WithLabelValues(ticker).Set(float64(buyYesOrders))
	c.buyNoOrders.WithLabelValues(ticker).Set(float64(buyNoOrders))
	c.actionsLast60s.WithLabelValues(ticker).Set(float64(actionsLast60s))
	reject := 0.0
	if recentOpenReject {
		reject = 1.0
	}
	c.recentOpenReject.WithLabelValues(ticker).Set(reject)
	c.ticksObserved.WithLabelValues(ticker).Inc()
}
