package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market data ticks received"},
		[]string{"channel"},
	)
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "decision_cycles_total", Help: "Decision cycles started"},
	)
	IndicatorFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "indicator_fetches_total", Help: "Indicator provider fetches by kind and outcome"},
		[]string{"kind", "outcome"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Market orders submitted"},
		[]string{"side"},
	)
	PositionClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "position_closes_total", Help: "Positions closed by outcome"},
		[]string{"outcome"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "stream_reconnects_total", Help: "Live data stream reconnect attempts"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, CyclesTotal, IndicatorFetchesTotal,
		OrdersTotal, PositionClosesTotal, ReconnectsTotal,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
