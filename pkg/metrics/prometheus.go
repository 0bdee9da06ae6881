package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticks       *prometheus.CounterVec
	signals     *prometheus.CounterVec
	orders      *prometheus.CounterVec
	settlements *prometheus.CounterVec
	reconnects  *prometheus.CounterVec
	balance     *prometheus.GaugeVec
	regime      *prometheus.GaugeVec
	latency     *prometheus.HistogramVec

	regimes []string
}

// New creates a Prometheus metrics recorder on the default registry.
func New() *Recorder {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors on reg. Tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickpilot_ticks_total",
				Help: "Ticks ingested per account",
			},
			[]string{"account"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickpilot_signals_total",
				Help: "Non-HOLD decisions by regime, signal, and detector",
			},
			[]string{"regime", "signal", "source"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickpilot_orders_total",
				Help: "Order submissions by result (submitted or rejection reason)",
			},
			[]string{"result"},
		),
		settlements: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickpilot_settlements_total",
				Help: "Settled orders by outcome",
			},
			[]string{"outcome"},
		),
		reconnects: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickpilot_reconnects_total",
				Help: "Venue reconnect attempts per account",
			},
			[]string{"account"},
		),
		balance: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickpilot_balance",
				Help: "Last persisted account balance",
			},
			[]string{"account"},
		),
		regime: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickpilot_regime",
				Help: "Current regime per account (1 for the active label)",
			},
			[]string{"account", "regime"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickpilot_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		regimes: []string{"TRENDING", "SLOW_TREND", "SIDEWAYS", "HIGHLY_VOLATILE", "UNKNOWN"},
	}
}

func (r *Recorder) RecordTick(account string) {
	r.ticks.WithLabelValues(account).Inc()
}

func (r *Recorder) RecordSignal(regime, signal, source string) {
	r.signals.WithLabelValues(regime, signal, source).Inc()
}

func (r *Recorder) RecordOrder(result string) {
	r.orders.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordSettlement(outcome string) {
	r.settlements.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordReconnect(account string) {
	r.reconnects.WithLabelValues(account).Inc()
}

func (r *Recorder) RecordBalance(account string, balance float64) {
	r.balance.WithLabelValues(account).Set(balance)
}

// RecordRegime flips the active label to 1 and the others to 0.
func (r *Recorder) RecordRegime(account, regime string) {
	for _, name := range r.regimes {
		v := 0.0
		if name == regime {
			v = 1
		}
		r.regime.WithLabelValues(account, name).Set(v)
	}
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordTick(string)                   {}
func (Nop) RecordSignal(string, string, string) {}
func (Nop) RecordOrder(string)                  {}
func (Nop) RecordSettlement(string)             {}
func (Nop) RecordReconnect(string)              {}
func (Nop) RecordBalance(string, float64)       {}
func (Nop) RecordRegime(string, string)         {}
func (Nop) RecordLatency(string, float64)       {}
