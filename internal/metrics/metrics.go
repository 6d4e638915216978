// Package metrics exposes controller counters and gauges for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bioreactor-controller/internal/model"
	"bioreactor-controller/internal/sequencer"
)

// Metrics is a private registry so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsReceived  prometheus.Counter
	DecodeErrors     prometheus.Counter
	CommandsSent     *prometheus.CounterVec
	SequenceRuns     *prometheus.CounterVec
	SequenceSkips    *prometheus.CounterVec
	SequenceActive   *prometheus.GaugeVec
	ODFailures       prometheus.Counter
	Temperature      *prometheus.GaugeVec
	OpticalDensity   prometheus.Gauge
	ActuatorState    *prometheus.GaugeVec
	TickDurationSecs prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bioreactor_packets_received_total",
			Help: "Inbound device packets decoded.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bioreactor_packet_decode_errors_total",
			Help: "Inbound lines discarded as malformed JSON.",
		}),
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bioreactor_commands_sent_total",
			Help: "Actuator commands written to the device.",
		}, []string{"actuator"}),
		SequenceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bioreactor_sequence_runs_total",
			Help: "Exclusive sequences started.",
		}, []string{"kind"}),
		SequenceSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bioreactor_sequence_skips_total",
			Help: "Exclusive sequences skipped because another one held the gate.",
		}, []string{"kind"}),
		SequenceActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bioreactor_sequence_active",
			Help: "1 while a sequence of this kind is running.",
		}, []string{"kind"}),
		ODFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bioreactor_od_measurement_failures_total",
			Help: "OD measurements without valid photodiode readings.",
		}),
		Temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bioreactor_temperature_celsius",
			Help: "Latest temperature per probe.",
		}, []string{"probe"}),
		OpticalDensity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bioreactor_optical_density",
			Help: "Latest successful OD measurement.",
		}),
		ActuatorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bioreactor_actuator_state",
			Help: "Commanded actuator state.",
		}, []string{"actuator"}),
		TickDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bioreactor_tick_duration_seconds",
			Help:    "Time spent in one control tick.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		}),
	}
	m.Registry.MustRegister(
		m.PacketsReceived, m.DecodeErrors, m.CommandsSent,
		m.SequenceRuns, m.SequenceSkips, m.SequenceActive, m.ODFailures,
		m.Temperature, m.OpticalDensity, m.ActuatorState, m.TickDurationSecs,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SequenceStarted(k sequencer.Kind) {
	m.SequenceRuns.WithLabelValues(string(k)).Inc()
	m.SequenceActive.WithLabelValues(string(k)).Set(1)
}

func (m *Metrics) SequenceSkipped(k sequencer.Kind) {
	m.SequenceSkips.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) SequenceFinished(k sequencer.Kind) {
	m.SequenceActive.WithLabelValues(string(k)).Set(0)
}

// CommandSent records a write to the device.
func (m *Metrics) CommandSent(a model.Actuator, v int) {
	m.CommandsSent.WithLabelValues(string(a)).Inc()
	m.ActuatorState.WithLabelValues(string(a)).Set(float64(v))
}

// ObserveSample updates the temperature gauges.
func (m *Metrics) ObserveSample(s model.Sample) {
	if s.T1 != nil {
		m.Temperature.WithLabelValues("vessel").Set(*s.T1)
	}
	if s.T2 != nil {
		m.Temperature.WithLabelValues("element").Set(*s.T2)
	}
}
