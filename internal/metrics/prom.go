package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every kiosk collector plus the Go runtime and process
// collectors.
var Registry = prometheus.NewRegistry()

var (
	// ModeTransitions counts presence mode changes.
	ModeTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "mode_transitions_total",
		Help:      "Presence mode transitions by source mode, target mode and reason.",
	}, []string{"from", "to", "reason"})

	// CompletionRequests counts completion calls by provider and outcome
	// (ok, error, empty, rejected).
	CompletionRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "completion_requests_total",
		Help:      "Text completion requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	// CompletionLatency observes completion round trips.
	CompletionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kiosk",
		Name:      "completion_latency_seconds",
		Help:      "Text completion latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
	}, []string{"provider"})

	// AssistantReplies counts assistant turns by source (completion, fallback).
	AssistantReplies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "assistant_replies_total",
		Help:      "Assistant replies by source.",
	}, []string{"source"})

	// RecognizerErrors counts recognizer errors by recognizer and code.
	RecognizerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "recognizer_errors_total",
		Help:      "Speech recognizer errors by recognizer and error code.",
	}, []string{"recognizer", "code"})

	// Observations counts perception observations by whether a face was found.
	Observations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "perception_observations_total",
		Help:      "Perception observations emitted, by detection.",
	}, []string{"detected"})

	// ContentItems is the size of the last content list.
	ContentItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiosk",
		Name:      "content_items",
		Help:      "Items in the last successful content list.",
	})

	// BridgeClients is the number of connected kiosk pages.
	BridgeClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiosk",
		Name:      "bridge_clients",
		Help:      "Connected kiosk page websockets.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ModeTransitions,
		CompletionRequests,
		CompletionLatency,
		AssistantReplies,
		RecognizerErrors,
		Observations,
		ContentItems,
		BridgeClients,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
