// Package metrics exposes the node's operational counters in
// Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Requests counts handled protocol requests by action.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secop",
		Subsystem: "node",
		Name:      "requests_total",
		Help:      "Protocol requests handled, by action.",
	}, []string{"action"})

	// Updates counts accepted cache updates broadcast to listeners.
	Updates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "secop",
		Subsystem: "node",
		Name:      "updates_total",
		Help:      "Parameter updates broadcast to listeners.",
	})

	// PollErrors counts failed poll reads.
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "secop",
		Subsystem: "node",
		Name:      "poll_errors_total",
		Help:      "Poll reads that returned an error.",
	})

	// Connections tracks the number of connected clients.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "secop",
		Subsystem: "node",
		Name:      "connections",
		Help:      "Currently connected clients.",
	})
)

// Serve exposes /metrics on addr. It blocks like http.ListenAndServe.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
