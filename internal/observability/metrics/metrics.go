// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deafhub"

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_dispatch_total",
		Help:      "Webhook dispatch outcomes by platform, status and code.",
	}, []string{"platform", "status", "code"})

	dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_dispatch_duration_seconds",
		Help:      "Time spent dispatching one webhook delivery.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"platform"})

	duplicates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_duplicates_total",
		Help:      "Redelivered webhooks answered from the idempotency store.",
	}, []string{"platform"})

	connectorExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_executions_total",
		Help:      "Connector executions by capability type, name, verb and outcome.",
	}, []string{"type", "name", "verb", "outcome"})

	connectorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "connector_execution_duration_seconds",
		Help:      "Connector execution latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type", "name"})

	commandResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "command_resolutions_total",
		Help:      "Resolved commands by kind, platform and status.",
	}, []string{"kind", "platform", "status"})

	eventLogFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventlog_append_failures_total",
		Help:      "Event log appends that failed, by sink.",
	}, []string{"sink"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		dispatchTotal,
		dispatchDuration,
		duplicates,
		connectorExecutions,
		connectorDuration,
		commandResolutions,
		eventLogFailures,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveDispatch records one webhook dispatch outcome.
func ObserveDispatch(platform, status, code string, duration time.Duration) {
	dispatchTotal.WithLabelValues(platform, status, code).Inc()
	dispatchDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// ObserveDuplicate counts a webhook answered from the idempotency store.
func ObserveDuplicate(platform string) {
	duplicates.WithLabelValues(platform).Inc()
}

// ObserveConnector records a connector execution. Its signature matches
// plugin.ExecutionObserver.
func ObserveConnector(capability, name, verb, outcome string, elapsed time.Duration) {
	connectorExecutions.WithLabelValues(capability, name, verb, outcome).Inc()
	if outcome != "rejected" {
		connectorDuration.WithLabelValues(capability, name).Observe(elapsed.Seconds())
	}
}

// ObserveCommand counts one command resolution.
func ObserveCommand(kind, platform, status string) {
	commandResolutions.WithLabelValues(kind, platform, status).Inc()
}

// ObserveEventLogFailure counts a failed event log append.
func ObserveEventLogFailure(sink string) {
	eventLogFailures.WithLabelValues(sink).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
