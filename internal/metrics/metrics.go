package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and handlers report to.
type Recorder interface {
	RecordOperation(operation, outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector records Prometheus counters.
type Collector struct {
	operations *prometheus.CounterVec
	httpStatus *prometheus.CounterVec
}

// NewCollector registers the counters on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomhub_operation_total",
			Help: "Service operations by outcome.",
		}, []string{"operation", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomhub_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}
	reg.MustRegister(c.operations, c.httpStatus)
	return c
}

func (c *Collector) RecordOperation(operation, outcome string) {
	c.operations.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop drops every measurement.
type Noop struct{}

func (Noop) RecordOperation(string, string) {}
func (Noop) RecordHTTPStatus(int)           {}
