package mtask

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kyri56xcaesar/coachboard/internal/tasktree"
)

// metrics owns a private registry so that several servers (tests) can
// coexist in one process.
type metrics struct {
	registry  *prometheus.Registry
	mutations *prometheus.CounterVec
	requests  *prometheus.HistogramVec
	boards    prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachboard",
			Name:      "mutations_total",
			Help:      "Board mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coachboard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		boards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coachboard",
			Name:      "loaded_boards",
			Help:      "Boards currently held in memory.",
		}),
	}
	m.registry.MustRegister(
		m.mutations, m.requests, m.boards,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Mutation implements tasktree.Recorder.
func (m *metrics) Mutation(op string, outcome tasktree.Outcome) {
	m.mutations.WithLabelValues(op, string(outcome)).Inc()
}

func (m *metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func (m *metrics) handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
