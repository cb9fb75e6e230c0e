package prometheus

import (
	"time"

	"github.com/harshakreox/ghostqa/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	requestsEnqueued   *prometheus.CounterVec
	executions         *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	retries            *prometheus.CounterVec
	queueWaitTime      *prometheus.HistogramVec
	queueDepth         *prometheus.GaugeVec
	runningExecutions  prometheus.Gauge
	concurrencyLimit   prometheus.Gauge
	workerPoolIdle     prometheus.Gauge
	workerPoolBusy     prometheus.Gauge
	workerPoolStopped  prometheus.Gauge
	loopTicks          *prometheus.CounterVec
	loopLastTickSecond *prometheus.GaugeVec
}

// NewCollector registers the orchestrator metrics on the default registry.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry registers the orchestrator metrics on reg.
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		requestsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostqa_requests_enqueued_total",
				Help: "Execution requests offered to the queue by source, priority and outcome",
			},
			[]string{"source", "priority", "outcome"},
		),
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostqa_executions_total",
				Help: "Terminal execution records by kind and status",
			},
			[]string{"kind", "status"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghostqa_execution_duration_seconds",
				Help:    "Execution duration in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"kind"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostqa_execution_retries_total",
				Help: "Retries scheduled after transient execution errors",
			},
			[]string{"kind"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghostqa_queue_wait_duration_seconds",
				Help:    "Time requests spend queued before execution",
				Buckets: []float64{0.01, 0.1, 1, 5, 30, 60, 300, 900, 3600},
			},
			[]string{"priority"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ghostqa_queue_depth",
				Help: "Pending requests by priority",
			},
			[]string{"priority"},
		),
		runningExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ghostqa_running_executions",
				Help: "Executions currently inside the engine",
			},
		),
		concurrencyLimit: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ghostqa_concurrency_limit",
				Help: "Current max concurrent executions",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ghostqa_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ghostqa_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ghostqa_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		loopTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostqa_loop_ticks_total",
				Help: "Discovery and regression ticks by result",
			},
			[]string{"loop", "result"},
		),
		loopLastTickSecond: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ghostqa_loop_last_tick_timestamp_seconds",
				Help: "Unix time of the last tick per loop",
			},
			[]string{"loop"},
		),
	}
}

// RecordEnqueue counts a queue offer.
func (c *Collector) RecordEnqueue(source domain.Source, priority domain.Priority, outcome string) {
	c.requestsEnqueued.WithLabelValues(string(source), priority.String(), outcome).Inc()
}

// RecordExecution records a terminal execution record.
func (c *Collector) RecordExecution(kind domain.Kind, status domain.RecordStatus, duration time.Duration) {
	c.executions.WithLabelValues(string(kind), string(status)).Inc()
	c.executionDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// RecordRetry counts a scheduled retry.
func (c *Collector) RecordRetry(kind domain.Kind) {
	c.retries.WithLabelValues(string(kind)).Inc()
}

// ObserveQueueWait records how long a request waited.
func (c *Collector) ObserveQueueWait(priority domain.Priority, wait time.Duration) {
	c.queueWaitTime.WithLabelValues(priority.String()).Observe(wait.Seconds())
}

// SetQueueDepth sets the pending count for a priority band.
func (c *Collector) SetQueueDepth(priority domain.Priority, depth int) {
	c.queueDepth.WithLabelValues(priority.String()).Set(float64(depth))
}

// SetRunningExecutions sets the running execution gauge.
func (c *Collector) SetRunningExecutions(count int) {
	c.runningExecutions.Set(float64(count))
}

// SetConcurrencyLimit sets the concurrency limit gauge.
func (c *Collector) SetConcurrencyLimit(limit int) {
	c.concurrencyLimit.Set(float64(limit))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// RecordLoopTick counts a discovery or regression tick.
func (c *Collector) RecordLoopTick(loop string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.loopTicks.WithLabelValues(loop, result).Inc()
	c.loopLastTickSecond.WithLabelValues(loop).SetToCurrentTime()
}
