// Package metrics exposes the execution subsystem's Prometheus collectors.
// Adapted from the teacher's internal/metrics package: the workflow/step
// counters are relabeled for this subsystem's vocabulary (execution,
// node, resource class) and the tenant_id label is dropped (this
// subsystem has no multi-tenant concept); the HTTP request collectors and
// their middleware are dropped outright, since cmd/engine never runs an
// HTTP server for them to instrument. The database collectors are ambient
// and kept close to the teacher's originals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector this subsystem registers.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionsActive  *prometheus.GaugeVec

	NodeExecutionsTotal   *prometheus.CounterVec
	NodeExecutionDuration *prometheus.HistogramVec

	ResourcePoolInUse *prometheus.GaugeVec
	CircuitBreaker    *prometheus.GaugeVec

	TriggerQueueDepth     *prometheus.GaugeVec
	InteractionsPending   *prometheus.GaugeVec
	InteractionsEscalated *prometheus.CounterVec

	DBConnectionsOpen  *prometheus.GaugeVec
	DBConnectionsIdle  *prometheus.GaugeVec
	DBConnectionsInUse *prometheus.GaugeVec
	DBQueryDuration    *prometheus.HistogramVec
	DBQueriesTotal     *prometheus.CounterVec
}

// NewMetrics builds every collector, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weaveflow_executions_total",
				Help: "Total number of workflow executions by trigger source and terminal status",
			},
			[]string{"workflow_id", "execution_source", "status"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "weaveflow_execution_duration_seconds",
				Help:    "Workflow execution wall-clock duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"workflow_id", "execution_source"},
		),
		ExecutionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weaveflow_executions_active",
				Help: "Number of currently running workflow executions",
			},
			[]string{"workflow_id"},
		),
		NodeExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weaveflow_node_executions_total",
				Help: "Total number of node executions by node type and outcome",
			},
			[]string{"workflow_id", "node_type", "status"},
		),
		NodeExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "weaveflow_node_execution_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"workflow_id", "node_type"},
		),
		ResourcePoolInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weaveflow_resource_pool_in_use",
				Help: "Number of concurrently dispatched nodes per resource class",
			},
			[]string{"resource_class"},
		),
		CircuitBreaker: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weaveflow_circuit_breaker_state",
				Help: "Circuit breaker state per resource class (0=closed, 1=open, 2=half-open)",
			},
			[]string{"resource_class"},
		),
		TriggerQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weaveflow_trigger_queue_depth",
				Help: "Current bounded queue depth per workflow's trigger",
			},
			[]string{"workflow_id"},
		),
		InteractionsPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weaveflow_interactions_pending",
				Help: "Number of human interactions awaiting resolution",
			},
			[]string{"workflow_id"},
		),
		InteractionsEscalated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weaveflow_interactions_escalated_total",
				Help: "Total number of human interactions escalated to the next approval level",
			},
			[]string{"workflow_id"},
		),
		DBConnectionsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weaveflow_db_connections_open",
				Help: "Number of open database connections",
			},
			[]string{"pool"},
		),
		DBConnectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weaveflow_db_connections_idle",
				Help: "Number of idle database connections",
			},
			[]string{"pool"},
		),
		DBConnectionsInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weaveflow_db_connections_in_use",
				Help: "Number of database connections currently in use",
			},
			[]string{"pool"},
		),
		DBQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "weaveflow_db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"operation", "table"},
		),
		DBQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weaveflow_db_queries_total",
				Help: "Total number of database queries by operation and status",
			},
			[]string{"operation", "table", "status"},
		),
	}
}

// Register adds every collector to registry, stopping at the first error.
func (m *Metrics) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionsActive,
		m.NodeExecutionsTotal,
		m.NodeExecutionDuration,
		m.ResourcePoolInUse,
		m.CircuitBreaker,
		m.TriggerQueueDepth,
		m.InteractionsPending,
		m.InteractionsEscalated,
		m.DBConnectionsOpen,
		m.DBConnectionsIdle,
		m.DBConnectionsInUse,
		m.DBQueryDuration,
		m.DBQueriesTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordExecution records a terminal workflow execution.
func (m *Metrics) RecordExecution(workflowID, executionSource, status string, durationSeconds float64) {
	m.ExecutionsTotal.WithLabelValues(workflowID, executionSource, status).Inc()
	m.ExecutionDuration.WithLabelValues(workflowID, executionSource).Observe(durationSeconds)
}

func (m *Metrics) IncActiveExecutions(workflowID string) {
	m.ExecutionsActive.WithLabelValues(workflowID).Inc()
}

func (m *Metrics) DecActiveExecutions(workflowID string) {
	m.ExecutionsActive.WithLabelValues(workflowID).Dec()
}

// RecordNodeExecution records one node's completion.
func (m *Metrics) RecordNodeExecution(workflowID, nodeType, status string, durationSeconds float64) {
	m.NodeExecutionsTotal.WithLabelValues(workflowID, nodeType, status).Inc()
	m.NodeExecutionDuration.WithLabelValues(workflowID, nodeType).Observe(durationSeconds)
}

// SetResourcePoolInUse reports a resource class's current in-flight count.
func (m *Metrics) SetResourcePoolInUse(resourceClass string, count float64) {
	m.ResourcePoolInUse.WithLabelValues(resourceClass).Set(count)
}

// Circuit breaker state values recorded by SetCircuitBreakerState.
const (
	CircuitClosed   = 0
	CircuitOpen     = 1
	CircuitHalfOpen = 2
)

func (m *Metrics) SetCircuitBreakerState(resourceClass string, state float64) {
	m.CircuitBreaker.WithLabelValues(resourceClass).Set(state)
}

func (m *Metrics) SetTriggerQueueDepth(workflowID string, depth float64) {
	m.TriggerQueueDepth.WithLabelValues(workflowID).Set(depth)
}

func (m *Metrics) SetInteractionsPending(workflowID string, count float64) {
	m.InteractionsPending.WithLabelValues(workflowID).Set(count)
}

func (m *Metrics) RecordInteractionEscalated(workflowID string) {
	m.InteractionsEscalated.WithLabelValues(workflowID).Inc()
}

func (m *Metrics) SetDBConnectionPoolStats(poolName string, open, idle, inUse int) {
	m.DBConnectionsOpen.WithLabelValues(poolName).Set(float64(open))
	m.DBConnectionsIdle.WithLabelValues(poolName).Set(float64(idle))
	m.DBConnectionsInUse.WithLabelValues(poolName).Set(float64(inUse))
}

func (m *Metrics) RecordDBQuery(operation, table, status string, durationSeconds float64) {
	m.DBQueriesTotal.WithLabelValues(operation, table, status).Inc()
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
