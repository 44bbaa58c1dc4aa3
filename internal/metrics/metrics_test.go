package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	assert.NotNil(t, m)
	assert.NotNil(t, m.ExecutionsTotal)
	assert.NotNil(t, m.ExecutionDuration)
	assert.NotNil(t, m.NodeExecutionsTotal)
	assert.NotNil(t, m.NodeExecutionDuration)
	assert.NotNil(t, m.ResourcePoolInUse)
	assert.NotNil(t, m.CircuitBreaker)
	assert.NotNil(t, m.TriggerQueueDepth)
	assert.NotNil(t, m.InteractionsPending)
	assert.NotNil(t, m.ExecutionsActive)
	assert.NotNil(t, m.InteractionsEscalated)
}

func TestRegisterMetrics(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()

	err := m.Register(registry)

	assert.NoError(t, err)
}

func TestRegisterMetricsTwice(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	m.Register(registry)

	err := m.Register(registry)

	assert.Error(t, err)
}

func TestRecordExecution(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	m.Register(registry)

	m.RecordExecution("workflow1", "manual", "COMPLETED", 1.5)

	metrics, err := registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, metrics)

	found := false
	for _, metric := range metrics {
		if metric.GetName() == "weaveflow_executions_total" {
			found = true
			assert.Equal(t, 1, len(metric.GetMetric()))
		}
	}
	assert.True(t, found, "executions counter should be present")
}

func TestRecordNodeExecution(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	m.Register(registry)

	m.RecordNodeExecution("workflow1", "code_js", "success", 0.5)

	metrics, err := registry.Gather()
	assert.NoError(t, err)

	found := false
	for _, metric := range metrics {
		if metric.GetName() == "weaveflow_node_executions_total" {
			found = true
		}
	}
	assert.True(t, found, "node executions counter should be present")
}

func TestSetTriggerQueueDepth(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	m.Register(registry)

	m.SetTriggerQueueDepth("workflow1", 42)

	metrics, err := registry.Gather()
	assert.NoError(t, err)

	found := false
	for _, metric := range metrics {
		if metric.GetName() == "weaveflow_trigger_queue_depth" {
			found = true
			assert.Equal(t, 1, len(metric.GetMetric()))
			assert.Equal(t, float64(42), metric.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "trigger queue depth gauge should be present")
}

func TestSetCircuitBreakerState(t *testing.T) {
	m := NewMetrics()
	registry := prometheus.NewRegistry()
	m.Register(registry)

	m.SetCircuitBreakerState("llm", CircuitOpen)

	metrics, err := registry.Gather()
	assert.NoError(t, err)

	found := false
	for _, metric := range metrics {
		if metric.GetName() == "weaveflow_circuit_breaker_state" {
			found = true
			assert.Equal(t, float64(CircuitOpen), metric.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "circuit breaker gauge should be present")
}

