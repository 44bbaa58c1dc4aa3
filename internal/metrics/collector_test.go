package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeQueueDepthSource struct {
	depths map[string]int
}

func (f *fakeQueueDepthSource) QueueDepths() map[string]int { return f.depths }

type fakeActiveExecutionSource struct {
	ids map[string][]string
}

func (f *fakeActiveExecutionSource) ActiveExecutionIDs(workflowID string) []string {
	return f.ids[workflowID]
}

func TestCollector_CollectOnce_SetsTriggerQueueDepthAndActiveExecutions(t *testing.T) {
	m := NewMetrics()
	queues := &fakeQueueDepthSource{depths: map[string]int{"wf-1": 3}}
	active := &fakeActiveExecutionSource{ids: map[string][]string{"wf-1": {"exec-a", "exec-b"}}}

	c := NewCollector(m, queues, active, nil)
	c.collectOnce()

	assert.Equal(t, float64(3), testutil.ToFloat64(m.TriggerQueueDepth.WithLabelValues("wf-1")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ExecutionsActive.WithLabelValues("wf-1")))
}

func TestCollector_CollectOnce_NilQueueSourceIsNoop(t *testing.T) {
	m := NewMetrics()
	c := NewCollector(m, nil, nil, nil)
	assert.NotPanics(t, func() { c.collectOnce() })
}

func TestCollector_StartStop(t *testing.T) {
	m := NewMetrics()
	queues := &fakeQueueDepthSource{depths: map[string]int{"wf-1": 1}}
	c := NewCollector(m, queues, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Start(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
