package humaninteraction_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow/weaveflow/internal/execctx"
	"github.com/weaveflow/weaveflow/internal/humaninteraction"
)

func TestStore_SuspendThenApproveResolves(t *testing.T) {
	repo := humaninteraction.NewInMemoryRepository()
	store := humaninteraction.NewStore(repo, nil, nil)

	store.Suspend("exec-1", "approve-node", &execctx.InteractionDescriptor{
		InteractionID: "I1",
		Extra: map[string]any{
			"type":      "approval",
			"title":     "Approve refund",
			"assignees": []any{"alice"},
		},
	})

	_, resolved := store.Resolve("exec-1", "approve-node")
	assert.False(t, resolved, "a freshly suspended interaction must not resolve yet")

	_, err := store.Approve(context.Background(), "exec-1", "approve-node", "alice", nil, map[string]any{"comment": "looks good"})
	require.NoError(t, err)

	outputs, ok := store.Resolve("exec-1", "approve-node")
	require.True(t, ok)
	assert.Equal(t, "looks good", outputs["comment"])
}

func TestStore_ApproveFailsForNonAssignee(t *testing.T) {
	repo := humaninteraction.NewInMemoryRepository()
	store := humaninteraction.NewStore(repo, nil, nil)

	store.Suspend("exec-2", "n1", &execctx.InteractionDescriptor{
		InteractionID: "I2",
		Extra:         map[string]any{"assignees": []any{"alice"}},
	})

	_, err := store.Approve(context.Background(), "exec-2", "n1", "mallory", nil, nil)
	assert.ErrorIs(t, err, humaninteraction.ErrUnauthorized)
}

func TestStore_RejectResolvesUnfavorably(t *testing.T) {
	repo := humaninteraction.NewInMemoryRepository()
	store := humaninteraction.NewStore(repo, nil, nil)

	store.Suspend("exec-3", "n1", &execctx.InteractionDescriptor{
		InteractionID: "I3",
		Extra:         map[string]any{"assignees": []any{"bob"}},
	})

	_, err := store.Reject(context.Background(), "exec-3", "n1", "bob", nil, map[string]any{"reason": "incomplete"})
	require.NoError(t, err)

	_, resolved := store.Resolve("exec-3", "n1")
	assert.False(t, resolved, "Resolve only reports favorable (approved) outcomes")
}

func TestStore_ProcessOverdueEscalatesToNextLevel(t *testing.T) {
	repo := humaninteraction.NewInMemoryRepository()
	store := humaninteraction.NewStore(repo, nil, nil)

	store.Suspend("exec-4", "n1", &execctx.InteractionDescriptor{
		InteractionID: "I4",
		ExpiresAt:     timePtr(time.Now().Add(-time.Minute)),
		Extra: map[string]any{
			"assignees": []any{"alice"},
			"escalation": map[string]any{
				"enabled": true,
				"levels": []any{
					map[string]any{"level": float64(1), "timeout_minutes": float64(30), "backup_approvers": []any{"manager1"}},
				},
				"final_action": "auto_approve",
			},
		},
	})

	require.NoError(t, store.ProcessOverdue(context.Background(), time.Now()))

	i, err := repo.GetByExecutionNode(context.Background(), "exec-4", "n1")
	require.NoError(t, err)
	assert.Equal(t, 1, i.EscalationLevel)
	assert.Equal(t, []string{"manager1"}, i.AssigneesList())
	assert.True(t, i.IsPending())
}

func TestStore_ProcessOverdueAppliesFinalActionWhenLevelsExhausted(t *testing.T) {
	repo := humaninteraction.NewInMemoryRepository()
	store := humaninteraction.NewStore(repo, nil, nil)

	store.Suspend("exec-5", "n1", &execctx.InteractionDescriptor{
		InteractionID: "I5",
		ExpiresAt:     timePtr(time.Now().Add(-time.Minute)),
		Extra: map[string]any{
			"assignees":  []any{"alice"},
			"escalation": map[string]any{"enabled": true, "final_action": "auto_approve"},
		},
	})

	require.NoError(t, store.ProcessOverdue(context.Background(), time.Now()))

	i, err := repo.GetByExecutionNode(context.Background(), "exec-5", "n1")
	require.NoError(t, err)
	assert.Equal(t, humaninteraction.StatusApproved, i.Status)
}

func timePtr(t time.Time) *time.Time { return &t }
