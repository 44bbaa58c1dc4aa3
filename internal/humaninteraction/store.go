package humaninteraction

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/weaveflow/weaveflow/internal/eventbus"
	"github.com/weaveflow/weaveflow/internal/execctx"
)

// Store satisfies internal/executor.InteractionStore (structurally — this
// package does not import internal/executor to avoid a needless
// dependency) and adds the create/resolve/escalate lifecycle a workflow
// operator or a future API layer drives. Publishes through the same
// Bus the Orchestrator gives every Executor, rather than the teacher's
// separate NotificationService interface: the out-of-scope outbound
// channels (email, SMS) that interface would have bound to are dropped
// per DESIGN.md, and execution_event subscribers already want to know
// about interaction lifecycle the same way they learn about node
// completion.
type Store struct {
	repo   Repository
	bus    *eventbus.Bus
	logger *slog.Logger
}

func NewStore(repo Repository, bus *eventbus.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, bus: bus, logger: logger}
}

// Suspend implements internal/executor.InteractionStore: a node just
// suspended, descriptor.Extra carries whatever fields the node attached
// alongside the _await sentinel (title, description, assignees, type,
// due_date_seconds, escalation).
func (s *Store) Suspend(executionID, nodeID string, descriptor *execctx.InteractionDescriptor) {
	extra := descriptor.Extra
	interactionType, _ := extra["type"].(string)
	if interactionType == "" {
		interactionType = TypeApproval
	}
	title, _ := extra["title"].(string)
	description, _ := extra["description"].(string)
	assignees := stringsFrom(extra["assignees"])

	assigneesJSON, _ := json.Marshal(assignees)
	extraJSON, _ := json.Marshal(extra)

	i := &Interaction{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Type:        interactionType,
		Title:       title,
		Description: description,
		Assignees:   assigneesJSON,
		Status:      StatusPending,
		DueDate:     descriptor.ExpiresAt,
		Extra:       extraJSON,
	}
	if escConfig, _ := ParseEscalationConfig(extraJSON); escConfig != nil && escConfig.Enabled {
		i.MaxEscalationLevel = escConfig.GetMaxLevel()
	}

	if err := s.repo.Create(context.Background(), i); err != nil {
		s.logger.Error("humaninteraction: failed to record suspended interaction", "execution_id", executionID, "node_id", nodeID, "error", err)
		return
	}
	s.publish(executionID, "interaction_created", i)
}

// Resolve implements internal/executor.InteractionStore: reports whether
// (execution_id, node_id)'s interaction has reached a favorable terminal
// state, and if so the outputs to resume the node with.
func (s *Store) Resolve(executionID, nodeID string) (map[string]any, bool) {
	i, err := s.repo.GetByExecutionNode(context.Background(), executionID, nodeID)
	if err != nil || i.Status != StatusApproved {
		return nil, false
	}
	return i.ResponseMap(), true
}

// Approve, Reject, and Submit are the caller-facing (API/CLI) side of
// resolving a pending interaction — distinct from Resolve, which only
// reports an already-decided outcome. The caller is responsible for then
// invoking Orchestrator.ResumeExecution with the same outputs so the
// suspended node actually continues.
func (s *Store) Approve(ctx context.Context, executionID, nodeID, userID string, roles []string, data map[string]any) (*Interaction, error) {
	return s.resolve(ctx, executionID, nodeID, userID, roles, func(i *Interaction) error { return i.Approve(userID, data) })
}

func (s *Store) Reject(ctx context.Context, executionID, nodeID, userID string, roles []string, data map[string]any) (*Interaction, error) {
	return s.resolve(ctx, executionID, nodeID, userID, roles, func(i *Interaction) error { return i.Reject(userID, data) })
}

func (s *Store) Submit(ctx context.Context, executionID, nodeID, userID string, roles []string, data map[string]any) (*Interaction, error) {
	return s.resolve(ctx, executionID, nodeID, userID, roles, func(i *Interaction) error { return i.Submit(userID, data) })
}

func (s *Store) resolve(ctx context.Context, executionID, nodeID, userID string, roles []string, apply func(*Interaction) error) (*Interaction, error) {
	i, err := s.repo.GetByExecutionNode(ctx, executionID, nodeID)
	if err != nil {
		return nil, err
	}
	if !i.CanBeActedOnBy(userID, roles) {
		return nil, ErrUnauthorized
	}
	if err := apply(i); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, i); err != nil {
		return nil, err
	}
	s.publish(executionID, "interaction_resolved", i)
	return i, nil
}

// ProcessOverdue escalates or finalizes every interaction whose due date
// has passed, per spec.md SUPPLEMENTED FEATURES #2, mirroring the
// teacher's ProcessOverdueTasks. It runs only when a caller invokes it;
// cmd/engine does not start a periodic loop for it.
func (s *Store) ProcessOverdue(ctx context.Context, now time.Time) error {
	overdue, err := s.repo.ListOverdue(ctx, now)
	if err != nil {
		return err
	}
	for _, i := range overdue {
		if err := s.handleOverdue(ctx, i); err != nil {
			s.logger.Error("humaninteraction: failed to process overdue interaction", "interaction_id", i.ID, "error", err)
		}
	}
	return nil
}

func (s *Store) handleOverdue(ctx context.Context, i *Interaction) error {
	escConfig, err := ParseEscalationConfig(i.Extra)
	if err != nil {
		return err
	}
	if escConfig != nil && escConfig.Enabled {
		return s.escalate(ctx, i, escConfig)
	}
	if err := i.Expire(); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, i); err != nil {
		return err
	}
	s.publish(i.ExecutionID, "interaction_resolved", i)
	return nil
}

func (s *Store) escalate(ctx context.Context, i *Interaction, config *EscalationConfig) error {
	next := config.GetNextLevel(i.EscalationLevel)
	if next == nil || !CanEscalate(i.Status, i.EscalationLevel, i.MaxEscalationLevel) {
		return s.applyFinalAction(ctx, i, config)
	}

	var newDueDate *time.Time
	if next.TimeoutMinutes > 0 {
		due := time.Now().Add(time.Duration(next.TimeoutMinutes) * time.Minute)
		newDueDate = &due
	}
	if err := i.Escalate(next.BackupApprovers, newDueDate); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, i); err != nil {
		return err
	}
	if config.NotifyOnEscalate {
		s.publish(i.ExecutionID, "interaction_escalated", i)
	}
	return nil
}

func (s *Store) applyFinalAction(ctx context.Context, i *Interaction, config *EscalationConfig) error {
	var err error
	switch config.FinalAction {
	case TimeoutAutoApprove:
		err = i.Approve("", map[string]any{"auto_action": true, "reason": "escalation levels exhausted"})
	case TimeoutAutoReject:
		err = i.Reject("", map[string]any{"auto_action": true, "reason": "escalation levels exhausted"})
	default:
		err = i.Expire()
	}
	if err != nil {
		return err
	}
	if err := s.repo.Update(ctx, i); err != nil {
		return err
	}
	s.publish(i.ExecutionID, "interaction_resolved", i)
	return nil
}

func (s *Store) publish(executionID, event string, i *Interaction) {
	if s.bus == nil {
		return
	}
	s.bus.ForExecution(executionID).Publish(event, map[string]any{
		"interaction_id": i.ID.String(),
		"node_id":        i.NodeID,
		"status":         i.Status,
	})
}

func stringsFrom(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
