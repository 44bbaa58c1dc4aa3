// Package humaninteraction implements the interaction record + escalation
// state machine backing the reference Interaction-capable node's
// human_interaction suspension (spec.md §4.3.4, SUPPLEMENTED FEATURES #2).
// Adapted from the teacher's internal/humantask package: HumanTask becomes
// Interaction, keyed by (execution_id, node_id) instead of a tenant-scoped
// task id, since here a suspension is always scoped to one node of one
// execution rather than a standalone user-facing work item.
package humaninteraction

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Interaction types — what kind of human input a suspended node is
// waiting for.
const (
	TypeApproval = "approval"
	TypeInput    = "input"
	TypeReview   = "review"
)

// Interaction statuses.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Timeout actions, applied once escalation (if any) is exhausted.
const (
	TimeoutAutoApprove = "auto_approve"
	TimeoutAutoReject  = "auto_reject"
)

// Interaction is one pending (or resolved) human-in-the-loop suspension
// for a single node of a single execution.
type Interaction struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	ExecutionID        string          `db:"execution_id" json:"execution_id"`
	NodeID             string          `db:"node_id" json:"node_id"`
	Type               string          `db:"type" json:"type"`
	Title              string          `db:"title" json:"title"`
	Description        string          `db:"description" json:"description"`
	Assignees          json.RawMessage `db:"assignees" json:"assignees"`
	Status             string          `db:"status" json:"status"`
	DueDate            *time.Time      `db:"due_date" json:"due_date,omitempty"`
	CompletedAt        *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CompletedBy        string          `db:"completed_by" json:"completed_by,omitempty"`
	ResponseData       json.RawMessage `db:"response_data" json:"response_data,omitempty"`
	Extra              json.RawMessage `db:"extra" json:"extra,omitempty"`
	EscalationLevel    int             `db:"escalation_level" json:"escalation_level"`
	MaxEscalationLevel int             `db:"max_escalation_level" json:"max_escalation_level"`
	LastEscalatedAt    *time.Time      `db:"last_escalated_at" json:"last_escalated_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// AssigneesList decodes Assignees into a plain string slice.
func (i *Interaction) AssigneesList() []string {
	var out []string
	if len(i.Assignees) == 0 {
		return out
	}
	_ = json.Unmarshal(i.Assignees, &out)
	return out
}

// ResponseMap decodes ResponseData, the outputs the Parallel Executor
// resumes the suspended node with.
func (i *Interaction) ResponseMap() map[string]any {
	if len(i.ResponseData) == 0 {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(i.ResponseData, &out)
	return out
}

func (i *Interaction) IsPending() bool { return i.Status == StatusPending }

func (i *Interaction) IsCompleted() bool {
	return i.Status == StatusApproved || i.Status == StatusRejected ||
		i.Status == StatusExpired || i.Status == StatusCancelled
}

func (i *Interaction) IsOverdue(now time.Time) bool {
	return i.IsPending() && i.DueDate != nil && now.After(*i.DueDate)
}

// CanBeActedOnBy reports whether userID (directly) or any of roles
// (by membership) is among the current assignees.
func (i *Interaction) CanBeActedOnBy(userID string, roles []string) bool {
	if !i.IsPending() {
		return false
	}
	for _, a := range i.AssigneesList() {
		if a == userID {
			return true
		}
		for _, r := range roles {
			if a == r {
				return true
			}
		}
	}
	return false
}

func (i *Interaction) complete(status, completedBy string, data map[string]any) error {
	if !i.IsPending() {
		return ErrInteractionNotPending
	}
	responseData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	i.Status = status
	now := time.Now()
	i.CompletedAt = &now
	i.CompletedBy = completedBy
	i.ResponseData = responseData
	i.UpdatedAt = now
	return nil
}

// Approve resolves the interaction favorably — the node resumes as if it
// succeeded.
func (i *Interaction) Approve(userID string, data map[string]any) error {
	return i.complete(StatusApproved, userID, data)
}

// Reject resolves the interaction unfavorably — the node resumes with an
// error, per ResumeInteraction's Cancelled/err handling.
func (i *Interaction) Reject(userID string, data map[string]any) error {
	return i.complete(StatusRejected, userID, data)
}

// Submit resolves an input/review interaction with the submitted data — a
// distinct verb from Approve for readability at call sites, same terminal
// status.
func (i *Interaction) Submit(userID string, data map[string]any) error {
	return i.complete(StatusApproved, userID, data)
}

// Expire marks the interaction expired with no response (the node resumes
// with an error).
func (i *Interaction) Expire() error {
	if !i.IsPending() {
		return ErrInteractionNotPending
	}
	i.Status = StatusExpired
	now := time.Now()
	i.CompletedAt = &now
	i.UpdatedAt = now
	return nil
}

// Cancel marks the interaction cancelled, mirroring
// execctx.InteractionDescriptor.Cancelled (set when the owning execution
// is cancelled while a node is suspended).
func (i *Interaction) Cancel() error {
	if !i.IsPending() {
		return ErrInteractionNotPending
	}
	i.Status = StatusCancelled
	now := time.Now()
	i.CompletedAt = &now
	i.UpdatedAt = now
	return nil
}

// Escalate reassigns the interaction to a new set of assignees and bumps
// its escalation level, per spec.md SUPPLEMENTED FEATURES #2.
func (i *Interaction) Escalate(newAssignees []string, newDueDate *time.Time) error {
	if !i.IsPending() {
		return ErrInteractionNotPending
	}
	assignees, err := json.Marshal(newAssignees)
	if err != nil {
		return err
	}
	i.Assignees = assignees
	i.EscalationLevel++
	now := time.Now()
	i.LastEscalatedAt = &now
	if newDueDate != nil {
		i.DueDate = newDueDate
	}
	i.UpdatedAt = now
	return nil
}

// CanEscalate reports whether an interaction at escalationLevel may still
// escalate further under maxEscalationLevel.
func CanEscalate(status string, escalationLevel, maxEscalationLevel int) bool {
	return status == StatusPending && escalationLevel < maxEscalationLevel
}
