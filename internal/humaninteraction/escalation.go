package humaninteraction

import "encoding/json"

// EscalationConfig is the escalation policy carried in an Interaction's
// Extra payload (spec.md SUPPLEMENTED FEATURES #2), parsed from whatever
// the suspending node attached under the "escalation" key.
type EscalationConfig struct {
	Enabled          bool              `json:"enabled"`
	Levels           []EscalationLevel `json:"levels"`
	FinalAction      string            `json:"final_action"` // auto_approve, auto_reject, or "" (expire)
	NotifyOnEscalate bool              `json:"notify_on_escalate"`
}

// EscalationLevel is one rung of the escalation ladder.
type EscalationLevel struct {
	Level           int      `json:"level"`
	TimeoutMinutes  int      `json:"timeout_minutes"`
	BackupApprovers []string `json:"backup_approvers"`
}

// ParseEscalationConfig extracts an EscalationConfig from an Interaction's
// raw Extra payload, which may or may not carry an "escalation" key.
func ParseEscalationConfig(extra json.RawMessage) (*EscalationConfig, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	var wrapper struct {
		Escalation *EscalationConfig `json:"escalation"`
	}
	if err := json.Unmarshal(extra, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Escalation, nil
}

// GetLevelConfig returns the configuration for a specific escalation
// level, or nil if none is configured at that level.
func (ec *EscalationConfig) GetLevelConfig(level int) *EscalationLevel {
	for i := range ec.Levels {
		if ec.Levels[i].Level == level {
			return &ec.Levels[i]
		}
	}
	return nil
}

// GetMaxLevel returns the highest configured escalation level.
func (ec *EscalationConfig) GetMaxLevel() int {
	max := 0
	for _, l := range ec.Levels {
		if l.Level > max {
			max = l.Level
		}
	}
	return max
}

// GetNextLevel returns the configuration for the level after currentLevel.
func (ec *EscalationConfig) GetNextLevel(currentLevel int) *EscalationLevel {
	return ec.GetLevelConfig(currentLevel + 1)
}
