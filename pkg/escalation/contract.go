package escalation

import (
	"encoding/json"
	"fmt"
)

// HumanDecision is the requires_human_decision field of every finding. It
// has no state: it always encodes as true and decodes only from true.
type HumanDecision struct{}

func (HumanDecision) Required() bool { return true }

func (HumanDecision) MarshalJSON() ([]byte, error) { return []byte("true"), nil }

func (*HumanDecision) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if !v {
		return fmt.Errorf("escalation: requires_human_decision must be true")
	}
	return nil
}

// NoAutoAction is the auto_action_taken field of every finding. It always
// encodes as "none" and decodes only from "none".
type NoAutoAction struct{}

// AutoActionNone is the only auto action a finding can report.
const AutoActionNone = "none"

func (NoAutoAction) String() string { return AutoActionNone }

func (NoAutoAction) MarshalJSON() ([]byte, error) { return json.Marshal(AutoActionNone) }

func (*NoAutoAction) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v != AutoActionNone {
		return fmt.Errorf("escalation: auto_action_taken must be %q, got %q", AutoActionNone, v)
	}
	return nil
}
