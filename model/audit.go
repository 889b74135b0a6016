package model

import (
	"encoding/json"
	"time"
)

// AuditType classifies a workflow audit entry.
type AuditType string

const (
	AuditTypeAssignments       AuditType = "ASSIGNMENTS"
	AuditTypeDataNormalization AuditType = "DATA_NORMALIZATION"
)

// Change is one entry of a ChangeLog: either a leaf change with old and new
// values, or a nested ChangeLog when both sides held objects.
type Change struct {
	OldValue any
	NewValue any
	Nested   ChangeLog
}

// IsNested reports whether the change holds a nested diff.
func (c Change) IsNested() bool { return c.Nested != nil }

// MarshalJSON renders a leaf as {"oldValue","newValue"} and a nested change
// as the nested ChangeLog object.
func (c Change) MarshalJSON() ([]byte, error) {
	if c.Nested != nil {
		return json.Marshal(c.Nested)
	}
	return json.Marshal(struct {
		OldValue any `json:"oldValue"`
		NewValue any `json:"newValue"`
	}{c.OldValue, c.NewValue})
}

// UnmarshalJSON accepts both shapes written by MarshalJSON.
func (c *Change) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	_, hasOld := raw["oldValue"]
	_, hasNew := raw["newValue"]
	if hasOld && hasNew && len(raw) == 2 {
		var leaf struct {
			OldValue any `json:"oldValue"`
			NewValue any `json:"newValue"`
		}
		if err := json.Unmarshal(data, &leaf); err != nil {
			return err
		}
		*c = Change{OldValue: leaf.OldValue, NewValue: leaf.NewValue}
		return nil
	}
	var nested ChangeLog
	if err := json.Unmarshal(data, &nested); err != nil {
		return err
	}
	*c = Change{Nested: nested}
	return nil
}

// ChangeLog maps a changed field name to its change. Unchanged fields are
// never present.
//
// The JSON form cannot tell a leaf from a nested ChangeLog whose only
// changed fields are named oldValue and newValue; UnmarshalJSON reads such
// an object as a leaf. Storage uses EncodeChangeLog and DecodeChangeLog,
// which tag each change explicitly.
type ChangeLog map[string]Change

type storedChange struct {
	Leaf   *storedLeaf             `json:"leaf,omitempty"`
	Nested map[string]storedChange `json:"nested,omitempty"`
}

type storedLeaf struct {
	Old any `json:"old"`
	New any `json:"new"`
}

func toStored(l ChangeLog) map[string]storedChange {
	out := make(map[string]storedChange, len(l))
	for k, c := range l {
		if c.Nested != nil {
			out[k] = storedChange{Nested: toStored(c.Nested)}
			continue
		}
		out[k] = storedChange{Leaf: &storedLeaf{Old: c.OldValue, New: c.NewValue}}
	}
	return out
}

func fromStored(m map[string]storedChange) ChangeLog {
	out := make(ChangeLog, len(m))
	for k, sc := range m {
		if sc.Leaf != nil {
			out[k] = Change{OldValue: sc.Leaf.Old, NewValue: sc.Leaf.New}
			continue
		}
		out[k] = Change{Nested: fromStored(sc.Nested)}
	}
	return out
}

// EncodeChangeLog renders l in its tagged storage form.
func EncodeChangeLog(l ChangeLog) ([]byte, error) {
	return json.Marshal(toStored(l))
}

// DecodeChangeLog parses the storage form written by EncodeChangeLog.
func DecodeChangeLog(data []byte) (ChangeLog, error) {
	var m map[string]storedChange
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return fromStored(m), nil
}

// WorkflowAuditEntry is the immutable record of one workflow mutation.
type WorkflowAuditEntry struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflowId"`
	ChangeLog  ChangeLog      `json:"changeLog"`
	AuditType  AuditType      `json:"auditType"`
	CreatedBy  string         `json:"createdBy"`
	CreateTs   time.Time      `json:"createTs"`
	Snapshot   map[string]any `json:"snapshot,omitempty"`
}
