// Package filter turns the flat filter objects accepted by the search API into
// normalized predicates that storage backends compile or evaluate.
package filter

import (
	"fmt"
	"time"

	"github.com/pitabwire/copydesk/model"
)

// Filter keys with dedicated rules.
const (
	FieldID            = "id"
	FieldExcludeID     = "excludeId"
	FieldLastUpdateTs  = "lastUpdateTs"
	FieldStatus        = "status"
	FieldCreateProcess = "createProcess"
	FieldGlobalSearch  = "globalSearch"
)

// GlobalSearchFields are the fields a globalSearch condition is matched
// against; any one matching satisfies the condition.
var GlobalSearchFields = []string{"styleId", "title", "brand", "assignee", "writer", "editor"}

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Mode selects how string comparisons are made.
type Mode string

// ModeInsensitive compares strings case-insensitively. The zero Mode is exact.
const ModeInsensitive Mode = "insensitive"

// Filters is the client-supplied filter object. Values are a string or a
// list of strings.
type Filters map[string]any

// Condition is the rule applied to one field. Only the operators that are
// set take part in matching; all of them must hold.
type Condition struct {
	In       []string `json:"in,omitempty"`
	NotIn    []string `json:"notIn,omitempty"`
	Contains *string  `json:"contains,omitempty"`
	Gte      string   `json:"gte,omitempty"`
	Lt       string   `json:"lt,omitempty"`
	Mode     Mode     `json:"mode,omitempty"`
}

// Predicate maps a field name to its condition.
type Predicate map[string]Condition

// Build translates filters into a Predicate. Day values for lastUpdateTs are
// interpreted in loc; a nil loc means time.Local. The input map is never
// modified. Keys without a dedicated rule get the case-insensitive rule;
// rejecting unknown keys is the request validator's job.
func Build(filters Filters, loc *time.Location) (Predicate, error) {
	if loc == nil {
		loc = time.Local
	}

	pred := make(Predicate, len(filters))
	for key, raw := range filters {
		if raw == nil {
			continue
		}
		values, isList, err := stringValues(raw)
		if err != nil {
			return nil, invalidFilter(key, err.Error())
		}

		switch key {
		case FieldID:
			cond := pred[FieldID]
			cond.In = values
			pred[FieldID] = cond

		case FieldExcludeID:
			cond := pred[FieldID]
			cond.NotIn = values
			pred[FieldID] = cond

		case FieldLastUpdateTs:
			if len(values) != 1 {
				return nil, invalidFilter(key, "expected a single date")
			}
			cond, err := dayRange(values[0], loc)
			if err != nil {
				return nil, invalidFilter(key, err.Error())
			}
			pred[key] = cond

		case FieldStatus, FieldCreateProcess:
			pred[key] = valueCondition(values, isList, "")

		default:
			pred[key] = valueCondition(values, isList, ModeInsensitive)
		}
	}
	return pred, nil
}

func valueCondition(values []string, isList bool, mode Mode) Condition {
	if isList {
		return Condition{In: values, Mode: mode}
	}
	v := values[0]
	return Condition{Contains: &v, Mode: mode}
}

// dayRange expands a date into [local midnight, local 23:59:59.999].
func dayRange(value string, loc *time.Location) (Condition, error) {
	day, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		ts, rfcErr := time.Parse(time.RFC3339, value)
		if rfcErr != nil {
			return Condition{}, fmt.Errorf("%q is not a date", value)
		}
		day = ts.In(loc)
	}

	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
	return Condition{
		Gte: start.UTC().Format(TimestampLayout),
		Lt:  end.UTC().Format(TimestampLayout),
	}, nil
}

// stringValues normalizes a filter value into a fresh slice and reports
// whether the client sent a list.
func stringValues(raw any) ([]string, bool, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, false, nil
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, true, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false, fmt.Errorf("list values must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, true, nil
	default:
		return nil, false, fmt.Errorf("value must be a string or a list of strings, got %T", raw)
	}
}

func invalidFilter(field, msg string) *model.ErrorEnvelope {
	return model.NewValidationError([]model.FieldError{{
		Field:   "filters." + field,
		Code:    "INVALID_FILTER",
		Message: msg,
	}})
}
