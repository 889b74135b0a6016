package filter

import (
	"fmt"
	"strings"
	"time"
)

// Match evaluates the predicate against a record given as field name to
// value. Supported values are string, bool, time.Time and nil. A record
// matches when every condition holds.
func (p Predicate) Match(record map[string]any) bool {
	for field, cond := range p {
		if field == FieldGlobalSearch {
			if !matchAny(cond, record, GlobalSearchFields) {
				return false
			}
			continue
		}
		if !cond.Match(record[field]) {
			return false
		}
	}
	return true
}

func matchAny(cond Condition, record map[string]any, fields []string) bool {
	for _, f := range fields {
		if cond.Match(record[f]) {
			return true
		}
	}
	return false
}

// Match reports whether value satisfies every operator set on c. A nil
// value fails In, Contains and range operators and passes NotIn.
func (c Condition) Match(value any) bool {
	if c.Gte != "" || c.Lt != "" {
		ts, ok := value.(time.Time)
		if !ok {
			return false
		}
		if c.Gte != "" {
			gte, err := time.Parse(TimestampLayout, c.Gte)
			if err != nil || ts.Before(gte) {
				return false
			}
		}
		if c.Lt != "" {
			lt, err := time.Parse(TimestampLayout, c.Lt)
			if err != nil || !ts.Before(lt) {
				return false
			}
		}
	}

	s, present := stringOf(value)

	if c.In != nil {
		if !present || !c.contains(c.In, s) {
			return false
		}
	}
	if c.NotIn != nil && present && c.contains(c.NotIn, s) {
		return false
	}
	if c.Contains != nil {
		if !present {
			return false
		}
		if c.Mode == ModeInsensitive {
			if !strings.Contains(strings.ToLower(s), strings.ToLower(*c.Contains)) {
				return false
			}
		} else if !strings.Contains(s, *c.Contains) {
			return false
		}
	}
	return true
}

func (c Condition) contains(list []string, s string) bool {
	for _, v := range list {
		if c.Mode == ModeInsensitive {
			if strings.EqualFold(v, s) {
				return true
			}
		} else if v == s {
			return true
		}
	}
	return false
}

func stringOf(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	case fmt.Stringer:
		return v.String(), true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	default:
		return fmt.Sprint(v), true
	}
}
