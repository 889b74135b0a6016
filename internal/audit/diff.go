// Package audit computes sparse structural differences between two record
// snapshots for the workflow change log.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/pitabwire/copydesk/model"
)

// MaxDepth bounds recursion into nested objects. Objects nested deeper are
// compared as whole values.
const MaxDepth = 32

var (
	// ErrInvalidAfterArgument is returned when the after value is not an object.
	ErrInvalidAfterArgument = errors.New("obj2 must be a valid object")

	// ErrInvalidBeforeArgument is returned when the before value is neither
	// nil nor an object.
	ErrInvalidBeforeArgument = errors.New("obj1 must be a valid object or null")
)

// Compare returns the fields that differ between before and after. Both
// values must be JSON objects: map[string]any values are used as-is, structs
// and other maps are converted with Snapshot. A nil before reports every key
// of after with a nil old value. Keys listed in ignoreKeys are skipped at
// every depth.
func Compare(before, after any, ignoreKeys ...string) (model.ChangeLog, error) {
	afterObj, ok, err := asObject(after)
	if err != nil {
		return nil, err
	}
	if !ok || afterObj == nil {
		return nil, ErrInvalidAfterArgument
	}

	ignored := make(map[string]struct{}, len(ignoreKeys))
	for _, k := range ignoreKeys {
		ignored[k] = struct{}{}
	}

	if isNil(before) {
		changes := make(model.ChangeLog, len(afterObj))
		for k, v := range afterObj {
			if _, skip := ignored[k]; skip {
				continue
			}
			changes[k] = model.Change{OldValue: nil, NewValue: v}
		}
		return changes, nil
	}

	beforeObj, ok, err := asObject(before)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidBeforeArgument, before)
	}

	return compareObjects(beforeObj, afterObj, ignored, 0), nil
}

func compareObjects(before, after map[string]any, ignored map[string]struct{}, depth int) model.ChangeLog {
	changes := model.ChangeLog{}

	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	for k := range keys {
		if _, skip := ignored[k]; skip {
			continue
		}
		oldValue := before[k]
		newValue := after[k]

		oldObj, oldIsObj := oldValue.(map[string]any)
		newObj, newIsObj := newValue.(map[string]any)
		if oldIsObj && newIsObj && depth < MaxDepth {
			nested := compareObjects(oldObj, newObj, ignored, depth+1)
			if len(nested) > 0 {
				changes[k] = model.Change{Nested: nested}
			}
			continue
		}

		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		changes[k] = model.Change{OldValue: oldValue, NewValue: newValue}
	}
	return changes
}

// Snapshot converts v to its JSON object shape. It fails when v does not
// encode to a JSON object.
func Snapshot(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return obj, nil
}

// asObject reports whether v is an object and returns it in map form.
func asObject(v any) (map[string]any, bool, error) {
	if obj, ok := v.(map[string]any); ok {
		return obj, true, nil
	}
	if v == nil {
		return nil, false, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false, nil
		}
	default:
		return nil, false, nil
	}

	obj, err := Snapshot(rv.Interface())
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		return rv.IsNil()
	}
	return false
}
