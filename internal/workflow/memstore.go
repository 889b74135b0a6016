package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/copydesk/internal/filter"
	"github.com/pitabwire/copydesk/model"
)

// MemoryStore is an in-memory WorkflowStore and AuditStore for tests and
// single-instance deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]model.Workflow             // key: workflow ID
	entries   map[string][]model.WorkflowAuditEntry // key: workflow ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]model.Workflow),
		entries:   make(map[string][]model.WorkflowAuditEntry),
	}
}

// FindOne returns the first record matching pred in default order.
func (s *MemoryStore) FindOne(_ context.Context, pred filter.Predicate) (model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := s.match(pred)
	if len(matches) == 0 {
		return model.Workflow{}, model.NewNotFoundError("workflow not found")
	}
	sortWorkflows(matches, DefaultOrder)
	return matches[0], nil
}

// FindMany returns matching records ordered and paged by opts.
func (s *MemoryStore) FindMany(_ context.Context, pred filter.Predicate, opts FindOptions) ([]model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.match(pred)
	sortWorkflows(result, effectiveOrder(opts.OrderBy))

	if opts.Skip > 0 {
		if opts.Skip >= len(result) {
			return []model.Workflow{}, nil
		}
		result = result[opts.Skip:]
	}
	if opts.Take > 0 && opts.Take < len(result) {
		result = result[:opts.Take]
	}
	return result, nil
}

// Count returns the number of matching records.
func (s *MemoryStore) Count(_ context.Context, pred filter.Predicate) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.match(pred)), nil
}

// Create inserts a new record.
func (s *MemoryStore) Create(_ context.Context, wf model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("workflow %q already exists", wf.ID))
	}
	for _, existing := range s.workflows {
		if existing.StyleID == wf.StyleID {
			return model.NewDuplicateStyleError(wf.StyleID)
		}
	}

	s.workflows[wf.ID] = wf
	return nil
}

// Update applies u to one record.
func (s *MemoryStore) Update(_ context.Context, id string, u model.WorkflowUpdate) (model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.workflows[id]
	if !exists {
		return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}

	updated := existing.Apply(u)
	s.workflows[id] = updated
	return updated, nil
}

// UpdateMany applies u to every matching record.
func (s *MemoryStore) UpdateMany(_ context.Context, pred filter.Predicate, u model.WorkflowUpdate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := s.match(pred)
	for _, wf := range matches {
		s.workflows[wf.ID] = wf.Apply(u)
	}
	return len(matches), nil
}

// Delete removes a record and its audit entries.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[id]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
	}

	delete(s.workflows, id)
	delete(s.entries, id)
	return nil
}

// Distinct returns the sorted distinct values of field among matches.
func (s *MemoryStore) Distinct(_ context.Context, pred filter.Predicate, field string) ([]string, error) {
	if !DistinctFields[field] {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("field %q does not support distinct values", field))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, wf := range s.match(pred) {
		v, ok := recordFields(wf)[field].(string)
		if !ok || v == "" {
			continue
		}
		seen[v] = true
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

// AppendEntry records a new audit entry.
func (s *MemoryStore) AppendEntry(_ context.Context, entry model.WorkflowAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[entry.WorkflowID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", entry.WorkflowID))
	}
	s.entries[entry.WorkflowID] = append(s.entries[entry.WorkflowID], entry)
	return nil
}

// ListEntries returns the entries of a workflow, newest first.
func (s *MemoryStore) ListEntries(_ context.Context, workflowID string, skip, take int) ([]model.WorkflowAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[workflowID]
	result := make([]model.WorkflowAuditEntry, len(entries))
	copy(result, entries)
	// Stable on equal timestamps so later appends come first after reversal.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreateTs.Before(result[j].CreateTs)
	})
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	if skip > 0 {
		if skip >= len(result) {
			return []model.WorkflowAuditEntry{}, nil
		}
		result = result[skip:]
	}
	if take > 0 && take < len(result) {
		result = result[:take]
	}
	return result, nil
}

// CountEntries returns the number of entries of a workflow.
func (s *MemoryStore) CountEntries(_ context.Context, workflowID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[workflowID]), nil
}

// GetEntry returns one entry of a workflow.
func (s *MemoryStore) GetEntry(_ context.Context, workflowID, entryID string) (model.WorkflowAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries[workflowID] {
		if e.ID == entryID {
			return e, nil
		}
	}
	return model.WorkflowAuditEntry{}, model.NewNotFoundError(
		fmt.Sprintf("audit entry %q not found", entryID),
	)
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the total number of workflows. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workflows)
}

// match returns copies of the records satisfying pred. Callers hold mu.
func (s *MemoryStore) match(pred filter.Predicate) []model.Workflow {
	result := make([]model.Workflow, 0)
	for _, wf := range s.workflows {
		if pred.Match(recordFields(wf)) {
			result = append(result, wf)
		}
	}
	return result
}

// sortWorkflows orders records by the given keys. Nil values sort last in
// either direction, matching NULLS LAST on the SQL side.
func sortWorkflows(wfs []model.Workflow, order []Sort) {
	fields := make([]map[string]any, len(wfs))
	for i, wf := range wfs {
		fields[i] = recordFields(wf)
	}
	idx := make([]int, len(wfs))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		fa, fb := fields[idx[a]], fields[idx[b]]
		for _, o := range order {
			va, vb := fa[o.Field], fb[o.Field]
			if va == nil && vb == nil {
				continue
			}
			if va == nil {
				return false
			}
			if vb == nil {
				return true
			}
			c := compareValues(va, vb)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	sorted := make([]model.Workflow, len(wfs))
	for i, j := range idx {
		sorted[i] = wfs[j]
	}
	copy(wfs, sorted)
}

func compareValues(a, b any) int {
	switch va := a.(type) {
	case time.Time:
		vb, _ := b.(time.Time)
		return va.Compare(vb)
	case string:
		vb, _ := b.(string)
		return strings.Compare(va, vb)
	case bool:
		vb, _ := b.(bool)
		switch {
		case va == vb:
			return 0
		case !va:
			return -1
		default:
			return 1
		}
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}
