package workflow

import (
	"context"
	"time"

	"github.com/pitabwire/copydesk/internal/filter"
	"github.com/pitabwire/copydesk/model"
)

// WorkflowStore persists workflow records.
type WorkflowStore interface {
	// FindOne returns the first record matching pred. Returns NOT_FOUND when
	// nothing matches.
	FindOne(ctx context.Context, pred filter.Predicate) (model.Workflow, error)

	// FindMany returns the records matching pred, ordered and paged by opts.
	FindMany(ctx context.Context, pred filter.Predicate, opts FindOptions) ([]model.Workflow, error)

	// Count returns the number of records matching pred.
	Count(ctx context.Context, pred filter.Predicate) (int, error)

	// Create inserts a new record. Returns DUPLICATE_STYLE when a record for
	// the same style already exists.
	Create(ctx context.Context, wf model.Workflow) error

	// Update applies u to the record with the given id and returns the
	// stored result. Returns NOT_FOUND if the record doesn't exist.
	Update(ctx context.Context, id string, u model.WorkflowUpdate) (model.Workflow, error)

	// UpdateMany applies u to every record matching pred and returns the
	// number of records changed.
	UpdateMany(ctx context.Context, pred filter.Predicate, u model.WorkflowUpdate) (int, error)

	// Delete removes a record and its audit entries.
	Delete(ctx context.Context, id string) error

	// Distinct returns the sorted distinct non-empty values of field among
	// the records matching pred.
	Distinct(ctx context.Context, pred filter.Predicate, field string) ([]string, error)
}

// AuditStore persists workflow audit entries.
type AuditStore interface {
	// AppendEntry records a new entry.
	AppendEntry(ctx context.Context, entry model.WorkflowAuditEntry) error

	// ListEntries returns the entries of a workflow, newest first.
	ListEntries(ctx context.Context, workflowID string, skip, take int) ([]model.WorkflowAuditEntry, error)

	// CountEntries returns the number of entries of a workflow.
	CountEntries(ctx context.Context, workflowID string) (int, error)

	// GetEntry returns one entry of a workflow. Returns NOT_FOUND if the
	// entry doesn't exist or belongs to a different workflow.
	GetEntry(ctx context.Context, workflowID, entryID string) (model.WorkflowAuditEntry, error)
}

// StyleCatalog resolves style attributes from the upstream catalog.
type StyleCatalog interface {
	LookupStyle(ctx context.Context, styleID string) (model.StyleAttributes, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// FindOptions page and order a FindMany call. A zero Take returns every
// match.
type FindOptions struct {
	Skip    int
	Take    int
	OrderBy []Sort
}

// Sort orders results by one field.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"-"`
}

// DefaultOrder lists recently updated records first.
var DefaultOrder = []Sort{{Field: "lastUpdateTs", Desc: true}, {Field: "id"}}

// effectiveOrder returns order, or DefaultOrder when empty, ending in an id
// key so that records tied on every requested field keep a stable position
// across pages.
func effectiveOrder(order []Sort) []Sort {
	if len(order) == 0 {
		return DefaultOrder
	}
	for _, o := range order {
		if o.Field == "id" {
			return order
		}
	}
	out := make([]Sort, 0, len(order)+1)
	out = append(out, order...)
	return append(out, Sort{Field: "id"})
}

// SortableFields are the fields results may be ordered by.
var SortableFields = map[string]bool{
	"styleId":       true,
	"brand":         true,
	"title":         true,
	"status":        true,
	"writer":        true,
	"editor":        true,
	"assignee":      true,
	"admin":         true,
	"lastUpdateTs":  true,
	"lastUpdatedBy": true,
	"createTs":      true,
	"id":            true,
}

// DistinctFields are the fields the distinct-values query accepts.
var DistinctFields = map[string]bool{
	"styleId":       true,
	"brand":         true,
	"title":         true,
	"status":        true,
	"writer":        true,
	"editor":        true,
	"assignee":      true,
	"admin":         true,
	"createProcess": true,
	"lastUpdatedBy": true,
}

// recordFields exposes w by JSON field name for predicate matching and
// ordering. Absent optional values are nil.
func recordFields(w model.Workflow) map[string]any {
	return map[string]any{
		"id":                  w.ID,
		"styleId":             w.StyleID,
		"brand":               w.Brand,
		"title":               w.Title,
		"status":              string(w.Status),
		"writer":              optString(w.Writer),
		"editor":              optString(w.Editor),
		"assignee":            optString(w.Assignee),
		"admin":               w.Admin,
		"createProcess":       string(w.CreateProcess),
		"isPublished":         w.IsPublished,
		"isQuickFix":          w.IsQuickFix,
		"lastUpdateTs":        w.LastUpdateTs,
		"lastUpdatedBy":       w.LastUpdatedBy,
		"lastWriteCompleteTs": optTime(w.LastWriteCompleteTs),
		"lastEditCompleteTs":  optTime(w.LastEditCompleteTs),
		"createTs":            w.CreateTs,
	}
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// idPredicate selects one record by id.
func idPredicate(id string) filter.Predicate {
	return filter.Predicate{filter.FieldID: {In: []string{id}}}
}
