package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pitabwire/copydesk/internal/filter"
	"github.com/pitabwire/copydesk/model"
)

var baseTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func testWorkflow(id, styleID string, status model.Status, updated time.Time) model.Workflow {
	return model.Workflow{
		ID:            id,
		StyleID:       styleID,
		Brand:         "acme",
		Title:         "linen shirt " + styleID,
		Status:        status,
		Admin:         "admin@x.com",
		CreateProcess: model.CreateProcessWriterInterface,
		LastUpdateTs:  updated,
		LastUpdatedBy: "admin@x.com",
		CreateTs:      baseTime,
	}
}

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	wfs := []model.Workflow{
		testWorkflow("wf-1", "AB1", model.StatusWaitingForWriter, baseTime),
		testWorkflow("wf-2", "AB2", model.StatusAssignedToWriter, baseTime.Add(time.Hour)),
		testWorkflow("wf-3", "CD3", model.StatusAssignedToWriter, baseTime.Add(2*time.Hour)),
	}
	wfs[1].Writer = model.StringPtr("w@x.com")
	wfs[1].Assignee = model.StringPtr("w@x.com")
	wfs[2].Writer = model.StringPtr("other@x.com")
	wfs[2].Assignee = model.StringPtr("other@x.com")
	wfs[2].Brand = "globex"

	for _, wf := range wfs {
		if err := store.Create(context.Background(), wf); err != nil {
			t.Fatalf("Create(%s) error: %v", wf.ID, err)
		}
	}
	return store
}

func assertCode(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if env.Code != want {
		t.Errorf("code = %s, want %s", env.Code, want)
	}
}

// --- Create ---

func TestMemoryStore_Create(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Create(context.Background(), testWorkflow("wf-1", "AB1", model.StatusWaitingForWriter, baseTime)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_Create_duplicateStyle(t *testing.T) {
	store := seededStore(t)
	err := store.Create(context.Background(), testWorkflow("wf-9", "AB1", model.StatusWaitingForWriter, baseTime))
	assertCode(t, err, model.ErrDuplicateStyle)
}

func TestMemoryStore_Create_duplicateID(t *testing.T) {
	store := seededStore(t)
	err := store.Create(context.Background(), testWorkflow("wf-1", "ZZ9", model.StatusWaitingForWriter, baseTime))
	assertCode(t, err, model.ErrConflict)
}

// --- Find ---

func TestMemoryStore_FindOne(t *testing.T) {
	store := seededStore(t)
	got, err := store.FindOne(context.Background(), idPredicate("wf-2"))
	if err != nil {
		t.Fatalf("FindOne error: %v", err)
	}
	if got.StyleID != "AB2" {
		t.Errorf("StyleID = %q, want AB2", got.StyleID)
	}
}

func TestMemoryStore_FindOne_notFound(t *testing.T) {
	store := seededStore(t)
	_, err := store.FindOne(context.Background(), idPredicate("missing"))
	assertCode(t, err, model.ErrNotFound)
}

func TestMemoryStore_FindMany(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters filter.Filters
		opts    FindOptions
		want    []string
	}{
		{"all, default order newest first", nil, FindOptions{}, []string{"wf-3", "wf-2", "wf-1"}},
		{"status list", filter.Filters{"status": []string{"ASSIGNED_TO_WRITER"}}, FindOptions{}, []string{"wf-3", "wf-2"}},
		{"brand contains insensitive", filter.Filters{"brand": "GLOB"}, FindOptions{}, []string{"wf-3"}},
		{"exclude id", filter.Filters{"excludeId": []string{"wf-3"}}, FindOptions{}, []string{"wf-2", "wf-1"}},
		{"global search writer", filter.Filters{"globalSearch": "W@X"}, FindOptions{}, []string{"wf-2"}},
		{"skip and take", nil, FindOptions{Skip: 1, Take: 1}, []string{"wf-2"}},
		{"skip past end", nil, FindOptions{Skip: 5}, []string{}},
		{"order by style asc", nil, FindOptions{OrderBy: []Sort{{Field: "styleId"}}}, []string{"wf-1", "wf-2", "wf-3"}},
		{"writer nulls last", nil, FindOptions{OrderBy: []Sort{{Field: "writer", Desc: true}}}, []string{"wf-2", "wf-3", "wf-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := filter.Build(tt.filters, time.UTC)
			if err != nil {
				t.Fatalf("Build error: %v", err)
			}
			got, err := store.FindMany(ctx, pred, tt.opts)
			if err != nil {
				t.Fatalf("FindMany error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, wf := range got {
				if wf.ID != tt.want[i] {
					t.Errorf("[%d] = %s, want %s", i, wf.ID, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStore_Count(t *testing.T) {
	store := seededStore(t)
	n, err := store.Count(context.Background(), filter.Predicate{"status": {In: []string{"ASSIGNED_TO_WRITER"}}})
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

// --- Update ---

func TestMemoryStore_Update(t *testing.T) {
	store := seededStore(t)
	got, err := store.Update(context.Background(), "wf-1", model.WorkflowUpdate{
		Status: model.StatusPtr(model.StatusAssignedToWriter),
		Writer: model.StringPtr("new@x.com"),
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got.Status != model.StatusAssignedToWriter {
		t.Errorf("Status = %s", got.Status)
	}
	if got.Writer == nil || *got.Writer != "new@x.com" {
		t.Errorf("Writer = %v", got.Writer)
	}
	if got.Brand != "acme" {
		t.Errorf("Brand = %q, untouched field changed", got.Brand)
	}
}

func TestMemoryStore_Update_notFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Update(context.Background(), "missing", model.WorkflowUpdate{})
	assertCode(t, err, model.ErrNotFound)
}

func TestMemoryStore_UpdateMany(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	n, err := store.UpdateMany(ctx, filter.Predicate{"status": {In: []string{"ASSIGNED_TO_WRITER"}}},
		model.WorkflowUpdate{Writer: model.StringPtr("bulk@x.com")})
	if err != nil {
		t.Fatalf("UpdateMany error: %v", err)
	}
	if n != 2 {
		t.Errorf("updated = %d, want 2", n)
	}

	wf, _ := store.FindOne(ctx, idPredicate("wf-3"))
	if wf.Writer == nil || *wf.Writer != "bulk@x.com" {
		t.Errorf("wf-3 writer = %v", wf.Writer)
	}
	wf, _ = store.FindOne(ctx, idPredicate("wf-1"))
	if wf.Writer != nil {
		t.Errorf("wf-1 writer = %v, want untouched", *wf.Writer)
	}
}

// --- Delete ---

func TestMemoryStore_Delete_cascadesEntries(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	if err := store.AppendEntry(ctx, model.WorkflowAuditEntry{ID: "e-1", WorkflowID: "wf-1", CreateTs: baseTime}); err != nil {
		t.Fatalf("AppendEntry error: %v", err)
	}
	if err := store.Delete(ctx, "wf-1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
	n, _ := store.CountEntries(ctx, "wf-1")
	if n != 0 {
		t.Errorf("CountEntries = %d, want 0 after delete", n)
	}

	assertCode(t, store.Delete(ctx, "wf-1"), model.ErrNotFound)
}

// --- Distinct ---

func TestMemoryStore_Distinct(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	got, err := store.Distinct(ctx, filter.Predicate{}, "writer")
	if err != nil {
		t.Fatalf("Distinct error: %v", err)
	}
	if len(got) != 2 || got[0] != "other@x.com" || got[1] != "w@x.com" {
		t.Errorf("Distinct(writer) = %v", got)
	}

	got, _ = store.Distinct(ctx, filter.Predicate{}, "brand")
	if len(got) != 2 || got[0] != "acme" || got[1] != "globex" {
		t.Errorf("Distinct(brand) = %v", got)
	}

	_, err = store.Distinct(ctx, filter.Predicate{}, "lastUpdateTs")
	assertCode(t, err, model.ErrInvalidArgument)
}

// --- Audit entries ---

func TestMemoryStore_Entries(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	for i, id := range []string{"e-1", "e-2", "e-3"} {
		err := store.AppendEntry(ctx, model.WorkflowAuditEntry{
			ID:         id,
			WorkflowID: "wf-2",
			AuditType:  model.AuditTypeAssignments,
			CreateTs:   baseTime.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendEntry error: %v", err)
		}
	}

	list, err := store.ListEntries(ctx, "wf-2", 0, 2)
	if err != nil {
		t.Fatalf("ListEntries error: %v", err)
	}
	if len(list) != 2 || list[0].ID != "e-3" || list[1].ID != "e-2" {
		t.Errorf("ListEntries page 1 = %v", list)
	}
	list, _ = store.ListEntries(ctx, "wf-2", 2, 2)
	if len(list) != 1 || list[0].ID != "e-1" {
		t.Errorf("ListEntries page 2 = %v", list)
	}

	n, _ := store.CountEntries(ctx, "wf-2")
	if n != 3 {
		t.Errorf("CountEntries = %d, want 3", n)
	}

	got, err := store.GetEntry(ctx, "wf-2", "e-2")
	if err != nil {
		t.Fatalf("GetEntry error: %v", err)
	}
	if got.AuditType != model.AuditTypeAssignments {
		t.Errorf("AuditType = %s", got.AuditType)
	}

	_, err = store.GetEntry(ctx, "wf-1", "e-2")
	assertCode(t, err, model.ErrNotFound)
}

func TestMemoryStore_AppendEntry_unknownWorkflow(t *testing.T) {
	store := NewMemoryStore()
	err := store.AppendEntry(context.Background(), model.WorkflowAuditEntry{ID: "e-1", WorkflowID: "missing"})
	assertCode(t, err, model.ErrNotFound)
}
