package model

import "time"

// Status is the editorial stage of a workflow.
type Status string

// Workflow status constants, in pipeline order.
const (
	StatusWaitingForWriter  Status = "WAITING_FOR_WRITER"
	StatusAssignedToWriter  Status = "ASSIGNED_TO_WRITER"
	StatusWritingInProgress Status = "WRITING_IN_PROGRESS"
	StatusWritingComplete   Status = "WRITING_COMPLETE"
	StatusAssignedToEditor  Status = "ASSIGNED_TO_EDITOR"
	StatusEditingInProgress Status = "EDITING_IN_PROGRESS"
	StatusEditingComplete   Status = "EDITING_COMPLETE"
)

// Statuses lists every known status in pipeline order.
var Statuses = []Status{
	StatusWaitingForWriter,
	StatusAssignedToWriter,
	StatusWritingInProgress,
	StatusWritingComplete,
	StatusAssignedToEditor,
	StatusEditingInProgress,
	StatusEditingComplete,
}

// Known reports whether s is one of the seven pipeline statuses. Records
// loaded from storage may carry any string.
func (s Status) Known() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// CreateProcess records how a workflow entered the pipeline.
type CreateProcess string

const (
	CreateProcessTopic           CreateProcess = "TOPIC"
	CreateProcessWriterInterface CreateProcess = "WRITER_INTERFACE"
)

// Workflow is the editorial record for one style.
type Workflow struct {
	ID                  string        `json:"id"`
	StyleID             string        `json:"styleId"`
	Brand               string        `json:"brand"`
	Title               string        `json:"title"`
	Status              Status        `json:"status"`
	Writer              *string       `json:"writer"`
	Editor              *string       `json:"editor"`
	Assignee            *string       `json:"assignee"`
	Admin               string        `json:"admin"`
	CreateProcess       CreateProcess `json:"createProcess"`
	IsPublished         bool          `json:"isPublished"`
	IsQuickFix          bool          `json:"isQuickFix"`
	LastUpdateTs        time.Time     `json:"lastUpdateTs"`
	LastUpdatedBy       string        `json:"lastUpdatedBy"`
	LastWriteCompleteTs *time.Time    `json:"lastWriteCompleteTs"`
	LastEditCompleteTs  *time.Time    `json:"lastEditCompleteTs"`
	CreateTs            time.Time     `json:"createTs"`
}

// WorkflowUpdate is a partial update. Nil fields are left untouched.
type WorkflowUpdate struct {
	Status              *Status    `json:"status,omitempty"`
	Writer              *string    `json:"writer,omitempty"`
	Editor              *string    `json:"editor,omitempty"`
	Assignee            *string    `json:"assignee,omitempty"`
	Admin               *string    `json:"admin,omitempty"`
	Brand               *string    `json:"brand,omitempty"`
	Title               *string    `json:"title,omitempty"`
	IsPublished         *bool      `json:"isPublished,omitempty"`
	IsQuickFix          *bool      `json:"isQuickFix,omitempty"`
	LastUpdateTs        *time.Time `json:"lastUpdateTs,omitempty"`
	LastUpdatedBy       *string    `json:"lastUpdatedBy,omitempty"`
	LastWriteCompleteTs *time.Time `json:"lastWriteCompleteTs,omitempty"`
	LastEditCompleteTs  *time.Time `json:"lastEditCompleteTs,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u WorkflowUpdate) IsEmpty() bool {
	return u == WorkflowUpdate{}
}

// Merge returns u with every non-nil field of other laid over it.
func (u WorkflowUpdate) Merge(other WorkflowUpdate) WorkflowUpdate {
	if other.Status != nil {
		u.Status = other.Status
	}
	if other.Writer != nil {
		u.Writer = other.Writer
	}
	if other.Editor != nil {
		u.Editor = other.Editor
	}
	if other.Assignee != nil {
		u.Assignee = other.Assignee
	}
	if other.Admin != nil {
		u.Admin = other.Admin
	}
	if other.Brand != nil {
		u.Brand = other.Brand
	}
	if other.Title != nil {
		u.Title = other.Title
	}
	if other.IsPublished != nil {
		u.IsPublished = other.IsPublished
	}
	if other.IsQuickFix != nil {
		u.IsQuickFix = other.IsQuickFix
	}
	if other.LastUpdateTs != nil {
		u.LastUpdateTs = other.LastUpdateTs
	}
	if other.LastUpdatedBy != nil {
		u.LastUpdatedBy = other.LastUpdatedBy
	}
	if other.LastWriteCompleteTs != nil {
		u.LastWriteCompleteTs = other.LastWriteCompleteTs
	}
	if other.LastEditCompleteTs != nil {
		u.LastEditCompleteTs = other.LastEditCompleteTs
	}
	return u
}

// Apply returns a copy of w with the non-nil fields of u applied.
func (w Workflow) Apply(u WorkflowUpdate) Workflow {
	if u.Status != nil {
		w.Status = *u.Status
	}
	if u.Writer != nil {
		w.Writer = cloneString(u.Writer)
	}
	if u.Editor != nil {
		w.Editor = cloneString(u.Editor)
	}
	if u.Assignee != nil {
		w.Assignee = cloneString(u.Assignee)
	}
	if u.Admin != nil {
		w.Admin = *u.Admin
	}
	if u.Brand != nil {
		w.Brand = *u.Brand
	}
	if u.Title != nil {
		w.Title = *u.Title
	}
	if u.IsPublished != nil {
		w.IsPublished = *u.IsPublished
	}
	if u.IsQuickFix != nil {
		w.IsQuickFix = *u.IsQuickFix
	}
	if u.LastUpdateTs != nil {
		w.LastUpdateTs = *u.LastUpdateTs
	}
	if u.LastUpdatedBy != nil {
		w.LastUpdatedBy = *u.LastUpdatedBy
	}
	if u.LastWriteCompleteTs != nil {
		t := *u.LastWriteCompleteTs
		w.LastWriteCompleteTs = &t
	}
	if u.LastEditCompleteTs != nil {
		t := *u.LastEditCompleteTs
		w.LastEditCompleteTs = &t
	}
	return w
}

// Proposal is the role and publication input the state machine decides on.
// An empty Writer or Editor means the role was not provided.
type Proposal struct {
	Writer      string `json:"writer,omitempty"`
	Editor      string `json:"editor,omitempty"`
	IsPublished bool   `json:"isPublished,omitempty"`
}

// WorkflowPatch is the client-supplied body of an update request.
type WorkflowPatch struct {
	Writer      *string `json:"writer,omitempty"`
	Editor      *string `json:"editor,omitempty"`
	IsPublished *bool   `json:"isPublished,omitempty"`
	IsQuickFix  *bool   `json:"isQuickFix,omitempty"`
	Title       *string `json:"title,omitempty"`
	Brand       *string `json:"brand,omitempty"`
	Admin       *string `json:"admin,omitempty"`
}

// Proposal extracts the state machine input from the patch.
func (p WorkflowPatch) Proposal() Proposal {
	var prop Proposal
	if p.Writer != nil {
		prop.Writer = *p.Writer
	}
	if p.Editor != nil {
		prop.Editor = *p.Editor
	}
	if p.IsPublished != nil {
		prop.IsPublished = *p.IsPublished
	}
	return prop
}

// Pagination summarizes one page of a list result.
type Pagination struct {
	Total            int `json:"total"`
	PageCount        int `json:"pageCount"`
	CurrentPage      int `json:"currentPage"`
	CurrentPageCount int `json:"currentPageCount"`
}

// NewPagination computes the summary for a page of size limit holding
// count items out of total.
func NewPagination(total, page, limit, count int) Pagination {
	pageCount := 0
	if limit > 0 {
		pageCount = (total + limit - 1) / limit
	}
	return Pagination{
		Total:            total,
		PageCount:        pageCount,
		CurrentPage:      page,
		CurrentPageCount: count,
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }

// StatusPtr returns a pointer to s.
func StatusPtr(s Status) *Status { return &s }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StyleAttributes are the catalog details of a style used to fill brand and
// title on create.
type StyleAttributes struct {
	StyleID string `json:"styleId"`
	Brand   string `json:"brand"`
	Title   string `json:"title"`
}
