package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/copydesk/model"
)

var transitionNow = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func wfAt(status model.Status) model.Workflow {
	return model.Workflow{ID: "wf-1", StyleID: "AB12", Status: status}
}

func TestTransition_table(t *testing.T) {
	const w = "w@x.com"
	const e = "e@x.com"

	tests := []struct {
		name     string
		status   model.Status
		proposed model.Proposal
		want     model.WorkflowUpdate
	}{
		// WAITING_FOR_WRITER
		{
			name:     "waiting for writer, writer assigned",
			status:   model.StatusWaitingForWriter,
			proposed: model.Proposal{Writer: w},
			want: model.WorkflowUpdate{
				Status:   model.StatusPtr(model.StatusAssignedToWriter),
				Writer:   model.StringPtr(w),
				Assignee: model.StringPtr(w),
			},
		},
		// ASSIGNED_TO_WRITER
		{
			name:     "assigned to writer, writer reassigned",
			status:   model.StatusAssignedToWriter,
			proposed: model.Proposal{Writer: w},
			want:     model.WorkflowUpdate{Writer: model.StringPtr(w), Assignee: model.StringPtr(w)},
		},
		{
			name:   "assigned to writer, nothing starts writing",
			status: model.StatusAssignedToWriter,
			want:   model.WorkflowUpdate{Status: model.StatusPtr(model.StatusWritingInProgress)},
		},
		// WRITING_IN_PROGRESS
		{
			name:     "writing, writer reassigned",
			status:   model.StatusWritingInProgress,
			proposed: model.Proposal{Writer: w},
			want:     model.WorkflowUpdate{Writer: model.StringPtr(w), Assignee: model.StringPtr(w)},
		},
		{
			name:   "writing, nothing is a no-op",
			status: model.StatusWritingInProgress,
			want:   model.WorkflowUpdate{},
		},
		{
			name:     "writing, published completes writing",
			status:   model.StatusWritingInProgress,
			proposed: model.Proposal{IsPublished: true},
			want: model.WorkflowUpdate{
				Status:              model.StatusPtr(model.StatusWritingComplete),
				IsPublished:         model.BoolPtr(true),
				LastWriteCompleteTs: model.TimePtr(transitionNow),
			},
		},
		{
			name:     "writing, publish takes priority over writer",
			status:   model.StatusWritingInProgress,
			proposed: model.Proposal{Writer: w, IsPublished: true},
			want: model.WorkflowUpdate{
				Status:              model.StatusPtr(model.StatusWritingComplete),
				IsPublished:         model.BoolPtr(true),
				LastWriteCompleteTs: model.TimePtr(transitionNow),
			},
		},
		// WRITING_COMPLETE
		{
			name:     "writing complete, writer re-enters writing",
			status:   model.StatusWritingComplete,
			proposed: model.Proposal{Writer: w},
			want: model.WorkflowUpdate{
				Status:   model.StatusPtr(model.StatusAssignedToWriter),
				Writer:   model.StringPtr(w),
				Assignee: model.StringPtr(w),
			},
		},
		{
			name:     "writing complete, editor assigned",
			status:   model.StatusWritingComplete,
			proposed: model.Proposal{Editor: e},
			want: model.WorkflowUpdate{
				Status:   model.StatusPtr(model.StatusAssignedToEditor),
				Editor:   model.StringPtr(e),
				Assignee: model.StringPtr(e),
			},
		},
		// ASSIGNED_TO_EDITOR
		{
			name:     "assigned to editor, editor reassigned",
			status:   model.StatusAssignedToEditor,
			proposed: model.Proposal{Editor: e},
			want:     model.WorkflowUpdate{Editor: model.StringPtr(e), Assignee: model.StringPtr(e)},
		},
		{
			name:   "assigned to editor, nothing starts editing",
			status: model.StatusAssignedToEditor,
			want:   model.WorkflowUpdate{Status: model.StatusPtr(model.StatusEditingInProgress)},
		},
		{
			name:     "assigned to editor, published completes editing",
			status:   model.StatusAssignedToEditor,
			proposed: model.Proposal{IsPublished: true},
			want: model.WorkflowUpdate{
				Status:             model.StatusPtr(model.StatusEditingComplete),
				IsPublished:        model.BoolPtr(true),
				LastEditCompleteTs: model.TimePtr(transitionNow),
			},
		},
		{
			name:     "assigned to editor, publish takes priority over editor",
			status:   model.StatusAssignedToEditor,
			proposed: model.Proposal{Editor: e, IsPublished: true},
			want: model.WorkflowUpdate{
				Status:             model.StatusPtr(model.StatusEditingComplete),
				IsPublished:        model.BoolPtr(true),
				LastEditCompleteTs: model.TimePtr(transitionNow),
			},
		},
		// EDITING_IN_PROGRESS
		{
			name:     "editing, editor reassigned",
			status:   model.StatusEditingInProgress,
			proposed: model.Proposal{Editor: e},
			want:     model.WorkflowUpdate{Editor: model.StringPtr(e), Assignee: model.StringPtr(e)},
		},
		{
			name:   "editing, nothing is a no-op",
			status: model.StatusEditingInProgress,
			want:   model.WorkflowUpdate{},
		},
		{
			name:     "editing, published completes editing",
			status:   model.StatusEditingInProgress,
			proposed: model.Proposal{IsPublished: true},
			want: model.WorkflowUpdate{
				Status:             model.StatusPtr(model.StatusEditingComplete),
				IsPublished:        model.BoolPtr(true),
				LastEditCompleteTs: model.TimePtr(transitionNow),
			},
		},
		// EDITING_COMPLETE
		{
			name:     "editing complete, writer re-enters writing",
			status:   model.StatusEditingComplete,
			proposed: model.Proposal{Writer: w},
			want: model.WorkflowUpdate{
				Status:   model.StatusPtr(model.StatusAssignedToWriter),
				Writer:   model.StringPtr(w),
				Assignee: model.StringPtr(w),
			},
		},
		{
			name:     "editing complete, editor re-enters editing",
			status:   model.StatusEditingComplete,
			proposed: model.Proposal{Editor: e},
			want: model.WorkflowUpdate{
				Status:   model.StatusPtr(model.StatusAssignedToEditor),
				Editor:   model.StringPtr(e),
				Assignee: model.StringPtr(e),
			},
		},
		// Unknown
		{
			name:     "unknown status with writer",
			status:   "HELLO_WORLD",
			proposed: model.Proposal{Writer: w},
			want:     model.WorkflowUpdate{},
		},
		{
			name:     "unknown status with publish",
			status:   "HELLO_WORLD",
			proposed: model.Proposal{IsPublished: true, Editor: e},
			want:     model.WorkflowUpdate{},
		},
		{
			name:   "empty status",
			status: "",
			want:   model.WorkflowUpdate{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(wfAt(tt.status), tt.proposed, transitionNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_failures(t *testing.T) {
	const w = "w@x.com"
	const e = "e@x.com"

	tests := []struct {
		name       string
		status     model.Status
		proposed   model.Proposal
		wantField  string
		wantReason string
	}{
		{"waiting, editor", model.StatusWaitingForWriter, model.Proposal{Editor: e}, "editor", ReasonEditorNotAllowed},
		{"waiting, editor with writer", model.StatusWaitingForWriter, model.Proposal{Writer: w, Editor: e}, "editor", ReasonEditorNotAllowed},
		{"waiting, nothing", model.StatusWaitingForWriter, model.Proposal{}, "writer", ReasonWriterRequired},
		{"waiting, only publish", model.StatusWaitingForWriter, model.Proposal{IsPublished: true}, "writer", ReasonWriterRequired},
		{"assigned to writer, editor", model.StatusAssignedToWriter, model.Proposal{Editor: e}, "editor", ReasonEditorNotAllowed},
		{"writing, editor", model.StatusWritingInProgress, model.Proposal{Editor: e}, "editor", ReasonEditorNotAllowed},
		{"writing, editor with publish", model.StatusWritingInProgress, model.Proposal{Editor: e, IsPublished: true}, "editor", ReasonEditorNotAllowed},
		{"writing complete, nothing", model.StatusWritingComplete, model.Proposal{}, "writer", ReasonWriterOrEditorRequired},
		{"writing complete, both", model.StatusWritingComplete, model.Proposal{Writer: w, Editor: e}, "writer", ReasonAmbiguousAssignment},
		{"assigned to editor, writer", model.StatusAssignedToEditor, model.Proposal{Writer: w}, "writer", ReasonWriterNotAllowed},
		{"assigned to editor, writer with publish", model.StatusAssignedToEditor, model.Proposal{Writer: w, IsPublished: true}, "writer", ReasonWriterNotAllowed},
		{"editing, writer", model.StatusEditingInProgress, model.Proposal{Writer: w}, "writer", ReasonWriterNotAllowed},
		{"editing complete, nothing", model.StatusEditingComplete, model.Proposal{}, "writer", ReasonWriterOrEditorRequired},
		{"editing complete, both", model.StatusEditingComplete, model.Proposal{Writer: w, Editor: e}, "writer", ReasonAmbiguousAssignment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(wfAt(tt.status), tt.proposed, transitionNow)
			require.Error(t, err)
			assert.True(t, got.IsEmpty(), "failed transition must not return an update")

			var env *model.ErrorEnvelope
			require.ErrorAs(t, err, &env)
			assert.Equal(t, model.ErrInvalidTransition, env.Code)
			assert.Equal(t, tt.wantReason, env.Reason())
			require.Len(t, env.Details, 1)
			assert.Equal(t, tt.wantField, env.Details[0].Field)
		})
	}
}

func TestTransition_ambiguousMessage(t *testing.T) {
	_, err := Transition(wfAt(model.StatusEditingComplete), model.Proposal{Writer: "a", Editor: "b"}, transitionNow)
	require.Error(t, err)

	var env *model.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	assert.Equal(t, "Either writer or editor should only be provided", env.Message)
}

func TestTransition_disallowedRoleMessageNamesRole(t *testing.T) {
	_, err := Transition(wfAt(model.StatusAssignedToEditor), model.Proposal{Writer: "a"}, transitionNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writer is not allowed")

	_, err = Transition(wfAt(model.StatusWaitingForWriter), model.Proposal{Editor: "b"}, transitionNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "editor is not allowed")
}

func TestTransition_doesNotMutateInput(t *testing.T) {
	current := wfAt(model.StatusWaitingForWriter)
	_, err := Transition(current, model.Proposal{Writer: "w@x.com"}, transitionNow)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingForWriter, current.Status)
	assert.Nil(t, current.Writer)
}

func TestTransition_assigneeInvariant(t *testing.T) {
	// Walk the full pipeline and check that assignee tracks the active role.
	wf := wfAt(model.StatusWaitingForWriter)
	steps := []struct {
		proposed     model.Proposal
		wantStatus   model.Status
		wantAssignee string
	}{
		{model.Proposal{Writer: "w@x.com"}, model.StatusAssignedToWriter, "w@x.com"},
		{model.Proposal{}, model.StatusWritingInProgress, "w@x.com"},
		{model.Proposal{IsPublished: true}, model.StatusWritingComplete, "w@x.com"},
		{model.Proposal{Editor: "e@x.com"}, model.StatusAssignedToEditor, "e@x.com"},
		{model.Proposal{}, model.StatusEditingInProgress, "e@x.com"},
		{model.Proposal{IsPublished: true}, model.StatusEditingComplete, "e@x.com"},
		{model.Proposal{Writer: "w2@x.com"}, model.StatusAssignedToWriter, "w2@x.com"},
	}

	for i, step := range steps {
		u, err := Transition(wf, step.proposed, transitionNow)
		require.NoError(t, err, "step %d", i)
		wf = wf.Apply(u)
		assert.Equal(t, step.wantStatus, wf.Status, "step %d", i)
		require.NotNil(t, wf.Assignee, "step %d", i)
		assert.Equal(t, step.wantAssignee, *wf.Assignee, "step %d", i)
	}
}
