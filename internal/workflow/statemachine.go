package workflow

import (
	"fmt"
	"time"

	"github.com/pitabwire/copydesk/model"
)

// Transition failure reasons, reported as the code of the error's single
// field detail.
const (
	ReasonEditorNotAllowed       = "EDITOR_NOT_ALLOWED"
	ReasonWriterNotAllowed       = "WRITER_NOT_ALLOWED"
	ReasonWriterRequired         = "WRITER_REQUIRED"
	ReasonWriterOrEditorRequired = "WRITER_OR_EDITOR_REQUIRED"
	ReasonAmbiguousAssignment    = "AMBIGUOUS_ASSIGNMENT"
)

// Transition computes the partial update that moves current forward given the
// proposed writer, editor and publication flag. It performs no I/O; now is
// the timestamp recorded on completion transitions.
//
// A workflow whose status is not one of the seven pipeline statuses yields an
// empty update. Callers decide how to surface that.
func Transition(current model.Workflow, proposed model.Proposal, now time.Time) (model.WorkflowUpdate, error) {
	hasWriter := proposed.Writer != ""
	hasEditor := proposed.Editor != ""
	status := current.Status

	switch status {
	case model.StatusWaitingForWriter:
		if hasEditor {
			return model.WorkflowUpdate{}, editorNotAllowed(status)
		}
		if !hasWriter {
			return model.WorkflowUpdate{}, model.NewInvalidTransitionError("writer", ReasonWriterRequired,
				fmt.Sprintf("A writer is required when status is %s", status))
		}
		return assignWriter(model.StatusAssignedToWriter, proposed.Writer), nil

	case model.StatusAssignedToWriter:
		if hasEditor {
			return model.WorkflowUpdate{}, editorNotAllowed(status)
		}
		if hasWriter {
			return assignWriter("", proposed.Writer), nil
		}
		return model.WorkflowUpdate{Status: model.StatusPtr(model.StatusWritingInProgress)}, nil

	case model.StatusWritingInProgress:
		if hasEditor {
			return model.WorkflowUpdate{}, editorNotAllowed(status)
		}
		if proposed.IsPublished {
			return model.WorkflowUpdate{
				Status:              model.StatusPtr(model.StatusWritingComplete),
				IsPublished:         model.BoolPtr(true),
				LastWriteCompleteTs: model.TimePtr(now),
			}, nil
		}
		if hasWriter {
			return assignWriter("", proposed.Writer), nil
		}
		return model.WorkflowUpdate{}, nil

	case model.StatusWritingComplete, model.StatusEditingComplete:
		if hasWriter && hasEditor {
			return model.WorkflowUpdate{}, model.NewInvalidTransitionError("writer", ReasonAmbiguousAssignment,
				"Either writer or editor should only be provided")
		}
		if hasWriter {
			return assignWriter(model.StatusAssignedToWriter, proposed.Writer), nil
		}
		if hasEditor {
			return assignEditor(model.StatusAssignedToEditor, proposed.Editor), nil
		}
		return model.WorkflowUpdate{}, model.NewInvalidTransitionError("writer", ReasonWriterOrEditorRequired,
			fmt.Sprintf("A writer or an editor is required when status is %s", status))

	case model.StatusAssignedToEditor:
		if hasWriter {
			return model.WorkflowUpdate{}, writerNotAllowed(status)
		}
		if proposed.IsPublished {
			return completeEditing(now), nil
		}
		if hasEditor {
			return assignEditor("", proposed.Editor), nil
		}
		return model.WorkflowUpdate{Status: model.StatusPtr(model.StatusEditingInProgress)}, nil

	case model.StatusEditingInProgress:
		if hasWriter {
			return model.WorkflowUpdate{}, writerNotAllowed(status)
		}
		if proposed.IsPublished {
			return completeEditing(now), nil
		}
		if hasEditor {
			return assignEditor("", proposed.Editor), nil
		}
		return model.WorkflowUpdate{}, nil

	default:
		return unknownStatus(status), nil
	}
}

// unknownStatus is the arm for records holding a status outside the
// pipeline. Nothing is changed.
func unknownStatus(model.Status) model.WorkflowUpdate {
	return model.WorkflowUpdate{}
}

// assignWriter sets writer and assignee, and moves to next when next is set.
func assignWriter(next model.Status, writer string) model.WorkflowUpdate {
	u := model.WorkflowUpdate{
		Writer:   model.StringPtr(writer),
		Assignee: model.StringPtr(writer),
	}
	if next != "" {
		u.Status = model.StatusPtr(next)
	}
	return u
}

// assignEditor sets editor and assignee, and moves to next when next is set.
func assignEditor(next model.Status, editor string) model.WorkflowUpdate {
	u := model.WorkflowUpdate{
		Editor:   model.StringPtr(editor),
		Assignee: model.StringPtr(editor),
	}
	if next != "" {
		u.Status = model.StatusPtr(next)
	}
	return u
}

func completeEditing(now time.Time) model.WorkflowUpdate {
	return model.WorkflowUpdate{
		Status:             model.StatusPtr(model.StatusEditingComplete),
		IsPublished:        model.BoolPtr(true),
		LastEditCompleteTs: model.TimePtr(now),
	}
}

func editorNotAllowed(status model.Status) *model.ErrorEnvelope {
	return model.NewInvalidTransitionError("editor", ReasonEditorNotAllowed,
		fmt.Sprintf("An editor is not allowed when status is %s", status))
}

func writerNotAllowed(status model.Status) *model.ErrorEnvelope {
	return model.NewInvalidTransitionError("writer", ReasonWriterNotAllowed,
		fmt.Sprintf("A writer is not allowed when status is %s", status))
}
