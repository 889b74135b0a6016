package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/copydesk/internal/filter"
	"github.com/pitabwire/copydesk/internal/openapi"
	"github.com/pitabwire/copydesk/internal/workflow"
	"github.com/pitabwire/copydesk/model"
)

// WorkflowService is the workflow engine as seen by the handlers.
type WorkflowService interface {
	Search(ctx context.Context, q workflow.SearchQuery) (workflow.SearchResult, error)
	Distinct(ctx context.Context, filters filter.Filters, field string) ([]string, error)
	Get(ctx context.Context, id string) (model.Workflow, error)
	Create(ctx context.Context, req workflow.CreateRequest, actor string) (model.Workflow, error)
	CreateMany(ctx context.Context, reqs []workflow.CreateRequest, actor string) []workflow.CreateResult
	Update(ctx context.Context, id string, patch model.WorkflowPatch, actor string) (model.Workflow, error)
	BulkAssign(ctx context.Context, filters filter.Filters, a workflow.Assignments, actor string) (workflow.BulkAssignResult, error)
	Delete(ctx context.Context, id string) error
	Counts(ctx context.Context, filters filter.Filters) (workflow.StatusCounts, error)
	History(ctx context.Context, id string, page, limit int) (workflow.HistoryResult, error)
	HistoryEntry(ctx context.Context, id, entryID string) (model.WorkflowAuditEntry, error)
}

type createBody struct {
	workflow.CreateRequest
	Styles []workflow.CreateRequest `json:"styles"`
}

type sortSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type searchBody struct {
	Filters filter.Filters `json:"filters"`
	Sort    []sortSpec     `json:"sort"`
}

type bulkAssignBody struct {
	Filters     filter.Filters       `json:"filters"`
	Assignments workflow.Assignments `json:"assignments"`
}

type batchCreateResponse struct {
	Data []workflow.CreateResult `json:"data"`
}

type distinctResponse struct {
	Data []string `json:"data"`
}

func handleCreateWorkflows(engine WorkflowService, schema *openapi.Index, replay *replayer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readValidated(w, r, schema, "createWorkflows")
		if !ok {
			return
		}
		var body createBody
		if err := json.Unmarshal(raw, &body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.StyleID != "" && len(body.Styles) > 0 {
			WriteValidationError(w, r, []model.FieldError{{
				Field:   "styles",
				Code:    "EITHER_STYLE_OR_STYLES",
				Message: "Provide either styleId or styles, not both",
			}})
			return
		}

		actor := model.MustRequestContext(r.Context()).Actor()
		replay.do(w, r, "create", raw, func() (int, any, error) {
			if len(body.Styles) == 0 {
				wf, err := engine.Create(r.Context(), body.CreateRequest, actor)
				return http.StatusCreated, wf, err
			}

			results := engine.CreateMany(r.Context(), body.Styles, actor)
			status := http.StatusCreated
			for _, res := range results {
				if res.Error != nil {
					status = http.StatusMultiStatus
					break
				}
			}
			return status, batchCreateResponse{Data: results}, nil
		})
	}
}

func handleSearchWorkflows(engine WorkflowService, schema *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if errs := schema.ValidateQuery("searchWorkflows", r.URL.Query()); len(errs) > 0 {
			WriteValidationError(w, r, errs)
			return
		}
		raw, ok := readValidated(w, r, schema, "searchWorkflows")
		if !ok {
			return
		}
		var body searchBody
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
				return
			}
		}

		if field := r.URL.Query().Get("unique"); field != "" {
			values, err := engine.Distinct(r.Context(), body.Filters, field)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			WriteJSON(w, http.StatusOK, distinctResponse{Data: values})
			return
		}

		sorts := make([]workflow.Sort, 0, len(body.Sort))
		for _, s := range body.Sort {
			sorts = append(sorts, workflow.Sort{Field: s.Field, Desc: s.Direction == "desc"})
		}

		res, err := engine.Search(r.Context(), workflow.SearchQuery{
			Filters: body.Filters,
			Sort:    sorts,
			Page:    queryInt(r, "page"),
			Limit:   queryInt(r, "limit"),
		})
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleBulkAssign(engine WorkflowService, schema *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readValidated(w, r, schema, "bulkAssign")
		if !ok {
			return
		}
		var body bulkAssignBody
		if err := json.Unmarshal(raw, &body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		actor := model.MustRequestContext(r.Context()).Actor()
		res, err := engine.BulkAssign(r.Context(), body.Filters, body.Assignments, actor)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleUpdateWorkflow(engine WorkflowService, schema *openapi.Index, replay *replayer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		raw, ok := readValidated(w, r, schema, "updateWorkflow")
		if !ok {
			return
		}
		var patch model.WorkflowPatch
		if err := json.Unmarshal(raw, &patch); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		actor := model.MustRequestContext(r.Context()).Actor()
		replay.do(w, r, "update", raw, func() (int, any, error) {
			wf, err := engine.Update(r.Context(), id, patch, actor)
			return http.StatusOK, wf, err
		})
	}
}

func handleGetWorkflow(engine WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := engine.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleDeleteWorkflow(engine WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := engine.Delete(r.Context(), id); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
	}
}

func handleCountWorkflows(engine WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := filter.Filters{}
		if assignee := r.URL.Query().Get("assignee"); assignee != "" {
			filters["assignee"] = assignee
		}
		res, err := engine.Counts(r.Context(), filters)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleListHistory(engine WorkflowService, schema *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if errs := schema.ValidateQuery("listHistory", r.URL.Query()); len(errs) > 0 {
			WriteValidationError(w, r, errs)
			return
		}
		res, err := engine.History(r.Context(), chi.URLParam(r, "id"), queryInt(r, "page"), queryInt(r, "limit"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleGetHistoryEntry(engine WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := engine.HistoryEntry(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "historyId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, entry)
	}
}

func handleOpenAPIDocument(schema *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(schema.Document())
	}
}

// readValidated reads the request body and checks it against the schema of
// operationID. On failure it writes the error response and returns false.
// An empty body is returned as nil.
func readValidated(w http.ResponseWriter, r *http.Request, schema *openapi.Index, operationID string) ([]byte, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r, model.NewBadRequestError("request body too large"))
			return nil, false
		}
		WriteError(w, r, model.NewBadRequestError("unable to read request body"))
		return nil, false
	}

	raw = bytes.TrimSpace(raw)
	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return nil, false
		}
	} else {
		raw = nil
	}

	if errs := schema.ValidateBody(operationID, decoded); len(errs) > 0 {
		WriteValidationError(w, r, errs)
		return nil, false
	}
	return raw, true
}

// queryInt returns the integer query parameter name, or 0 when absent.
func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
