package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/copydesk/internal/audit"
	"github.com/pitabwire/copydesk/internal/filter"
	"github.com/pitabwire/copydesk/internal/observability"
	"github.com/pitabwire/copydesk/model"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 500
	defaultFanOut    = 8
)

// auditIgnoreKeys are bookkeeping fields left out of change logs.
var auditIgnoreKeys = []string{"lastUpdateTs", "lastUpdatedBy", "createTs"}

// assignmentFields mark a change log as an assignment.
var assignmentFields = []string{"status", "writer", "editor", "assignee"}

// Engine orchestrates workflow reads and mutations: it loads records, runs
// the state machine, persists the result and records an audit entry for
// every change.
type Engine struct {
	store        WorkflowStore
	audits       AuditStore
	clock        Clock
	logger       *zap.Logger
	metrics      *observability.Metrics
	catalog      StyleCatalog
	loc          *time.Location
	fanOut       int
	defaultLimit int
	maxLimit     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithCatalog enables filling missing brand and title on create.
func WithCatalog(c StyleCatalog) Option { return func(e *Engine) { e.catalog = c } }

// WithLocation sets the timezone day filters are interpreted in.
func WithLocation(loc *time.Location) Option { return func(e *Engine) { e.loc = loc } }

// WithFanOut bounds the concurrency of batch operations.
func WithFanOut(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fanOut = n
		}
	}
}

// WithLimits sets the default and maximum page sizes.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(e *Engine) {
		if defaultLimit > 0 {
			e.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			e.maxLimit = maxLimit
		}
	}
}

// NewEngine creates a new workflow engine.
func NewEngine(store WorkflowStore, audits AuditStore, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		audits:       audits,
		clock:        SystemClock,
		logger:       zap.NewNop(),
		loc:          time.Local,
		fanOut:       defaultFanOut,
		defaultLimit: defaultPageLimit,
		maxLimit:     maxPageLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SearchQuery selects one page of workflows.
type SearchQuery struct {
	Filters filter.Filters
	Sort    []Sort
	Page    int
	Limit   int
}

// SearchResult is one page of workflows.
type SearchResult struct {
	Data       []model.Workflow `json:"data"`
	Pagination model.Pagination `json:"pagination"`
}

// CreateRequest describes a workflow to create. Brand and title may be left
// empty to be filled from the style catalog.
type CreateRequest struct {
	StyleID string `json:"styleId"`
	Brand   string `json:"brand,omitempty"`
	Title   string `json:"title,omitempty"`
}

// CreateResult is the outcome of one item of a batch create.
type CreateResult struct {
	StyleID  string               `json:"styleId"`
	Workflow *model.Workflow      `json:"workflow,omitempty"`
	Error    *model.ErrorEnvelope `json:"error,omitempty"`
}

// Assignments is the role applied by a bulk assignment. Exactly one of
// Writer and Editor must be set.
type Assignments struct {
	Writer string `json:"writer,omitempty"`
	Editor string `json:"editor,omitempty"`
}

// BulkAssignFailure reports a record a bulk assignment could not move.
type BulkAssignFailure struct {
	ID      string               `json:"id"`
	StyleID string               `json:"styleId"`
	Error   *model.ErrorEnvelope `json:"error"`
}

// BulkAssignResult summarizes a bulk assignment.
type BulkAssignResult struct {
	Selected int                 `json:"selected"`
	Updated  int                 `json:"updated"`
	Failures []BulkAssignFailure `json:"failures"`
}

// StatusCounts holds the number of matching workflows per status.
type StatusCounts struct {
	Total    int                  `json:"total"`
	ByStatus map[model.Status]int `json:"byStatus"`
}

// HistoryResult is one page of audit entries.
type HistoryResult struct {
	Data       []model.WorkflowAuditEntry `json:"data"`
	Pagination model.Pagination           `json:"pagination"`
}

// Search returns one page of workflows matching q.
func (e *Engine) Search(ctx context.Context, q SearchQuery) (res SearchResult, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.search")
	defer func(start time.Time) { e.finish(span, "search", start, err) }(time.Now())

	// 1. Build the predicate.
	pred, err := filter.Build(q.Filters, e.loc)
	if err != nil {
		return SearchResult{}, err
	}
	e.log(ctx).Debug("search predicate", zap.Any("predicate", pred))

	// 2. Validate ordering and paging.
	for _, s := range q.Sort {
		if !SortableFields[s.Field] {
			return SearchResult{}, model.NewInvalidArgumentError(fmt.Sprintf("cannot sort by %q", s.Field))
		}
	}
	page, limit, err := e.paging(q.Page, q.Limit)
	if err != nil {
		return SearchResult{}, err
	}

	// 3. Count and fetch concurrently.
	var total int
	var data []model.Workflow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = e.store.Count(gctx, pred)
		return err
	})
	g.Go(func() error {
		var err error
		data, err = e.store.FindMany(gctx, pred, FindOptions{
			Skip:    (page - 1) * limit,
			Take:    limit,
			OrderBy: q.Sort,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return SearchResult{}, e.storeError(ctx, "search", "", err)
	}

	return SearchResult{
		Data:       data,
		Pagination: model.NewPagination(total, page, limit, len(data)),
	}, nil
}

// Distinct returns the distinct values of field among the workflows
// matching filters.
func (e *Engine) Distinct(ctx context.Context, filters filter.Filters, field string) (values []string, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.distinct", attribute.String("copydesk.field", field))
	defer func(start time.Time) { e.finish(span, "distinct", start, err) }(time.Now())

	if !DistinctFields[field] {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("field %q does not support distinct values", field))
	}
	pred, err := filter.Build(filters, e.loc)
	if err != nil {
		return nil, err
	}
	values, err = e.store.Distinct(ctx, pred, field)
	if err != nil {
		return nil, e.storeError(ctx, "distinct", "", err)
	}
	return values, nil
}

// Get returns one workflow.
func (e *Engine) Get(ctx context.Context, id string) (wf model.Workflow, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.get", observability.AttrWorkflowID.String(id))
	defer func(start time.Time) { e.finish(span, "get", start, err) }(time.Now())

	return e.load(ctx, "get", id)
}

// Create registers a new workflow for a style.
func (e *Engine) Create(ctx context.Context, req CreateRequest, actor string) (wf model.Workflow, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.create")
	defer func(start time.Time) { e.finish(span, "create", start, err) }(time.Now())

	wf, err = e.create(ctx, req, actor)
	switch {
	case err == nil:
		e.metrics.RecordWorkflowCreate("created")
	case model.CodeOf(err) == model.ErrDuplicateStyle:
		e.metrics.RecordWorkflowCreate("duplicate")
	default:
		e.metrics.RecordWorkflowCreate("failed")
	}
	return wf, err
}

// CreateMany creates several workflows concurrently. Each item reports its
// own outcome; one failure does not stop the others.
func (e *Engine) CreateMany(ctx context.Context, reqs []CreateRequest, actor string) []CreateResult {
	ctx, span := observability.StartSpan(ctx, "workflow.create_many", observability.AttrBatchSize.Int(len(reqs)))
	defer span.End()

	results := make([]CreateResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(e.fanOut)
	for i, req := range reqs {
		g.Go(func() error {
			wf, err := e.Create(ctx, req, actor)
			results[i] = CreateResult{StyleID: normalizeStyleID(req.StyleID)}
			if err != nil {
				results[i].Error = envelopeOf(err)
				return nil
			}
			results[i].Workflow = &wf
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) create(ctx context.Context, req CreateRequest, actor string) (model.Workflow, error) {
	// 1. Normalize and validate.
	styleID := normalizeStyleID(req.StyleID)
	if styleID == "" {
		return model.Workflow{}, model.NewValidationError([]model.FieldError{{
			Field: "styleId", Code: "REQUIRED", Message: "styleId is required",
		}})
	}
	brand := strings.ToLower(strings.TrimSpace(req.Brand))
	title := strings.ToLower(strings.TrimSpace(req.Title))

	// 2. Fill missing attributes from the catalog.
	if (brand == "" || title == "") && e.catalog != nil {
		attrs, err := e.catalog.LookupStyle(ctx, styleID)
		if err != nil {
			e.log(ctx).Warn("style catalog lookup failed, creating without catalog attributes",
				zap.String("style_id", styleID), zap.Error(err))
		} else {
			if brand == "" {
				brand = strings.ToLower(attrs.Brand)
			}
			if title == "" {
				title = strings.ToLower(attrs.Title)
			}
		}
	}

	// 3. Build the record.
	now := e.clock.Now()
	wf := model.Workflow{
		ID:            uuid.New().String(),
		StyleID:       styleID,
		Brand:         brand,
		Title:         title,
		Status:        model.StatusWaitingForWriter,
		Admin:         actor,
		CreateProcess: model.CreateProcessWriterInterface,
		LastUpdateTs:  now,
		LastUpdatedBy: actor,
		CreateTs:      now,
	}

	// 4. Persist.
	if err := e.store.Create(ctx, wf); err != nil {
		return model.Workflow{}, e.storeError(ctx, "create", wf.ID, err)
	}

	// 5. Record the initial state.
	if err := e.recordChange(ctx, nil, wf, actor, now); err != nil {
		return model.Workflow{}, err
	}

	e.log(ctx).Info("workflow created",
		zap.String("workflow_id", wf.ID), zap.String("style_id", wf.StyleID))
	return wf, nil
}

// Update applies a client patch to one workflow: the state machine decides
// the status and role changes, the plain fields are applied as given.
func (e *Engine) Update(ctx context.Context, id string, patch model.WorkflowPatch, actor string) (wf model.Workflow, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.update", observability.AttrWorkflowID.String(id))
	defer func(start time.Time) { e.finish(span, "update", start, err) }(time.Now())

	// 1. Load.
	before, err := e.load(ctx, "update", id)
	if err != nil {
		return model.Workflow{}, err
	}

	// 2. Run the state machine.
	now := e.clock.Now()
	u, err := e.transition(ctx, before, patch.Proposal(), now)
	if err != nil {
		return model.Workflow{}, err
	}

	// 3. Merge the plain fields.
	u = u.Merge(plainFields(patch))
	if u.IsEmpty() {
		return before, nil
	}
	u.LastUpdateTs = model.TimePtr(now)
	u.LastUpdatedBy = model.StringPtr(actor)

	// 4. Persist.
	after, err := e.store.Update(ctx, id, u)
	if err != nil {
		return model.Workflow{}, e.storeError(ctx, "update", id, err)
	}

	// 5. Audit.
	if err := e.recordChange(ctx, &before, after, actor, now); err != nil {
		return model.Workflow{}, err
	}

	if before.Status != after.Status {
		e.metrics.RecordWorkflowTransition(string(before.Status), string(after.Status))
		e.log(ctx).Info("workflow transitioned",
			zap.String("workflow_id", id),
			zap.String("from", string(before.Status)),
			zap.String("to", string(after.Status)))
	}
	return after, nil
}

// BulkAssign assigns a writer or an editor to every workflow matching
// filters. Each record moves through the state machine on its own; records
// the machine rejects are reported as failures and left unchanged.
func (e *Engine) BulkAssign(ctx context.Context, filters filter.Filters, a Assignments, actor string) (res BulkAssignResult, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.bulk_assign")
	defer func(start time.Time) { e.finish(span, "bulk_assign", start, err) }(time.Now())

	// 1. Validate the assignment.
	writer := strings.TrimSpace(a.Writer)
	editor := strings.TrimSpace(a.Editor)
	if (writer == "") == (editor == "") {
		return BulkAssignResult{}, model.NewValidationError([]model.FieldError{{
			Field:   "assignments",
			Code:    "EXACTLY_ONE_ROLE",
			Message: "exactly one of writer or editor must be provided",
		}})
	}
	proposal := model.Proposal{Writer: writer, Editor: editor}

	// 2. Select the working set.
	pred, err := filter.Build(filters, e.loc)
	if err != nil {
		return BulkAssignResult{}, err
	}
	selected, err := e.store.FindMany(ctx, pred, FindOptions{})
	if err != nil {
		return BulkAssignResult{}, e.storeError(ctx, "bulk_assign", "", err)
	}
	span.SetAttributes(observability.AttrBatchSize.Int(len(selected)))

	// 3. Compute each record's projection and group identical ones.
	now := e.clock.Now()
	res = BulkAssignResult{Selected: len(selected), Failures: []BulkAssignFailure{}}
	type group struct {
		update model.WorkflowUpdate
		before []model.Workflow
	}
	groups := make(map[string]*group)
	var order []string
	for _, wf := range selected {
		u, err := e.transition(ctx, wf, proposal, now)
		if err != nil {
			res.Failures = append(res.Failures, BulkAssignFailure{ID: wf.ID, StyleID: wf.StyleID, Error: envelopeOf(err)})
			continue
		}
		if u.IsEmpty() {
			continue
		}
		u.LastUpdateTs = model.TimePtr(now)
		u.LastUpdatedBy = model.StringPtr(actor)

		key := projectionKey(u)
		g, ok := groups[key]
		if !ok {
			g = &group{update: u}
			groups[key] = g
			order = append(order, key)
		}
		g.before = append(g.before, wf)
	}

	// 4. One write per distinct projection.
	var changed []model.Workflow
	var befores []model.Workflow
	for _, key := range order {
		g := groups[key]
		ids := make([]string, len(g.before))
		for i, wf := range g.before {
			ids[i] = wf.ID
		}
		n, err := e.store.UpdateMany(ctx, filter.Predicate{filter.FieldID: {In: ids}}, g.update)
		if err != nil {
			perr := e.storeError(ctx, "bulk_assign", "", err)
			for _, wf := range g.before {
				res.Failures = append(res.Failures, BulkAssignFailure{ID: wf.ID, StyleID: wf.StyleID, Error: envelopeOf(perr)})
			}
			continue
		}
		res.Updated += n
		for _, wf := range g.before {
			befores = append(befores, wf)
			changed = append(changed, wf.Apply(g.update))
		}
	}

	// 5. Audit every changed record concurrently.
	var mu sync.Mutex
	var ag errgroup.Group
	ag.SetLimit(e.fanOut)
	for i := range changed {
		ag.Go(func() error {
			if err := e.recordChange(ctx, &befores[i], changed[i], actor, now); err != nil {
				mu.Lock()
				res.Failures = append(res.Failures, BulkAssignFailure{
					ID: changed[i].ID, StyleID: changed[i].StyleID, Error: envelopeOf(err),
				})
				mu.Unlock()
			}
			if befores[i].Status != changed[i].Status {
				e.metrics.RecordWorkflowTransition(string(befores[i].Status), string(changed[i].Status))
			}
			return nil
		})
	}
	_ = ag.Wait()

	e.metrics.RecordBulkAssign(res.Selected, res.Updated, len(res.Failures))
	e.log(ctx).Info("bulk assignment finished",
		zap.Int("selected", res.Selected),
		zap.Int("updated", res.Updated),
		zap.Int("failed", len(res.Failures)))
	return res, nil
}

// Delete removes a workflow and its history.
func (e *Engine) Delete(ctx context.Context, id string) (err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.delete", observability.AttrWorkflowID.String(id))
	defer func(start time.Time) { e.finish(span, "delete", start, err) }(time.Now())

	if err := validateID(id); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return e.storeError(ctx, "delete", id, err)
	}
	e.log(ctx).Info("workflow deleted", zap.String("workflow_id", id))
	return nil
}

// Counts returns the number of workflows matching filters, in total and
// per status.
func (e *Engine) Counts(ctx context.Context, filters filter.Filters) (res StatusCounts, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.counts")
	defer func(start time.Time) { e.finish(span, "counts", start, err) }(time.Now())

	pred, err := filter.Build(filters, e.loc)
	if err != nil {
		return StatusCounts{}, err
	}

	counts := make([]int, len(model.Statuses))
	var total int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fanOut)
	g.Go(func() error {
		var err error
		total, err = e.store.Count(gctx, pred)
		return err
	})
	for i, status := range model.Statuses {
		g.Go(func() error {
			n, err := e.store.Count(gctx, withStatus(pred, status))
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return StatusCounts{}, e.storeError(ctx, "counts", "", err)
	}

	res = StatusCounts{Total: total, ByStatus: make(map[model.Status]int, len(model.Statuses))}
	for i, status := range model.Statuses {
		res.ByStatus[status] = counts[i]
	}
	return res, nil
}

// History returns one page of a workflow's audit entries, newest first.
func (e *Engine) History(ctx context.Context, id string, page, limit int) (res HistoryResult, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.history", observability.AttrWorkflowID.String(id))
	defer func(start time.Time) { e.finish(span, "history", start, err) }(time.Now())

	if _, err := e.load(ctx, "history", id); err != nil {
		return HistoryResult{}, err
	}
	page, limit, err = e.paging(page, limit)
	if err != nil {
		return HistoryResult{}, err
	}

	total, err := e.audits.CountEntries(ctx, id)
	if err != nil {
		return HistoryResult{}, e.storeError(ctx, "history", id, err)
	}
	entries, err := e.audits.ListEntries(ctx, id, (page-1)*limit, limit)
	if err != nil {
		return HistoryResult{}, e.storeError(ctx, "history", id, err)
	}

	return HistoryResult{
		Data:       entries,
		Pagination: model.NewPagination(total, page, limit, len(entries)),
	}, nil
}

// HistoryEntry returns one audit entry of a workflow.
func (e *Engine) HistoryEntry(ctx context.Context, id, entryID string) (entry model.WorkflowAuditEntry, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.history_entry", observability.AttrWorkflowID.String(id))
	defer func(start time.Time) { e.finish(span, "history_entry", start, err) }(time.Now())

	if err := validateID(id); err != nil {
		return model.WorkflowAuditEntry{}, err
	}
	if err := validateID(entryID); err != nil {
		return model.WorkflowAuditEntry{}, err
	}
	entry, err = e.audits.GetEntry(ctx, id, entryID)
	if err != nil {
		return model.WorkflowAuditEntry{}, e.storeError(ctx, "history_entry", id, err)
	}
	return entry, nil
}

// transition runs the state machine, surfacing records whose stored status
// is outside the pipeline.
func (e *Engine) transition(ctx context.Context, current model.Workflow, proposed model.Proposal, now time.Time) (model.WorkflowUpdate, error) {
	_, span := observability.StartSpan(ctx, "workflow.transition",
		observability.AttrWorkflowID.String(current.ID),
		observability.AttrStatus.String(string(current.Status)),
	)

	if !current.Status.Known() {
		e.metrics.RecordUnknownStatus()
		e.log(ctx).Warn("workflow has unknown status, leaving state unchanged",
			zap.String("workflow_id", current.ID),
			zap.String("status", string(current.Status)))
	}

	u, err := Transition(current, proposed, now)
	if err == nil && u.Status != nil {
		span.SetAttributes(observability.AttrNextStatus.String(string(*u.Status)))
	}
	observability.EndSpanWithError(span, err)
	return u, err
}

// recordChange diffs before and after and appends an audit entry when
// anything but bookkeeping fields changed. A nil before records creation.
func (e *Engine) recordChange(ctx context.Context, before *model.Workflow, after model.Workflow, actor string, now time.Time) (err error) {
	var prev any
	if before != nil {
		prev = *before
	}
	changes, err := audit.Compare(prev, after, auditIgnoreKeys...)
	if err != nil {
		e.log(ctx).Error("audit diff failed", zap.String("workflow_id", after.ID), zap.Error(err))
		return model.NewInternalError()
	}
	if len(changes) == 0 {
		return nil
	}

	auditType := auditTypeOf(changes)
	ctx, span := observability.StartSpan(ctx, "audit.append", observability.AttrAuditType.String(string(auditType)))
	defer func() { observability.EndSpanWithError(span, err) }()

	entry := model.WorkflowAuditEntry{
		ID:         uuid.New().String(),
		WorkflowID: after.ID,
		ChangeLog:  changes,
		AuditType:  auditType,
		CreatedBy:  actor,
		CreateTs:   now,
		Snapshot:   snapshotOf(after),
	}
	if err := e.audits.AppendEntry(ctx, entry); err != nil {
		return e.storeError(ctx, "append_audit", after.ID, err)
	}
	e.metrics.RecordAuditEntry(string(auditType))
	return nil
}

// load fetches one workflow by id.
func (e *Engine) load(ctx context.Context, op, id string) (model.Workflow, error) {
	if err := validateID(id); err != nil {
		return model.Workflow{}, err
	}
	wf, err := e.store.FindOne(ctx, idPredicate(id))
	if err != nil {
		if model.CodeOf(err) == model.ErrNotFound {
			return model.Workflow{}, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", id))
		}
		return model.Workflow{}, e.storeError(ctx, op, id, err)
	}
	return wf, nil
}

// storeError passes envelopes through and wraps anything else as a
// persistence error carrying op.
func (e *Engine) storeError(ctx context.Context, op, id string, err error) error {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}
	e.log(ctx).Error("workflow store failure",
		zap.String("op", op), zap.String("workflow_id", id), zap.Error(err))
	return model.NewPersistenceError(op, err)
}

func (e *Engine) finish(span trace.Span, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = model.CodeOf(err)
		if outcome == "" {
			outcome = model.ErrInternalError
		}
	}
	e.metrics.RecordWorkflowOperation(op, outcome, time.Since(start))
	observability.EndSpanWithError(span, err)
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	return observability.RequestLogger(ctx, e.logger)
}

// MaxPage bounds the page number so that the skip offset stays in range.
const MaxPage = 1_000_000

func (e *Engine) paging(page, limit int) (int, int, error) {
	if page > MaxPage {
		return 0, 0, model.NewInvalidArgumentError(fmt.Sprintf("page must not exceed %d", MaxPage))
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = e.defaultLimit
	}
	if limit > e.maxLimit {
		limit = e.maxLimit
	}
	return page, limit, nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.NewInvalidIdentifierError(id)
	}
	return nil
}

func normalizeStyleID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// plainFields extracts the patch fields applied without the state machine.
func plainFields(p model.WorkflowPatch) model.WorkflowUpdate {
	var u model.WorkflowUpdate
	if p.Title != nil {
		u.Title = model.StringPtr(strings.ToLower(strings.TrimSpace(*p.Title)))
	}
	if p.Brand != nil {
		u.Brand = model.StringPtr(strings.ToLower(strings.TrimSpace(*p.Brand)))
	}
	if p.IsQuickFix != nil {
		u.IsQuickFix = model.BoolPtr(*p.IsQuickFix)
	}
	if p.Admin != nil {
		u.Admin = model.StringPtr(*p.Admin)
	}
	return u
}

func auditTypeOf(changes model.ChangeLog) model.AuditType {
	for _, f := range assignmentFields {
		if _, ok := changes[f]; ok {
			return model.AuditTypeAssignments
		}
	}
	return model.AuditTypeDataNormalization
}

// snapshotOf returns the content fields stored alongside an audit entry.
func snapshotOf(w model.Workflow) map[string]any {
	return map[string]any{
		"styleId":     w.StyleID,
		"brand":       w.Brand,
		"title":       w.Title,
		"status":      string(w.Status),
		"writer":      optString(w.Writer),
		"editor":      optString(w.Editor),
		"assignee":    optString(w.Assignee),
		"isPublished": w.IsPublished,
		"isQuickFix":  w.IsQuickFix,
	}
}

// withStatus returns a copy of pred additionally restricted to status.
func withStatus(pred filter.Predicate, status model.Status) filter.Predicate {
	out := make(filter.Predicate, len(pred)+1)
	for k, v := range pred {
		out[k] = v
	}
	cond := out[filter.FieldStatus]
	if cond.In != nil {
		if !containsString(cond.In, string(status)) {
			cond.In = []string{}
		} else {
			cond.In = []string{string(status)}
		}
	} else {
		cond.In = []string{string(status)}
	}
	out[filter.FieldStatus] = cond
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// projectionKey identifies updates that can share one write.
func projectionKey(u model.WorkflowUpdate) string {
	b, _ := json.Marshal(u)
	return string(b)
}

// envelopeOf returns err as an envelope, hiding non-envelope errors behind
// an internal error.
func envelopeOf(err error) *model.ErrorEnvelope {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}
	return model.NewInternalError()
}
