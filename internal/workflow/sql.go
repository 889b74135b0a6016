package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pitabwire/copydesk/internal/filter"
	"github.com/pitabwire/copydesk/model"
)

// columns maps JSON field names to workflow table columns. Predicates and
// orderings may only reference these.
var columns = map[string]string{
	"id":                  "id",
	"styleId":             "style_id",
	"brand":               "brand",
	"title":               "title",
	"status":              "status",
	"writer":              "writer",
	"editor":              "editor",
	"assignee":            "assignee",
	"admin":               "admin",
	"createProcess":       "create_process",
	"isPublished":         "is_published",
	"isQuickFix":          "is_quick_fix",
	"lastUpdateTs":        "last_update_ts",
	"lastUpdatedBy":       "last_updated_by",
	"lastWriteCompleteTs": "last_write_complete_ts",
	"lastEditCompleteTs":  "last_edit_complete_ts",
	"createTs":            "create_ts",
}

var timeColumns = map[string]bool{
	"last_update_ts":         true,
	"last_write_complete_ts": true,
	"last_edit_complete_ts":  true,
	"create_ts":              true,
}

var boolColumns = map[string]bool{
	"is_published": true,
	"is_quick_fix": true,
}

// sqlBuilder accumulates positional arguments while a statement is built.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// whereClause compiles pred into a SQL boolean expression. An empty
// predicate compiles to TRUE. Fields are visited in sorted order so the
// statement text is stable.
func (b *sqlBuilder) whereClause(pred filter.Predicate) (string, error) {
	fields := make([]string, 0, len(pred))
	for f := range pred {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var parts []string
	for _, field := range fields {
		cond := pred[field]
		if field == filter.FieldGlobalSearch {
			var alts []string
			for _, gf := range filter.GlobalSearchFields {
				expr, err := b.condition(columns[gf], cond)
				if err != nil {
					return "", err
				}
				alts = append(alts, expr)
			}
			parts = append(parts, "("+strings.Join(alts, " OR ")+")")
			continue
		}

		col, ok := columns[field]
		if !ok {
			return "", model.NewInvalidArgumentError(fmt.Sprintf("unknown filter field %q", field))
		}
		expr, err := b.condition(col, cond)
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}

	if len(parts) == 0 {
		return "TRUE", nil
	}
	return strings.Join(parts, " AND "), nil
}

// condition compiles one Condition against col. Every set operator must
// hold.
func (b *sqlBuilder) condition(col string, c filter.Condition) (string, error) {
	var parts []string
	insensitive := c.Mode == filter.ModeInsensitive

	if c.Gte != "" || c.Lt != "" {
		if !timeColumns[col] {
			return "", model.NewInvalidArgumentError(fmt.Sprintf("range filter on non-time column %q", col))
		}
		if c.Gte != "" {
			ts, err := time.Parse(filter.TimestampLayout, c.Gte)
			if err != nil {
				return "", model.NewInvalidArgumentError(fmt.Sprintf("invalid gte %q", c.Gte))
			}
			parts = append(parts, fmt.Sprintf("%s >= %s", col, b.arg(ts)))
		}
		if c.Lt != "" {
			ts, err := time.Parse(filter.TimestampLayout, c.Lt)
			if err != nil {
				return "", model.NewInvalidArgumentError(fmt.Sprintf("invalid lt %q", c.Lt))
			}
			parts = append(parts, fmt.Sprintf("%s < %s", col, b.arg(ts)))
		}
	}

	target := textExpr(col)
	if insensitive {
		target = "lower(" + target + ")"
	}

	if c.In != nil {
		parts = append(parts, fmt.Sprintf("%s = ANY(%s)", target, b.arg(caseFold(c.In, insensitive))))
	}
	if c.NotIn != nil {
		// NULL columns pass a NotIn condition.
		parts = append(parts, fmt.Sprintf("(%s IS NULL OR NOT (%s = ANY(%s)))",
			col, target, b.arg(caseFold(c.NotIn, insensitive))))
	}
	if c.Contains != nil {
		op := "LIKE"
		if insensitive {
			op = "ILIKE"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", textExpr(col), op, b.arg("%"+escapeLike(*c.Contains)+"%")))
	}

	if len(parts) == 0 {
		return "TRUE", nil
	}
	return strings.Join(parts, " AND "), nil
}

// orderClause renders order as ORDER BY terms ending in id. Unknown fields
// are rejected.
func orderClause(order []Sort) (string, error) {
	order = effectiveOrder(order)
	terms := make([]string, 0, len(order))
	for _, o := range order {
		col, ok := columns[o.Field]
		if !ok || !SortableFields[o.Field] {
			return "", model.NewInvalidArgumentError(fmt.Sprintf("cannot sort by %q", o.Field))
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		terms = append(terms, fmt.Sprintf("%s %s NULLS LAST", col, dir))
	}
	return strings.Join(terms, ", "), nil
}

// setClause renders the non-nil fields of u as SET assignments.
func (b *sqlBuilder) setClause(u model.WorkflowUpdate) string {
	var sets []string
	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = %s", col, b.arg(v)))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Writer != nil {
		add("writer", *u.Writer)
	}
	if u.Editor != nil {
		add("editor", *u.Editor)
	}
	if u.Assignee != nil {
		add("assignee", *u.Assignee)
	}
	if u.Admin != nil {
		add("admin", *u.Admin)
	}
	if u.Brand != nil {
		add("brand", *u.Brand)
	}
	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.IsPublished != nil {
		add("is_published", *u.IsPublished)
	}
	if u.IsQuickFix != nil {
		add("is_quick_fix", *u.IsQuickFix)
	}
	if u.LastUpdateTs != nil {
		add("last_update_ts", *u.LastUpdateTs)
	}
	if u.LastUpdatedBy != nil {
		add("last_updated_by", *u.LastUpdatedBy)
	}
	if u.LastWriteCompleteTs != nil {
		add("last_write_complete_ts", *u.LastWriteCompleteTs)
	}
	if u.LastEditCompleteTs != nil {
		add("last_edit_complete_ts", *u.LastEditCompleteTs)
	}
	return strings.Join(sets, ", ")
}

// textExpr casts non-text columns so string operators apply.
func textExpr(col string) string {
	if boolColumns[col] || timeColumns[col] {
		return col + "::text"
	}
	return col
}

func caseFold(values []string, insensitive bool) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if insensitive {
			v = strings.ToLower(v)
		}
		out[i] = v
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
