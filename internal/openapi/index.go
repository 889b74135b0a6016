// Package openapi loads the service's OpenAPI document and validates request
// bodies and query parameters against it before they reach the engine.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/copydesk/model"
)

//go:embed copydesk.yaml
var document []byte

// Operation is one indexed API operation.
type Operation struct {
	ID           string
	Method       string
	PathTemplate string
	Body         *openapi3.Schema
	BodyRequired bool
	Query        map[string]*openapi3.Schema
}

// Index holds the parsed document keyed by operationId.
type Index struct {
	raw        []byte
	operations map[string]Operation
}

// Load parses and validates the embedded document.
func Load() (*Index, error) {
	return LoadData(document)
}

// LoadData parses and validates an OpenAPI document and indexes its
// operations.
func LoadData(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating document: %w", err)
	}

	idx := &Index{raw: data, operations: make(map[string]Operation)}
	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			query := make(map[string]*openapi3.Schema)
			addQuery := func(refs openapi3.Parameters) {
				for _, ref := range refs {
					p := ref.Value
					if p != nil && p.In == openapi3.ParameterInQuery && p.Schema != nil {
						query[p.Name] = p.Schema.Value
					}
				}
			}
			addQuery(pathItem.Parameters)
			addQuery(op.Parameters)

			indexed := Operation{
				ID:           op.OperationID,
				Method:       method,
				PathTemplate: path,
				Query:        query,
			}
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				rb := op.RequestBody.Value
				indexed.BodyRequired = rb.Required
				if ct := rb.Content.Get("application/json"); ct != nil && ct.Schema != nil {
					indexed.Body = ct.Schema.Value
				}
			}
			idx.operations[op.OperationID] = indexed
		}
	}
	return idx, nil
}

// Document returns the raw document for serving.
func (idx *Index) Document() []byte {
	return idx.raw
}

// GetOperation returns the indexed operation with the given ID.
func (idx *Index) GetOperation(operationID string) (Operation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// OperationIDs returns all operation IDs, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateBody checks a decoded JSON body (maps, slices, float64, string,
// bool, nil) against the operation's request schema. It returns nil when
// the body is valid.
func (idx *Index) ValidateBody(operationID string, body any) []model.FieldError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []model.FieldError{{
			Field:   "body",
			Code:    "UNKNOWN_OPERATION",
			Message: fmt.Sprintf("operation %q not found", operationID),
		}}
	}
	if op.Body == nil {
		return nil
	}
	if body == nil {
		if op.BodyRequired {
			return []model.FieldError{{Field: "body", Code: "REQUIRED", Message: "request body is required"}}
		}
		return nil
	}

	return fieldErrors("", op.Body.VisitJSON(body, openapi3.MultiErrors()))
}

// ValidateQuery checks the declared query parameters of an operation.
// Undeclared parameters are ignored.
func (idx *Index) ValidateQuery(operationID string, query url.Values) []model.FieldError {
	op, ok := idx.operations[operationID]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(op.Query))
	for name := range op.Query {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []model.FieldError
	for _, name := range names {
		raw, present := query[name]
		if !present || len(raw) == 0 {
			continue
		}
		schema := op.Query[name]
		value, err := queryValue(schema, raw[0])
		if err != nil {
			errs = append(errs, model.FieldError{Field: name, Code: "INVALID_VALUE", Message: err.Error()})
			continue
		}
		errs = append(errs, fieldErrors(name, schema.VisitJSON(value, openapi3.MultiErrors()))...)
	}
	return errs
}

func queryValue(schema *openapi3.Schema, raw string) (any, error) {
	if schema.Type != nil && (schema.Type.Is(openapi3.TypeInteger) || schema.Type.Is(openapi3.TypeNumber)) {
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return n, nil
	}
	return raw, nil
}

// fieldErrors flattens a kin-openapi validation error into field details.
func fieldErrors(prefix string, err error) []model.FieldError {
	switch e := err.(type) {
	case nil:
		return nil
	case openapi3.MultiError:
		var out []model.FieldError
		for _, inner := range e {
			out = append(out, fieldErrors(prefix, inner)...)
		}
		return out
	case *openapi3.SchemaError:
		code := "INVALID_VALUE"
		if e.SchemaField != "" {
			code = "SCHEMA_" + strings.ToUpper(e.SchemaField)
		}
		return []model.FieldError{{
			Field:   fieldPath(prefix, e.JSONPointer()),
			Code:    code,
			Message: e.Reason,
		}}
	default:
		return []model.FieldError{{Field: fieldPath(prefix, nil), Code: "INVALID_VALUE", Message: err.Error()}}
	}
}

func fieldPath(prefix string, pointer []string) string {
	parts := pointer
	if prefix != "" {
		parts = append([]string{prefix}, pointer...)
	}
	if len(parts) == 0 {
		return "body"
	}
	return strings.Join(parts, ".")
}
