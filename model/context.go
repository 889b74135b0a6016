package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext carries the identity and tracing information of an
// authenticated request. It is immutable after construction and safe for
// concurrent reads.
type RequestContext struct {
	SubjectID     string
	Email         string
	Name          string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
}

// Validate checks that all mandatory fields are present.
// SubjectID and Email must be non-empty; Email is recorded as the actor on
// every mutation.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if rc.Email == "" {
		errs = append(errs, fmt.Errorf("Email is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Actor returns the identity recorded as admin, lastUpdatedBy and audit
// author.
func (rc *RequestContext) Actor() string {
	return rc.Email
}

// HasRole returns true if the RequestContext contains the given role.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claim returns the value of the given claim key, or nil if not present.
func (rc *RequestContext) Claim(key string) any {
	if rc.Claims == nil {
		return nil
	}
	return rc.Claims[key]
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking if
// it is not present. Handlers behind the authentication middleware may rely on
// it being set.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
