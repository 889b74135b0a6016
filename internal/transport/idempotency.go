package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/copydesk/internal/idempotency"
	"github.com/pitabwire/copydesk/internal/observability"
	"github.com/pitabwire/copydesk/model"
)

// IdempotencyHeader carries the client's idempotency key.
const IdempotencyHeader = "X-Idempotency-Key"

// replayer stores successful responses of keyed mutating requests and
// replays them when the same key is sent again by the same caller.
type replayer struct {
	store   idempotency.Store
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger
}

// do runs fn unless a stored response exists for the request's key. Only
// successful responses are stored. A nil replayer or an absent key runs fn
// directly.
func (p *replayer) do(w http.ResponseWriter, r *http.Request, operation string, body []byte, fn func() (int, any, error)) {
	key := r.Header.Get(IdempotencyHeader)
	if p == nil || p.store == nil || key == "" {
		status, res, err := fn()
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, status, res)
		return
	}

	ctx := r.Context()
	logger := observability.RequestLogger(ctx, p.logger)
	storeKey := idempotency.FormatKey(operation, model.MustRequestContext(ctx).Actor(), key)
	hash := idempotency.HashInput(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))

	cached, found, err := p.store.Check(ctx, storeKey, hash)
	if err != nil {
		if model.CodeOf(err) == model.ErrConflict {
			WriteError(w, r, err)
			return
		}
		// The store being down does not block the request.
		logger.Warn("idempotency check failed", zap.String("key", storeKey), zap.Error(err))
	}
	if found && cached != nil {
		p.metrics.RecordIdempotencyReplay()
		w.Header().Set("Idempotent-Replayed", "true")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(cached.Status)
		w.Write(cached.Body)
		return
	}
	p.metrics.RecordIdempotencyMiss()

	status, res, err := fn()
	if err != nil {
		WriteError(w, r, err)
		return
	}

	encoded, err := json.Marshal(res)
	if err != nil {
		WriteError(w, r, model.NewInternalError())
		return
	}
	if err := p.store.Save(ctx, storeKey, hash, idempotency.Response{Status: status, Body: encoded}, p.ttl); err != nil {
		logger.Warn("idempotency save failed", zap.String("key", storeKey), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(encoded)
}
