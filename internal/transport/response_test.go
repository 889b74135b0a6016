package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/copydesk/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewBadRequestError("bad"), http.StatusBadRequest},
		{model.NewValidationError(nil), http.StatusBadRequest},
		{model.NewInvalidTransitionError("writer", "WRITER_REQUIRED", "writer required"), http.StatusBadRequest},
		{model.NewInvalidIdentifierError("x"), http.StatusBadRequest},
		{model.NewInvalidArgumentError("bad sort"), http.StatusBadRequest},
		{model.NewUnauthorizedError("no token"), http.StatusUnauthorized},
		{model.NewForbiddenError("no"), http.StatusForbidden},
		{model.NewNotFoundError("gone"), http.StatusNotFound},
		{model.NewConflictError("dup"), http.StatusConflict},
		{model.NewDuplicateStyleError("AB1"), http.StatusConflict},
		{model.NewPersistenceError("update", errors.New("db down")), http.StatusInternalServerError},
		{model.NewUpstreamError("lookup_style", errors.New("503")), http.StatusBadGateway},
		{model.NewInternalError(), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
		{&model.ErrorEnvelope{Code: "SOMETHING_NEW"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		WriteError(w, r, tt.err)
		if w.Code != tt.want {
			t.Errorf("WriteError(%v) status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestWriteError_hidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(w, r, model.NewPersistenceError("update", errors.New("password=hunter2")))

	var body struct {
		Error map[string]any `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error["code"] != model.ErrPersistence {
		t.Errorf("code = %v", body.Error["code"])
	}
	if _, ok := body.Error["cause"]; ok {
		t.Error("cause must not be serialized")
	}
	if body.Error["message"] != "A storage error occurred" {
		t.Errorf("message = %v", body.Error["message"])
	}
}

func TestWriteError_plainErrorBecomesInternal(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(w, r, errors.New("boom"))

	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Error.Code != model.ErrInternalError {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestWriteValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteValidationError(w, r, []model.FieldError{{Field: "styleId", Code: "REQUIRED", Message: "required"}})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Error.Details) != 1 || body.Error.Details[0].Field != "styleId" {
		t.Errorf("details = %+v", body.Error.Details)
	}
}
