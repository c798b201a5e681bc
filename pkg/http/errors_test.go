package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusConflict, "conflict", "already exists")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"conflict","message":"already exists"}`, w.Body.String())
}

func TestWriteAuthenticationFailedIsByteIdentical(t *testing.T) {
	// Every credential failure must serialize to exactly the same bytes,
	// whatever the internal reason was.
	first := httptest.NewRecorder()
	WriteAuthenticationFailed(first)

	second := httptest.NewRecorder()
	WriteAuthenticationFailed(second)

	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, http.StatusUnauthorized, first.Code)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"abc"}`, w.Body.String())
}
