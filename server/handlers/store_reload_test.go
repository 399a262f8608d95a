package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockReloadableStore struct {
	reloads int
	err     error
}

func (m *mockReloadableStore) Reload() error {
	m.reloads++
	return m.err
}

func TestStoreReloadHandler(t *testing.T) {
	store := &mockReloadableStore{}
	handler := NewStoreReloadHandler(slog.Default(), store)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/store/reload", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, store.reloads)
}

func TestStoreReloadHandler_Error(t *testing.T) {
	store := &mockReloadableStore{err: errors.New("permission denied")}
	handler := NewStoreReloadHandler(slog.Default(), store)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/store/reload", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "permission denied")
}
