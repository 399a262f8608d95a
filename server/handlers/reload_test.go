package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nomis52/gosdm/config"
)

// mockReloader swaps in next on a successful reload.
type mockReloader struct {
	mockConfigProvider
	next *config.Config
	err  error
}

func (m *mockReloader) Reload() error {
	if m.err != nil {
		return m.err
	}
	m.config = m.next
	return nil
}

func TestReloadHandler_Success(t *testing.T) {
	reloader := &mockReloader{
		mockConfigProvider: mockConfigProvider{config: &config.Config{WorkspaceID: "T1"}},
		next:               &config.Config{WorkspaceID: "T2", Environment: "testing"},
	}
	handler := NewReloadHandler(slog.Default(), reloader, reloader)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reload", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode[ReloadResponse](t, w)
	assert.Equal(t, "T2", resp.WorkspaceID)
	assert.Equal(t, "testing", resp.Environment)
}

func TestReloadHandler_Error(t *testing.T) {
	reloader := &mockReloader{
		mockConfigProvider: mockConfigProvider{config: &config.Config{WorkspaceID: "T1"}},
		err:                errors.New("config file not found"),
	}
	handler := NewReloadHandler(slog.Default(), reloader, reloader)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reload", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "config file not found")
	assert.Equal(t, "T1", reloader.Config().WorkspaceID)
}
