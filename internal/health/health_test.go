package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	m := NewMonitor("127.0.0.1:5000", path)

	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/_board/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "127.0.0.1:5000", report.Daemon)
	assert.Equal(t, int64(2), report.Store.Size)

	require.NoError(t, os.Remove(path))

	rec = httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/_board/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusUnhealthy, report.Store.Status)
	assert.NotEmpty(t, report.Store.Error)
}

func TestHealthDirectoryIsUnhealthy(t *testing.T) {
	report := NewMonitor("127.0.0.1:5000", t.TempDir()).Check()
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMonitor("", "").LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/_board/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
