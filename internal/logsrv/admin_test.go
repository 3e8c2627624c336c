package logsrv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T) *AdminServer {
	t.Helper()
	server := New(DefaultServerConfig(":0", t.TempDir()), nil)
	return NewAdminServer(":0", server, nil)
}

// TestAdminHealth 测试健康检查
func TestAdminHealth(t *testing.T) {
	a := newTestAdmin(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

// TestAdminStats 测试统计接口返回计数字段
func TestAdminStats(t *testing.T) {
	a := newTestAdmin(t)

	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "total_sessions")
	assert.Contains(t, body, "total_resumes")
	assert.Contains(t, body, "active_connections")
}

// TestAdminSessionsWithoutCatalog 测试目录库未启用时会话列表返回503
func TestAdminSessionsWithoutCatalog(t *testing.T) {
	a := newTestAdmin(t)

	req := httptest.NewRequest("GET", "/sessions", nil)
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestAdminMethodNotAllowed 测试只开放GET
func TestAdminMethodNotAllowed(t *testing.T) {
	a := newTestAdmin(t)

	req := httptest.NewRequest("POST", "/stats", nil)
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
