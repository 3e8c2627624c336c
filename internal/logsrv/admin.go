package logsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"GoCmdLogServer/internal/logger"
)

// AdminServer 管理HTTP端：健康检查、统计、会话列表、日志流
type AdminServer struct {
	logsrv *Server
	server *http.Server
}

// NewAdminServer 创建管理端服务器
func NewAdminServer(addr string, logsrv *Server, logStream *logger.Broadcaster) *AdminServer {
	a := &AdminServer{logsrv: logsrv}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealth).Methods("GET")
	r.HandleFunc("/stats", a.handleStats).Methods("GET")
	r.HandleFunc("/sessions", a.handleSessions).Methods("GET")
	if logStream != nil {
		r.HandleFunc("/logs/stream", logStream.HandleWebSocket)
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}).Handler(r)

	a.server = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return a
}

// Start 启动管理端
func (a *AdminServer) Start() {
	logger.LogInfo("admin", fmt.Sprintf("管理端监听 %s", a.server.Addr))
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogError("admin", fmt.Sprintf("管理端退出: %v", err))
		}
	}()
}

// Shutdown 关闭管理端
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.logsrv.GetStats())
}

// handleSessions 列出最近会话；目录库未启用时返回 503
func (a *AdminServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if a.logsrv.catalog == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"error": "session catalog not enabled"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rows, err := a.logsrv.catalog.ListRecent(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(rows),
		"sessions": rows,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
