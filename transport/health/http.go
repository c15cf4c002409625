package health

import (
	"context"
	"encoding/json"
	"net/http"
)

const (
	// DefaultLivenessPath 默认存活检查路径.
	DefaultLivenessPath = "/healthz"
	// DefaultReadinessPath 默认就绪检查路径.
	DefaultReadinessPath = "/readyz"
)

// RegisterRoutes 注册健康检查路由到 http.ServeMux.
func RegisterRoutes(mux *http.ServeMux, h *Health) {
	mux.HandleFunc(DefaultLivenessPath, handler(h.Liveness))
	mux.HandleFunc(DefaultReadinessPath, handler(h.Readiness))
}

func handler(check func(ctx context.Context) Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeResponse(w, check(r.Context()))
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	statusCode := http.StatusOK
	if resp.Status != StatusUp {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
