package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（路由面很小，不值得引第三方路由）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterSensorRoutes 注册传感器数据接入与查询路由
func (r *Router) RegisterSensorRoutes(h *SensorHandler) {
	r.Handle("/sensor-data", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.PostSensorData(w, req)
	})

	// /features（全表过滤查询）
	r.Handle("/features", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListFeatures(w, req)
	})

	// /features/{asset_id}[/history[/export]]
	r.Handle("/features/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/features/")
		switch {
		case rest == "":
			h.ListFeatures(w, req)
		case strings.HasSuffix(rest, "/history/export"):
			h.ExportHistory(w, req, strings.TrimSuffix(rest, "/history/export"))
		case strings.HasSuffix(rest, "/history"):
			h.GetHistory(w, req, strings.TrimSuffix(rest, "/history"))
		case !strings.Contains(rest, "/"):
			h.GetLatest(w, req, rest)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// RegisterHealthRoutes 注册健康检查路由
func (r *Router) RegisterHealthRoutes(h *HealthHandler) {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Health(w, req)
	})
}
