package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Version 对外报告的服务版本
const Version = "2.0.0"

// connectionTester 门户探活接口（由 TokenManager 实现，测试时可替换）
type connectionTester interface {
	TestConnection(ctx context.Context) (map[string]any, error)
	Expiry() time.Time
}

// HealthHandler 健康检查 Handler。配置了凭据时顺带探测远端连通性。
type HealthHandler struct {
	tester   connectionTester
	hasCreds bool
	logger   *zap.Logger
}

// NewHealthHandler 创建 HealthHandler。tester 为 nil 或未配置凭据时跳过远端探测。
func NewHealthHandler(tester connectionTester, hasCreds bool, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{tester: tester, hasCreds: hasCreds, logger: logger}
}

// Health 健康检查
// GET /health：远端正常 → 200 healthy；远端不可达 → 503 degraded
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"dependencies": map[string]any{
			"arcgis_online": "unknown",
		},
	}
	deps := body["dependencies"].(map[string]any)

	if h.tester == nil || !h.hasCreds {
		deps["arcgis_online"] = "no credentials configured"
		writeJSON(w, http.StatusOK, body)
		return
	}

	info, err := h.tester.TestConnection(r.Context())
	if err != nil {
		h.logger.Warn("Health check ArcGIS probe failed", zap.Error(err))
		deps["arcgis_online"] = "unhealthy: " + err.Error()
		body["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	deps["arcgis_online"] = "healthy"
	if name, ok := info["org_name"]; ok {
		body["arcgis_org"] = name
	}
	if expiry := h.tester.Expiry(); !expiry.IsZero() {
		body["token_expires"] = expiry.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}
