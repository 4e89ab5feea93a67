package httpapi

import (
	"errors"
	"net/http"

	"arcgis-bridge/internal/arcgis"
	"arcgis-bridge/internal/domain"
	"arcgis-bridge/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBodyBytes 入站 JSON 体上限
const maxBodyBytes = 1 << 20

// SensorHandler 传感器数据接入与查询 Handler
type SensorHandler struct {
	ingest service.IngestService
	query  service.QueryService
	logger *zap.Logger
}

// NewSensorHandler 创建 SensorHandler
func NewSensorHandler(ingest service.IngestService, query service.QueryService, logger *zap.Logger) *SensorHandler {
	return &SensorHandler{ingest: ingest, query: query, logger: logger}
}

// PostSensorData 接入一条读数
// POST /sensor-data（完整 20 字段 JSON）
func (h *SensorHandler) PostSensorData(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With(zap.String("request_id", uuid.NewString()))

	var raw map[string]any
	if err := readBodyJSON(r, maxBodyBytes, &raw); err != nil {
		writeValidationError(w, []string{"request body is not valid JSON"})
		return
	}
	if raw == nil {
		writeValidationError(w, []string{"request body is required"})
		return
	}

	result, err := h.ingest.Ingest(r.Context(), raw)
	if err != nil {
		h.writeServiceError(w, log, "PostSensorData", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetLatest 某资产最新一条记录
// GET /features/{asset_id}
// 零行命中返回 200 + found=false：查不到不是错误
func (h *SensorHandler) GetLatest(w http.ResponseWriter, r *http.Request, assetID string) {
	log := h.logger.With(zap.String("request_id", uuid.NewString()), zap.String("asset_id", assetID))

	result, err := h.query.Latest(r.Context(), assetID)
	if err != nil {
		h.writeServiceError(w, log, "GetLatest", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetHistory 某资产的历史记录
// GET /features/{asset_id}/history?limit=50&offset=0|cursor=...&start_date=...&end_date=...
func (h *SensorHandler) GetHistory(w http.ResponseWriter, r *http.Request, assetID string) {
	log := h.logger.With(zap.String("request_id", uuid.NewString()), zap.String("asset_id", assetID))

	req, err := historyRequestFromQuery(r, assetID)
	if err != nil {
		writeValidationError(w, []string{err.Error()})
		return
	}

	result, err := h.query.History(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, log, "GetHistory", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListFeatures 带过滤条件的全表查询
// GET /features?limit=100&where=...&order_by=...&fields=a,b,c
func (h *SensorHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With(zap.String("request_id", uuid.NewString()))

	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		writeValidationError(w, []string{"limit must be an integer"})
		return
	}
	req := service.ListRequest{
		Where:   r.URL.Query().Get("where"),
		OrderBy: r.URL.Query().Get("order_by"),
		Fields:  splitFields(r.URL.Query().Get("fields")),
		Limit:   limit,
	}

	result, err := h.query.List(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, log, "ListFeatures", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// historyRequestFromQuery 解析历史查询参数。offset 和 cursor 互斥。
func historyRequestFromQuery(r *http.Request, assetID string) (service.HistoryRequest, error) {
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		return service.HistoryRequest{}, errors.New("limit must be an integer")
	}
	offset, err := parseIntQuery(r, "offset", 0)
	if err != nil {
		return service.HistoryRequest{}, errors.New("offset must be an integer")
	}
	cursor := r.URL.Query().Get("cursor")
	if cursor != "" && offset > 0 {
		return service.HistoryRequest{}, errors.New("offset and cursor are mutually exclusive")
	}
	return service.HistoryRequest{
		AssetID:   assetID,
		StartDate: r.URL.Query().Get("start_date"),
		EndDate:   r.URL.Query().Get("end_date"),
		Limit:     limit,
		Offset:    offset,
		Cursor:    cursor,
	}, nil
}

// writeServiceError 错误分类 → HTTP 状态码（§ 错误约定）：
// 校验错误 400；远端 400 类协议错误 400；认证失败 / 远端 5xx / 传输层耗尽重试 500。
func (h *SensorHandler) writeServiceError(w http.ResponseWriter, log *zap.Logger, op string, err error) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		writeValidationError(w, vErr.Violations)
		return
	}

	var svcErr *arcgis.ServiceError
	if errors.As(err, &svcErr) && svcErr.Code >= 400 && svcErr.Code < 500 {
		log.Warn(op+" rejected by store",
			zap.Int("code", svcErr.Code),
			zap.String("message", svcErr.Message),
		)
		writeError(w, http.StatusBadRequest, svcErr.Message)
		return
	}

	var authErr *arcgis.AuthError
	if errors.As(err, &authErr) {
		log.Error(op+" authentication failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "remote store authentication failed")
		return
	}

	log.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "remote store operation failed")
}

func splitFields(s string) []string {
	if s == "" {
		return nil
	}
	var fields []string
	for _, f := range splitAndTrim(s, ",") {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
