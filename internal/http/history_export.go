package httpapi

import (
	"bytes"
	"fmt"
	"net/http"

	"arcgis-bridge/internal/service"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// exportPageSize 导出时一次取的行数（远端单次查询上限以内）
const exportPageSize = 1000

// HistoryExportHeader 导出表头（服务端字段名顺序）
var HistoryExportHeader = []string{
	"Record ID",
	"Asset ID",
	"Location",
	"Node ID",
	"Block",
	"Level",
	"Ward",
	"Asset Type",
	"Alarm Code",
	"Object Name",
	"Description",
	"Alarm Status",
	"Event State",
	"Alarm Date",
	"Present Value",
	"Threshold Value",
	"Min Value",
	"Max Value",
	"Resolution",
	"Units",
	"Device Type",
	"Record Created",
}

// historyExportFields 表头对应的记录键
var historyExportFields = []string{
	"record_id", "asset_id", "location", "node_id", "block", "level", "ward",
	"asset_type", "alarm_code", "object_name", "description", "alarm_status",
	"event_state", "alarm_date", "present_value", "threshold_value",
	"min_value", "max_value", "resolution", "units", "device_type",
	"record_created",
}

// ExportHistory 导出某资产的历史记录为 Excel
// GET /features/{asset_id}/history/export?start_date=...&end_date=...
func (h *SensorHandler) ExportHistory(w http.ResponseWriter, r *http.Request, assetID string) {
	log := h.logger.With(zap.String("request_id", uuid.NewString()), zap.String("asset_id", assetID))

	req := service.HistoryRequest{
		AssetID:   assetID,
		StartDate: r.URL.Query().Get("start_date"),
		EndDate:   r.URL.Query().Get("end_date"),
		Limit:     exportPageSize,
	}
	result, err := h.query.History(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, log, "ExportHistory", err)
		return
	}

	data, err := generateHistoryExcel(result.Records)
	if err != nil {
		log.Error("ExportHistory excel generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate export")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", assetID+"-history.xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// generateHistoryExcel 生成历史记录 Excel 文件
func generateHistoryExcel(records []map[string]any) ([]byte, error) {
	f := excelize.NewFile()
	// 注意：这里不能 defer Close()，WriteTo 需要文件保持打开

	sheetName := "History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range HistoryExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for row, record := range records {
		for col, field := range historyExportFields {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to compute cell name: %w", err)
			}
			if v, ok := record[field]; ok && v != nil {
				if err := f.SetCellValue(sheetName, cell, v); err != nil {
					f.Close()
					return nil, fmt.Errorf("failed to write cell: %w", err)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}
