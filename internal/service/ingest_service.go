package service

import (
	"context"
	"fmt"

	"arcgis-bridge/internal/arcgis"
	"arcgis-bridge/internal/domain"

	"go.uber.org/zap"
)

// storeClient 远端存储客户端接口（用于测试替身）
type storeClient interface {
	Add(ctx context.Context, records []map[string]any) ([]arcgis.AddResult, error)
	Query(ctx context.Context, q arcgis.Query) (*arcgis.QueryResult, error)
}

// IngestService 读数接入服务接口
type IngestService interface {
	// Ingest 校验 → 字段映射 → 远端追加一行。校验失败原样返回
	// ValidationError（不重试：记录不经调用方修正永远不可能变合法）。
	Ingest(ctx context.Context, raw map[string]any) (*IngestResult, error)
}

// IngestResult 接入成功的结果
type IngestResult struct {
	Status    string `json:"status"`
	AssetID   string `json:"asset_id"`
	Operation string `json:"operation"`
	RecordID  int64  `json:"record_id"`
}

type ingestService struct {
	store  storeClient
	mapper *domain.Mapper
	logger *zap.Logger
}

// NewIngestService 创建 IngestService
func NewIngestService(store storeClient, mapper *domain.Mapper, logger *zap.Logger) IngestService {
	return &ingestService{store: store, mapper: mapper, logger: logger}
}

func (s *ingestService) Ingest(ctx context.Context, raw map[string]any) (*IngestResult, error) {
	reading, err := domain.Validate(raw)
	if err != nil {
		return nil, err
	}

	attrs, err := s.mapper.ToStore(reading)
	if err != nil {
		return nil, err
	}

	results, err := s.store.Add(ctx, []map[string]any{attrs})
	if err != nil {
		s.logger.Error("Failed to add sensor reading",
			zap.String("asset_id", reading.AssetID),
			zap.Error(err),
		)
		return nil, err
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("store returned %d add results for 1 record", len(results))
	}
	if !results[0].Success {
		s.logger.Error("Store rejected sensor reading",
			zap.String("asset_id", reading.AssetID),
			zap.String("store_error", results[0].Error),
		)
		return nil, fmt.Errorf("record rejected by store: %s", results[0].Error)
	}

	s.logger.Info("Sensor reading ingested",
		zap.String("asset_id", reading.AssetID),
		zap.Int64("record_id", results[0].RecordID),
	)
	return &IngestResult{
		Status:    "success",
		AssetID:   reading.AssetID,
		Operation: "add",
		RecordID:  results[0].RecordID,
	}, nil
}
