package service

import (
	"context"
	"fmt"

	"arcgis-bridge/internal/arcgis"
	"arcgis-bridge/internal/domain"

	"go.uber.org/zap"
)

// defaultHistoryPageSize 历史查询默认页大小
const defaultHistoryPageSize = 50

// defaultListLimit 自由过滤查询的默认行数上限
const defaultListLimit = 100

// QueryService 读查询服务接口
type QueryService interface {
	// Latest 某资产最新一条记录。零行命中不是错误：found=false。
	Latest(ctx context.Context, assetID string) (*LatestResult, error)

	// History 某资产的历史记录（复合谓词 + 计数查询 + 数据查询）。
	// 返回总数和本页行数，调用方据此检测是否被单次查询上限截断。
	History(ctx context.Context, req HistoryRequest) (*HistoryResult, error)

	// List 带过滤条件的全表查询。外部谓词先经过关键词过滤再发往远端。
	List(ctx context.Context, req ListRequest) (*ListResult, error)
}

// LatestResult 最新记录查询结果
type LatestResult struct {
	Found  bool           `json:"found"`
	Record map[string]any `json:"latest_record,omitempty"`
}

// HistoryRequest 历史查询请求。Offset 与 Cursor 二选一：
// Cursor 是上一页最后一条的 alarm_date（推荐，翻页不重不漏），
// Offset 超过远端单次查询记录上限后不可靠。
type HistoryRequest struct {
	AssetID   string
	StartDate string // ISO-8601，可空
	EndDate   string // ISO-8601，可空
	Limit     int
	Offset    int
	Cursor    string
}

// HistoryResult 历史查询结果
type HistoryResult struct {
	Total    int              `json:"total"`
	Returned int              `json:"returned"`
	Records  []map[string]any `json:"records"`
}

// ListRequest 自由过滤查询请求
type ListRequest struct {
	Where   string
	OrderBy string
	Fields  []string
	Limit   int
}

// ListResult 自由过滤查询结果
type ListResult struct {
	Count   int              `json:"count"`
	Records []map[string]any `json:"records"`
}

type queryService struct {
	store  storeClient
	mapper *domain.Mapper
	logger *zap.Logger
}

// NewQueryService 创建 QueryService
func NewQueryService(store storeClient, mapper *domain.Mapper, logger *zap.Logger) QueryService {
	return &queryService{store: store, mapper: mapper, logger: logger}
}

func (s *queryService) Latest(ctx context.Context, assetID string) (*LatestResult, error) {
	if assetID == "" {
		return nil, domain.NewValidationError("asset_id is required")
	}

	q := arcgis.NewQueryBuilder().
		Equals("asset_id", assetID).
		OrderByDesc(arcgis.FieldAlarmDate).
		Limit(1).
		Build()

	result, err := s.store.Query(ctx, q)
	if err != nil {
		s.logger.Error("Latest query failed", zap.String("asset_id", assetID), zap.Error(err))
		return nil, err
	}
	if len(result.Features) == 0 {
		return &LatestResult{Found: false}, nil
	}
	return &LatestResult{Found: true, Record: s.mapper.FromStore(result.Features[0])}, nil
}

func (s *queryService) History(ctx context.Context, req HistoryRequest) (*HistoryResult, error) {
	if req.AssetID == "" {
		return nil, domain.NewValidationError("asset_id is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryPageSize
	}

	// 基础谓词（资产 + 日期范围）；计数不含游标，否则总数会随翻页缩水
	base := arcgis.NewQueryBuilder().Equals("asset_id", req.AssetID)
	data := arcgis.NewQueryBuilder().Equals("asset_id", req.AssetID)
	if req.StartDate != "" {
		t, err := domain.ParseAlarmDate(req.StartDate)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("start_date is not a valid ISO-8601 timestamp: %q", req.StartDate))
		}
		base.DateFrom(arcgis.FieldAlarmDate, t)
		data.DateFrom(arcgis.FieldAlarmDate, t)
	}
	if req.EndDate != "" {
		t, err := domain.ParseAlarmDate(req.EndDate)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("end_date is not a valid ISO-8601 timestamp: %q", req.EndDate))
		}
		base.DateTo(arcgis.FieldAlarmDate, t)
		data.DateTo(arcgis.FieldAlarmDate, t)
	}
	if req.Cursor != "" {
		t, err := domain.ParseAlarmDate(req.Cursor)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("cursor is not a valid ISO-8601 timestamp: %q", req.Cursor))
		}
		data.Before(arcgis.FieldAlarmDate, t)
	} else if req.Offset > 0 {
		data.Offset(req.Offset)
	}
	data.OrderByDesc(arcgis.FieldAlarmDate).Limit(limit)

	// 计数查询只取主键列，与数据查询在同一请求轮次内发出；任一失败整体失败
	countResult, err := s.store.Query(ctx, base.Build(domain.StoreFieldRecordID))
	if err != nil {
		s.logger.Error("History count query failed", zap.String("asset_id", req.AssetID), zap.Error(err))
		return nil, err
	}
	dataResult, err := s.store.Query(ctx, data.Build())
	if err != nil {
		s.logger.Error("History data query failed", zap.String("asset_id", req.AssetID), zap.Error(err))
		return nil, err
	}

	records := make([]map[string]any, len(dataResult.Features))
	for i, attrs := range dataResult.Features {
		records[i] = s.mapper.FromStore(attrs)
	}
	return &HistoryResult{
		Total:    len(countResult.Features),
		Returned: len(records),
		Records:  records,
	}, nil
}

func (s *queryService) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	where := req.Where
	if where == "" {
		where = "1=1"
	}
	if err := arcgis.ValidateWhere(where); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	orderBy := req.OrderBy
	if orderBy == "" {
		orderBy = arcgis.FieldAlarmDate + " DESC"
	}
	if err := arcgis.ValidateOrderBy(orderBy); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	if err := arcgis.ValidateOutFields(req.Fields); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	result, err := s.store.Query(ctx, arcgis.Query{
		Where:     where,
		OutFields: req.Fields,
		OrderBy:   orderBy,
		Limit:     limit,
	})
	if err != nil {
		s.logger.Error("List query failed", zap.String("where", where), zap.Error(err))
		return nil, err
	}

	records := make([]map[string]any, len(result.Features))
	for i, attrs := range result.Features {
		records[i] = s.mapper.FromStore(attrs)
	}
	return &ListResult{Count: len(records), Records: records}, nil
}
