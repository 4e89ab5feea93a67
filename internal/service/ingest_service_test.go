package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"arcgis-bridge/internal/arcgis"
	"arcgis-bridge/internal/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore storeClient 的测试替身。Add 回放预置结果并记录入参，
// Query 交给可注入的 queryFn。
type fakeStore struct {
	addResults []arcgis.AddResult
	addErr     error
	lastAdd    []map[string]any
	queryFn    func(q arcgis.Query) (*arcgis.QueryResult, error)
	queries    []arcgis.Query
}

func (f *fakeStore) Add(ctx context.Context, records []map[string]any) ([]arcgis.AddResult, error) {
	f.lastAdd = records
	if f.addErr != nil {
		return nil, f.addErr
	}
	return f.addResults, nil
}

func (f *fakeStore) Query(ctx context.Context, q arcgis.Query) (*arcgis.QueryResult, error) {
	f.queries = append(f.queries, q)
	if f.queryFn != nil {
		return f.queryFn(q)
	}
	return &arcgis.QueryResult{}, nil
}

// validReading 合法的 20 字段入站读数
func validReading() map[string]any {
	return map[string]any{
		"location":        "test-location",
		"node_id":         "test-node",
		"block":           "test-blk-001",
		"level":           2,
		"ward":            "test-ward",
		"asset_type":      "plank",
		"asset_id":        "blk-001-208",
		"alarm_code":      3,
		"object_name":     "early_deflection_alert",
		"description":     "Early deflection alert",
		"present_value":   6.0,
		"threshold_value": 6.0,
		"min_value":       -250.0,
		"max_value":       250.0,
		"resolution":      0.1,
		"units":           "millimetre",
		"alarm_status":    "InAlarm",
		"event_state":     "HighLimit",
		"alarm_date":      "2024-01-15T10:30:00.000Z",
		"device_type":     "ultrasonic distance sensor",
	}
}

// TestIngest_Success 校验通过后以远端列名追加一行
func TestIngest_Success(t *testing.T) {
	store := &fakeStore{
		addResults: []arcgis.AddResult{{Index: 0, RecordID: 12345, Success: true}},
	}
	fixed := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	svc := NewIngestService(store, domain.NewMapperWithClock(func() time.Time { return fixed }), zap.NewNop())

	result, err := svc.Ingest(context.Background(), validReading())
	require.NoError(t, err)
	require.Equal(t, "success", result.Status)
	require.Equal(t, "blk-001-208", result.AssetID)
	require.Equal(t, "add", result.Operation)
	require.Equal(t, int64(12345), result.RecordID)

	// 发往远端的是映射后的属性表
	require.Len(t, store.lastAdd, 1)
	attrs := store.lastAdd[0]
	require.Equal(t, "test-blk-001", attrs["block_id"])
	require.NotContains(t, attrs, "block")
	require.Equal(t, int64(1705314600000), attrs["alarm_date"])
	require.Equal(t, fixed.UnixMilli(), attrs["record_created"])
}

// TestIngest_ValidationError 校验失败不触达远端，违规项全部保留
func TestIngest_ValidationError(t *testing.T) {
	store := &fakeStore{}
	svc := NewIngestService(store, domain.NewMapper(), zap.NewNop())

	raw := validReading()
	delete(raw, "location")
	delete(raw, "units")

	_, err := svc.Ingest(context.Background(), raw)
	require.Error(t, err)
	vErr, ok := err.(*domain.ValidationError)
	require.True(t, ok)
	require.Len(t, vErr.Violations, 2)
	require.Nil(t, store.lastAdd)
}

// TestIngest_StoreError 远端错误原样上抛
func TestIngest_StoreError(t *testing.T) {
	store := &fakeStore{addErr: &arcgis.ServiceError{Code: 503, Message: "unavailable"}}
	svc := NewIngestService(store, domain.NewMapper(), zap.NewNop())

	_, err := svc.Ingest(context.Background(), validReading())
	require.Error(t, err)
	var svcErr *arcgis.ServiceError
	require.True(t, errors.As(err, &svcErr))
	require.Equal(t, 503, svcErr.Code)
}

// TestIngest_RowRejected 远端按行拒绝（rollback 后整批失败）→ 错误
func TestIngest_RowRejected(t *testing.T) {
	store := &fakeStore{
		addResults: []arcgis.AddResult{{Index: 0, Success: false, Error: "constraint violated"}},
	}
	svc := NewIngestService(store, domain.NewMapper(), zap.NewNop())

	_, err := svc.Ingest(context.Background(), validReading())
	require.Error(t, err)
	require.Contains(t, err.Error(), "constraint violated")
}
