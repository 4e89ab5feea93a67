package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"testing"
	"time"

	"arcgis-bridge/internal/arcgis"
	"arcgis-bridge/internal/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestLatest_Found 命中时返回映射后的记录
func TestLatest_Found(t *testing.T) {
	store := &fakeStore{
		queryFn: func(q arcgis.Query) (*arcgis.QueryResult, error) {
			return &arcgis.QueryResult{Features: []map[string]any{{
				"objectid":   int64(42),
				"block_id":   "test-blk-001",
				"asset_id":   "blk-001-208",
				"alarm_date": int64(1705314600000),
			}}}, nil
		},
	}
	svc := NewQueryService(store, domain.NewMapper(), zap.NewNop())

	result, err := svc.Latest(context.Background(), "blk-001-208")
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, int64(42), result.Record["record_id"])
	require.Equal(t, "test-blk-001", result.Record["block"])
	require.Equal(t, "2024-01-15T10:30:00Z", result.Record["alarm_date"])

	// 最新一条 = 等值过滤 + 告警时间倒序 + limit 1
	require.Len(t, store.queries, 1)
	q := store.queries[0]
	require.Equal(t, "asset_id = 'blk-001-208'", q.Where)
	require.Equal(t, "alarm_date DESC", q.OrderBy)
	require.Equal(t, 1, q.Limit)
}

// TestLatest_NotFound 零行命中不是错误
func TestLatest_NotFound(t *testing.T) {
	store := &fakeStore{}
	svc := NewQueryService(store, domain.NewMapper(), zap.NewNop())

	result, err := svc.Latest(context.Background(), "no-such-asset")
	require.NoError(t, err)
	require.False(t, result.Found)
	require.Nil(t, result.Record)
}

// TestLatest_EmptyAssetID 空 asset_id 是调用方错误
func TestLatest_EmptyAssetID(t *testing.T) {
	svc := NewQueryService(&fakeStore{}, domain.NewMapper(), zap.NewNop())

	_, err := svc.Latest(context.Background(), "")
	require.Error(t, err)
	_, ok := err.(*domain.ValidationError)
	require.True(t, ok)
}

// TestHistory_Predicates 计数查询不带游标，数据查询带游标和日期范围
func TestHistory_Predicates(t *testing.T) {
	store := &fakeStore{}
	svc := NewQueryService(store, domain.NewMapper(), zap.NewNop())

	_, err := svc.History(context.Background(), HistoryRequest{
		AssetID:   "blk-001-208",
		StartDate: "2024-01-01T00:00:00Z",
		EndDate:   "2024-01-31T00:00:00Z",
		Cursor:    "2024-01-15T10:30:00Z",
		Limit:     50,
	})
	require.NoError(t, err)
	require.Len(t, store.queries, 2)

	count := store.queries[0]
	require.Equal(t,
		"asset_id = 'blk-001-208' AND alarm_date >= TIMESTAMP '2024-01-01 00:00:00' AND alarm_date <= TIMESTAMP '2024-01-31 00:00:00'",
		count.Where)
	require.Equal(t, []string{"objectid"}, count.OutFields)
	require.NotContains(t, count.Where, "alarm_date < TIMESTAMP '2024-01-15 10:30:00'")

	data := store.queries[1]
	require.Contains(t, data.Where, "alarm_date < TIMESTAMP '2024-01-15 10:30:00'")
	require.Equal(t, "alarm_date DESC", data.OrderBy)
	require.Equal(t, 50, data.Limit)
	require.Zero(t, data.Offset)
}

// TestHistory_OffsetFallback 无游标时退化为偏移分页
func TestHistory_OffsetFallback(t *testing.T) {
	store := &fakeStore{}
	svc := NewQueryService(store, domain.NewMapper(), zap.NewNop())

	_, err := svc.History(context.Background(), HistoryRequest{AssetID: "blk-001-208", Offset: 100})
	require.NoError(t, err)
	require.Len(t, store.queries, 2)
	require.Equal(t, 100, store.queries[1].Offset)
	require.Equal(t, defaultHistoryPageSize, store.queries[1].Limit)
}

// TestHistory_BadDates 日期参数不合法 → ValidationError
func TestHistory_BadDates(t *testing.T) {
	svc := NewQueryService(&fakeStore{}, domain.NewMapper(), zap.NewNop())

	for _, req := range []HistoryRequest{
		{AssetID: "a", StartDate: "not-a-date"},
		{AssetID: "a", EndDate: "31/01/2024"},
		{AssetID: "a", Cursor: "garbage"},
		{},
	} {
		_, err := svc.History(context.Background(), req)
		require.Error(t, err)
		_, ok := err.(*domain.ValidationError)
		require.True(t, ok)
	}
}

// cursorPattern 从谓词里提取游标时间字面量
var cursorPattern = regexp.MustCompile(`alarm_date < TIMESTAMP '([^']+)'`)

// simulatedHistory 模拟远端的历史表：按游标过滤、倒序、截断到 limit。
// 计数查询（OutFields=objectid）返回全部行。
func simulatedHistory(t *testing.T, rows []map[string]any) func(q arcgis.Query) (*arcgis.QueryResult, error) {
	return func(q arcgis.Query) (*arcgis.QueryResult, error) {
		if len(q.OutFields) == 1 && q.OutFields[0] == domain.StoreFieldRecordID {
			return &arcgis.QueryResult{Features: rows}, nil
		}

		matched := rows
		if m := cursorPattern.FindStringSubmatch(q.Where); m != nil {
			cutoff, err := time.Parse("2006-01-02 15:04:05", m[1])
			require.NoError(t, err)
			matched = nil
			for _, row := range rows {
				if row["alarm_date"].(int64) < cutoff.UTC().UnixMilli() {
					matched = append(matched, row)
				}
			}
		}

		sorted := append([]map[string]any(nil), matched...)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i]["alarm_date"].(int64) > sorted[j]["alarm_date"].(int64)
		})
		if q.Limit > 0 && len(sorted) > q.Limit {
			sorted = sorted[:q.Limit]
		}
		return &arcgis.QueryResult{Features: sorted}, nil
	}
}

// TestHistory_CursorWalk 157 条记录按页大小 50 游标翻页：
// 4 页取完，每条恰好出现一次，总数在每一页上保持 157
func TestHistory_CursorWalk(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]map[string]any, 157)
	for i := range rows {
		rows[i] = map[string]any{
			"objectid":   int64(i + 1),
			"asset_id":   "blk-001-208",
			"alarm_date": base.Add(time.Duration(i) * time.Second).UnixMilli(),
		}
	}

	store := &fakeStore{queryFn: simulatedHistory(t, rows)}
	svc := NewQueryService(store, domain.NewMapper(), zap.NewNop())

	seen := map[int64]bool{}
	cursor := ""
	pages := 0
	for {
		result, err := svc.History(context.Background(), HistoryRequest{
			AssetID: "blk-001-208",
			Limit:   50,
			Cursor:  cursor,
		})
		require.NoError(t, err)
		require.Equal(t, 157, result.Total)
		if result.Returned == 0 {
			break
		}
		pages++

		var prev int64
		for i, rec := range result.Records {
			id := rec["record_id"].(int64)
			require.False(t, seen[id], fmt.Sprintf("record %d returned twice", id))
			seen[id] = true

			ts, err := domain.ParseAlarmDate(rec["alarm_date"].(string))
			require.NoError(t, err)
			if i > 0 {
				require.Less(t, ts.UnixMilli(), prev)
			}
			prev = ts.UnixMilli()
		}
		cursor = result.Records[len(result.Records)-1]["alarm_date"].(string)
		if result.Returned < 50 {
			break
		}
	}

	require.Equal(t, 4, pages)
	require.Len(t, seen, 157)
}

// TestList_ForbiddenPredicate 含数据变更关键词的谓词被拒绝
func TestList_ForbiddenPredicate(t *testing.T) {
	store := &fakeStore{}
	svc := NewQueryService(store, domain.NewMapper(), zap.NewNop())

	_, err := svc.List(context.Background(), ListRequest{Where: "1=1; DROP TABLE sensors"})
	require.Error(t, err)
	_, ok := err.(*domain.ValidationError)
	require.True(t, ok)
	require.Empty(t, store.queries)
}

// TestList_Defaults 默认谓词 1=1、默认倒序、默认行数上限
func TestList_Defaults(t *testing.T) {
	store := &fakeStore{
		queryFn: func(q arcgis.Query) (*arcgis.QueryResult, error) {
			return &arcgis.QueryResult{Features: []map[string]any{
				{"objectid": int64(1), "block_id": "b1"},
				{"objectid": int64(2), "block_id": "b2"},
			}}, nil
		},
	}
	svc := NewQueryService(store, domain.NewMapper(), zap.NewNop())

	result, err := svc.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
	require.Equal(t, "b1", result.Records[0]["block"])

	q := store.queries[0]
	require.Equal(t, "1=1", q.Where)
	require.Equal(t, "alarm_date DESC", q.OrderBy)
	require.Equal(t, defaultListLimit, q.Limit)
}

// TestList_BadOrderBy 排序表达式不合法 → ValidationError
func TestList_BadOrderBy(t *testing.T) {
	svc := NewQueryService(&fakeStore{}, domain.NewMapper(), zap.NewNop())

	_, err := svc.List(context.Background(), ListRequest{OrderBy: "alarm_date DESC; DROP"})
	require.Error(t, err)
	_, ok := err.(*domain.ValidationError)
	require.True(t, ok)
}
