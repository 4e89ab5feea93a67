package domain

import (
	"fmt"
	"time"
)

// Mapper 服务端字段名与远端表列名之间的双向转换。
// 20 个字段里 19 个同名，只有 block 在远端叫 block_id；
// alarm_date 在远端存 epoch 毫秒整数。
type Mapper struct {
	nowFn func() time.Time
}

// NewMapper 创建 Mapper
func NewMapper() *Mapper {
	return &Mapper{nowFn: time.Now}
}

// NewMapperWithClock 创建使用指定时钟的 Mapper（用于测试）
func NewMapperWithClock(nowFn func() time.Time) *Mapper {
	return &Mapper{nowFn: nowFn}
}

// ToStore 把校验过的读数转换成远端列名的属性表。
// record_created 在这里（而不是校验时）取当前时刻，反映实际写入延迟。
// alarm_date 解析失败返回 ValidationError，绝不回退成"当前时间"。
func (m *Mapper) ToStore(r *SensorReading) (map[string]any, error) {
	alarmDate, err := ParseAlarmDate(r.AlarmDate)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("field alarm_date is not a valid ISO-8601 timestamp: %q", r.AlarmDate))
	}

	attrs := map[string]any{
		"location":              r.Location,
		"node_id":               r.NodeID,
		"block_id":              r.Block,
		"level":                 r.Level,
		"ward":                  r.Ward,
		"asset_type":            r.AssetType,
		"asset_id":              r.AssetID,
		"alarm_code":            r.AlarmCode,
		"object_name":           r.ObjectName,
		"description":           r.Description,
		"alarm_status":          r.AlarmStatus,
		"event_state":           r.EventState,
		"alarm_date":            alarmDate.UnixMilli(),
		"present_value":         r.PresentValue,
		"threshold_value":       r.ThresholdValue,
		"min_value":             r.MinValue,
		"max_value":             r.MaxValue,
		"resolution":            r.Resolution,
		"units":                 r.Units,
		"device_type":           r.DeviceType,
		StoreFieldRecordCreated: m.nowFn().UnixMilli(),
	}
	return attrs, nil
}

// FromStore 把远端属性表转换回服务端字段名。
// block_id 还原为 block，objectid 对外叫 record_id，
// alarm_date 从 epoch 毫秒还原成 ISO-8601 UTC 字符串；null/缺失保持 null，不伪造值。
func (m *Mapper) FromStore(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch k {
		case "block_id":
			out["block"] = v
		case StoreFieldRecordID:
			out["record_id"] = v
		case "alarm_date":
			out["alarm_date"] = epochMillisToISO(v)
		default:
			out[k] = v
		}
	}
	return out
}

// epochMillisToISO epoch 毫秒 → ISO-8601 UTC 字符串；非数值（含 nil）原样返回
func epochMillisToISO(v any) any {
	ms, ok := asFloat(v)
	if !ok {
		return v
	}
	return time.UnixMilli(int64(ms)).UTC().Format("2006-01-02T15:04:05Z07:00")
}
