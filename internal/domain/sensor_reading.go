package domain

import "time"

// SensorReading 传感器读数（20 个必填属性，服务端字段名）
// asset_id 是历史查询的分组键，但不唯一：每次接入都会在远端新增一行。
type SensorReading struct {
	Location       string  `json:"location"`
	NodeID         string  `json:"node_id"`
	Block          string  `json:"block"`
	Level          int     `json:"level"`
	Ward           string  `json:"ward"`
	AssetType      string  `json:"asset_type"`
	AssetID        string  `json:"asset_id"`
	AlarmCode      int     `json:"alarm_code"`
	ObjectName     string  `json:"object_name"`
	Description    string  `json:"description"`
	AlarmStatus    string  `json:"alarm_status"`
	EventState     string  `json:"event_state"`
	AlarmDate      string  `json:"alarm_date"` // ISO-8601 字符串（线上格式，尾部 Z 视为 UTC）
	PresentValue   float64 `json:"present_value"`
	ThresholdValue float64 `json:"threshold_value"`
	MinValue       float64 `json:"min_value"`
	MaxValue       float64 `json:"max_value"`
	Resolution     float64 `json:"resolution"`
	Units          string  `json:"units"`
	DeviceType     string  `json:"device_type"`
}

// 远端表自动赋值的两个属性（只在读取结果中出现）
const (
	StoreFieldRecordID      = "objectid"       // 远端主键（单调递增，服务端对外叫 record_id）
	StoreFieldRecordCreated = "record_created" // 写入时刻（epoch 毫秒，与 alarm_date 无关）
)

// requiredFields 入站读数的 20 个必填字段（按 schema 顺序）
var requiredFields = []string{
	"location", "node_id", "block", "level", "ward", "asset_type", "asset_id",
	"alarm_code", "object_name", "description", "alarm_status", "event_state", "alarm_date",
	"present_value", "threshold_value", "min_value", "max_value", "resolution", "units",
	"device_type",
}

// stringFieldLimits 各字符串字段的最大长度（与远端表列定义一致）
var stringFieldLimits = []struct {
	Field string
	Max   int
}{
	{"location", 100},
	{"node_id", 50},
	{"block", 50},
	{"ward", 10},
	{"asset_type", 50},
	{"asset_id", 50},
	{"object_name", 100},
	{"description", 255},
	{"alarm_status", 20},
	{"event_state", 20},
	{"units", 20},
	{"device_type", 100},
}

// alarmDateLayouts 接受的 alarm_date 格式。RFC3339 覆盖尾部 Z / 显式时区；
// 无时区的时间按 UTC 解释。
var alarmDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseAlarmDate 解析 ISO-8601 时间字符串。无时区偏移时按 UTC 处理。
func ParseAlarmDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range alarmDateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
