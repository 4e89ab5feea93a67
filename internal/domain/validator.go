package domain

import (
	"fmt"
	"math"
	"strings"
)

// ValidationError 校验失败，Violations 携带全部违规项（一次性报告，不在第一条就截断）。
// 调用方可整改后重试；这一类错误永远不会在服务端自动重试。
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

// NewValidationError 构造单条违规的 ValidationError
func NewValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// intFields / floatFields 数值字段的类型约定
var intFields = []string{"level", "alarm_code"}
var floatFields = []string{"present_value", "threshold_value", "min_value", "max_value", "resolution"}

// Validate 按固定 schema 校验入站读数并返回类型化的 SensorReading。
// 校验顺序：必填字段 → 数值类型 → alarm_date 格式 → 取值范围 → 字符串长度。
// 所有违规累积在同一个 ValidationError 里返回。
func Validate(raw map[string]any) (*SensorReading, error) {
	var violations []string

	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			violations = append(violations, fmt.Sprintf("missing required field: %s", field))
		}
	}

	for _, field := range intFields {
		v, ok := raw[field]
		if !ok {
			continue
		}
		if _, ok := asInt(v); !ok {
			violations = append(violations, fmt.Sprintf("field %s must be an integer", field))
		}
	}
	for _, field := range floatFields {
		v, ok := raw[field]
		if !ok {
			continue
		}
		if _, ok := asFloat(v); !ok {
			violations = append(violations, fmt.Sprintf("field %s must be a number", field))
		}
	}

	if v, ok := raw["alarm_date"]; ok {
		if s, isStr := v.(string); !isStr {
			violations = append(violations, "field alarm_date must be an ISO-8601 timestamp string")
		} else if _, err := ParseAlarmDate(s); err != nil {
			violations = append(violations, fmt.Sprintf("field alarm_date is not a valid ISO-8601 timestamp: %q", s))
		}
	}

	minV, minOK := asFloat(raw["min_value"])
	maxV, maxOK := asFloat(raw["max_value"])
	presentV, presentOK := asFloat(raw["present_value"])
	if minOK && maxOK && minV >= maxV {
		violations = append(violations, fmt.Sprintf("min_value (%v) must be less than max_value (%v)", minV, maxV))
	}
	if minOK && maxOK && presentOK && minV < maxV {
		if presentV < minV || presentV > maxV {
			violations = append(violations, fmt.Sprintf("present_value (%v) must be within [min_value, max_value]", presentV))
		}
	}
	if resV, ok := asFloat(raw["resolution"]); ok && resV <= 0 {
		violations = append(violations, fmt.Sprintf("resolution (%v) must be greater than zero", resV))
	}

	for _, limit := range stringFieldLimits {
		v, ok := raw[limit.Field]
		if !ok {
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			violations = append(violations, fmt.Sprintf("field %s must be a string", limit.Field))
			continue
		}
		if len(s) > limit.Max {
			violations = append(violations, fmt.Sprintf("field %s exceeds maximum length %d", limit.Field, limit.Max))
		}
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	level, _ := asInt(raw["level"])
	alarmCode, _ := asInt(raw["alarm_code"])
	reading := &SensorReading{
		Location:       raw["location"].(string),
		NodeID:         raw["node_id"].(string),
		Block:          raw["block"].(string),
		Level:          level,
		Ward:           raw["ward"].(string),
		AssetType:      raw["asset_type"].(string),
		AssetID:        raw["asset_id"].(string),
		AlarmCode:      alarmCode,
		ObjectName:     raw["object_name"].(string),
		Description:    raw["description"].(string),
		AlarmStatus:    raw["alarm_status"].(string),
		EventState:     raw["event_state"].(string),
		AlarmDate:      raw["alarm_date"].(string),
		Units:          raw["units"].(string),
		DeviceType:     raw["device_type"].(string),
	}
	reading.PresentValue, _ = asFloat(raw["present_value"])
	reading.ThresholdValue, _ = asFloat(raw["threshold_value"])
	reading.MinValue = minV
	reading.MaxValue = maxV
	reading.Resolution, _ = asFloat(raw["resolution"])
	return reading, nil
}

// asFloat 宽容地取数值：JSON 反序列化出来的数字都是 float64，
// 代码内构造的 map 可能是 int/int64/float32。
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// asInt 整数类型校验：float64 只有在无小数部分时才算整数
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
