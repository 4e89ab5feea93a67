package arcgis

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FieldAlarmDate 历史查询的排序/游标字段（远端列名）
const FieldAlarmDate = "alarm_date"

// defaultOrder 未指定排序时按告警时间倒序（"最新在前"是两类读操作的默认意图）
const defaultOrder = FieldAlarmDate + " DESC"

// Query 一次远端查询的全部参数
type Query struct {
	Where     string
	OutFields []string
	OrderBy   string
	Limit     int
	Offset    int
}

// mutatingKeywords 谓词黑名单。远端协议只接受内联谓词，无法参数化，
// 这层过滤是纵深防御：任何含数据变更关键词的谓词在发出前就被拒绝。
var mutatingKeywords = regexp.MustCompile(`(?i)\b(drop|delete|truncate|update|insert)\b`)

// ValidateWhere 校验外部传入的谓词字符串
func ValidateWhere(where string) error {
	if m := mutatingKeywords.FindString(where); m != "" {
		return fmt.Errorf("predicate contains forbidden keyword %q", strings.ToLower(m))
	}
	return nil
}

var orderByPattern = regexp.MustCompile(`^[A-Za-z0-9_]+( +(?i:ASC|DESC))?$`)
var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateOrderBy 排序参数只允许 "字段名 [ASC|DESC]"
func ValidateOrderBy(orderBy string) error {
	if !orderByPattern.MatchString(strings.TrimSpace(orderBy)) {
		return fmt.Errorf("invalid order_by expression %q", orderBy)
	}
	return nil
}

// ValidateOutFields 字段列表只允许合法列名或 "*"
func ValidateOutFields(fields []string) error {
	for _, f := range fields {
		if f == "*" {
			continue
		}
		if !fieldNamePattern.MatchString(f) {
			return fmt.Errorf("invalid field name %q", f)
		}
	}
	return nil
}

// QueryBuilder 从结构化的过滤意图构造谓词和排序/分页参数。
// 游标分页（Before + 默认倒序）是推荐策略：远端协议的 offset 在超过
// 单次查询记录上限后不可靠。
type QueryBuilder struct {
	conds   []string
	orderBy string
	limit   int
	offset  int
}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// Equals 等值过滤：field = 'value'，单引号翻倍转义
func (b *QueryBuilder) Equals(field, value string) *QueryBuilder {
	b.conds = append(b.conds, fmt.Sprintf("%s = '%s'", field, escapeLiteral(value)))
	return b
}

// DateFrom 日期下界：field >= ts
func (b *QueryBuilder) DateFrom(field string, t time.Time) *QueryBuilder {
	b.conds = append(b.conds, fmt.Sprintf("%s >= %s", field, timestampLiteral(t)))
	return b
}

// DateTo 日期上界：field <= ts
func (b *QueryBuilder) DateTo(field string, t time.Time) *QueryBuilder {
	b.conds = append(b.conds, fmt.Sprintf("%s <= %s", field, timestampLiteral(t)))
	return b
}

// Before 游标分页：field < last_seen，配合倒序遍历不重不漏
func (b *QueryBuilder) Before(field string, t time.Time) *QueryBuilder {
	b.conds = append(b.conds, fmt.Sprintf("%s < %s", field, timestampLiteral(t)))
	return b
}

// OrderByDesc 指定倒序排序字段
func (b *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	b.orderBy = field + " DESC"
	return b
}

// OrderByAsc 指定正序排序字段
func (b *QueryBuilder) OrderByAsc(field string) *QueryBuilder {
	b.orderBy = field + " ASC"
	return b
}

// Limit 单次查询返回的最大行数
func (b *QueryBuilder) Limit(n int) *QueryBuilder {
	b.limit = n
	return b
}

// Offset 偏移分页（超过远端单次查询记录上限后不可靠，优先用 Before 游标）
func (b *QueryBuilder) Offset(n int) *QueryBuilder {
	b.offset = n
	return b
}

// Build 产出查询参数。无过滤条件时谓词为 "1=1"，未指定排序时默认 alarm_date DESC。
func (b *QueryBuilder) Build(outFields ...string) Query {
	where := "1=1"
	if len(b.conds) > 0 {
		where = strings.Join(b.conds, " AND ")
	}
	order := b.orderBy
	if order == "" {
		order = defaultOrder
	}
	return Query{
		Where:     where,
		OutFields: outFields,
		OrderBy:   order,
		Limit:     b.limit,
		Offset:    b.offset,
	}
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// timestampLiteral 远端 SQL 方言的时间字面量（UTC）
func timestampLiteral(t time.Time) string {
	return fmt.Sprintf("TIMESTAMP '%s'", t.UTC().Format("2006-01-02 15:04:05"))
}
