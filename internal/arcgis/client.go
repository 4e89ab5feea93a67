package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 传输层失败 / 5xx 的重试预算：额外重试 2 次，退避基准每次翻倍
const (
	defaultMaxRetries = 2
	defaultRetryBase  = 500 * time.Millisecond
)

// Client Hosted Feature Service 的 CRUD 客户端。
// 每次调用注入当前 Token 和 f=json；重试策略由这一层统一持有。
type Client struct {
	http      *resty.Client
	layerPath string // /{layerIndex}，相对 Feature Service 地址
	tokens    *TokenManager
	logger    *zap.Logger

	maxRetries int
	retryBase  time.Duration
	sleep      func(time.Duration)
}

// AddResult 单行写入结果。远端的部分失败按行返回而不是抛异常，
// 由调用方决定如何对待部分成功（单条提交时退化为该条的成败）。
type AddResult struct {
	Index    int    `json:"index"`
	RecordID int64  `json:"record_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// QueryResult 查询结果（每行一个属性表）
type QueryResult struct {
	Features []map[string]any
}

type featurePayload struct {
	Attributes map[string]any `json:"attributes"`
}

type addResponse struct {
	AddResults []struct {
		ObjectID int64     `json:"objectId"`
		Success  bool      `json:"success"`
		Error    *apiError `json:"error"`
	} `json:"addResults"`
	Error *apiError `json:"error"`
}

type queryResponse struct {
	Features []featurePayload `json:"features"`
	Error    *apiError        `json:"error"`
}

// NewClient 创建 Feature Service 客户端。
// featureServiceURL 为服务地址，layerIndex 定位其中的目标表。
func NewClient(featureServiceURL string, layerIndex int, tokens *TokenManager, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(featureServiceURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:       client,
		layerPath:  fmt.Sprintf("/%d", layerIndex),
		tokens:     tokens,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
		sleep:      time.Sleep,
	}
}

// SetRetryForTest 覆盖重试参数（用于测试退避行为）
func (c *Client) SetRetryForTest(maxRetries int, base time.Duration, sleep func(time.Duration)) {
	c.maxRetries = maxRetries
	c.retryBase = base
	c.sleep = sleep
}

// Add 追加一批行。rollbackOnFailure=true：远端要么整批落盘要么整批回滚，
// 行级 success/error 仍逐行返回。
func (c *Client) Add(ctx context.Context, records []map[string]any) ([]AddResult, error) {
	features := make([]featurePayload, len(records))
	for i, attrs := range records {
		features[i] = featurePayload{Attributes: attrs}
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("marshal features: %w", err)
	}

	form := map[string]string{
		"f":                 "json",
		"features":          string(featuresJSON),
		"rollbackOnFailure": "true",
	}

	body, err := c.doPost(ctx, c.layerPath+"/addFeatures", form)
	if err != nil {
		return nil, err
	}

	var result addResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ServiceError{Code: 0, Message: "malformed addFeatures response"}
	}
	if result.Error != nil {
		return nil, &ServiceError{Code: result.Error.Code, Message: result.Error.Message}
	}

	out := make([]AddResult, len(result.AddResults))
	for i, r := range result.AddResults {
		out[i] = AddResult{Index: i, RecordID: r.ObjectID, Success: r.Success}
		if r.Error != nil {
			out[i].Error = r.Error.Message
		}
	}
	c.logger.Info("ArcGIS addFeatures completed",
		zap.Int("submitted", len(records)),
		zap.Int("results", len(out)),
	)
	return out, nil
}

// Query 按谓词查询。returnGeometry 恒为 false：这张表只有属性。
func (c *Client) Query(ctx context.Context, q Query) (*QueryResult, error) {
	outFields := "*"
	if len(q.OutFields) > 0 {
		outFields = strings.Join(q.OutFields, ",")
	}
	where := q.Where
	if where == "" {
		where = "1=1"
	}

	form := map[string]string{
		"f":              "json",
		"where":          where,
		"outFields":      outFields,
		"returnGeometry": "false",
	}
	if q.OrderBy != "" {
		form["orderByFields"] = q.OrderBy
	}
	if q.Limit > 0 {
		form["resultRecordCount"] = strconv.Itoa(q.Limit)
	}
	if q.Offset > 0 {
		form["resultOffset"] = strconv.Itoa(q.Offset)
	}

	body, err := c.doPost(ctx, c.layerPath+"/query", form)
	if err != nil {
		return nil, err
	}

	var result queryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ServiceError{Code: 0, Message: "malformed query response"}
	}
	if result.Error != nil {
		return nil, &ServiceError{Code: result.Error.Code, Message: result.Error.Message}
	}

	features := make([]map[string]any, len(result.Features))
	for i, f := range result.Features {
		features[i] = f.Attributes
	}
	return &QueryResult{Features: features}, nil
}

// doPost 统一的调用路径：注入 Token，按策略重试。
//   - 传输层失败 / 5xx 协议错误：最多再试 maxRetries 次，退避翻倍
//   - 403/498（Token 失效）：强制刷新一次并立即重试，不占用重试预算；再失败视为认证错误
//   - 400 类协议错误：调用方错误，立即返回
func (c *Client) doPost(ctx context.Context, path string, form map[string]string) ([]byte, error) {
	token, err := c.tokens.Token(ctx, false)
	if err != nil {
		return nil, err
	}

	refreshed := false
	attempt := 0
	var lastErr error
	for {
		form["token"] = token
		resp, err := c.http.R().
			SetContext(ctx).
			SetFormData(form).
			Post(path)
		if err != nil {
			lastErr = &TransientError{Op: path, Err: err}
			if attempt >= c.maxRetries {
				c.logger.Error("ArcGIS call failed after retries",
					zap.String("path", path),
					zap.Int("attempts", attempt+1),
					zap.Error(err),
				)
				return nil, lastErr
			}
			attempt++
			c.sleep(c.backoff(attempt))
			continue
		}

		body := resp.Body()
		var probe struct {
			Error *apiError `json:"error"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			if resp.StatusCode() >= 500 {
				lastErr = &ServiceError{Code: resp.StatusCode(), Message: "upstream failure"}
				if attempt >= c.maxRetries {
					return nil, lastErr
				}
				attempt++
				c.sleep(c.backoff(attempt))
				continue
			}
			return nil, &ServiceError{Code: resp.StatusCode(), Message: "malformed response"}
		}

		if probe.Error == nil {
			return body, nil
		}

		switch {
		case probe.Error.Code == 403 || probe.Error.Code == 498:
			if refreshed {
				return nil, &AuthError{Code: probe.Error.Code, Message: probe.Error.Message}
			}
			refreshed = true
			c.logger.Warn("ArcGIS token rejected, forcing refresh",
				zap.String("path", path),
				zap.Int("code", probe.Error.Code),
			)
			token, err = c.tokens.Token(ctx, true)
			if err != nil {
				return nil, err
			}
		case probe.Error.Code >= 500:
			lastErr = &ServiceError{Code: probe.Error.Code, Message: probe.Error.Message}
			if attempt >= c.maxRetries {
				return nil, lastErr
			}
			attempt++
			c.sleep(c.backoff(attempt))
		default:
			return nil, &ServiceError{Code: probe.Error.Code, Message: probe.Error.Message}
		}
	}
}

// backoff 第 n 次重试前的等待：base * 2^(n-1)
func (c *Client) backoff(attempt int) time.Duration {
	return c.retryBase << (attempt - 1)
}
