package arcgis

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"arcgis-bridge/internal/store"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// expiryBuffer 本地过期时刻 = 当前时刻 + 有效期 − 缓冲。
// 不采用服务端报告的过期时刻，避免一个调用进行到一半时 Token 失效。
const expiryBuffer = 5 * time.Minute

// tokenCacheKey 跨 worker 共享缓存里的会话键
const tokenCacheKey = "arcgis:session"

// TokenManager ArcGIS 认证会话管理器。
// 持有进程内的 Token 缓存（mutex 保护 check-then-refresh），
// 可选挂一个 Redis KV 作为多 worker 间的共享缓存。
// 并发刷新是冗余而非错误：远端允许同时存在多个有效 Token。
type TokenManager struct {
	http     *resty.Client
	username string
	password string
	validity time.Duration
	cache    store.KV
	logger   *zap.Logger
	nowFn    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// tokenResponse generateToken 的响应：成功带 token/expires，失败带 error
type tokenResponse struct {
	Token   string    `json:"token"`
	Expires int64     `json:"expires"`
	Error   *apiError `json:"error"`
}

// cachedSession 共享缓存里的会话序列化形式
type cachedSession struct {
	Token    string `json:"token"`
	ExpiryMS int64  `json:"expiry_ms"`
}

// NewTokenManager 创建 TokenManager。orgURL 为组织门户地址；
// validity 是向远端申请的 Token 有效期；cache 可以为 nil（只用进程内缓存）。
func NewTokenManager(orgURL, username, password string, validity, timeout time.Duration, cache store.KV, logger *zap.Logger) *TokenManager {
	client := resty.New().
		SetBaseURL(orgURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &TokenManager{
		http:     client,
		username: username,
		password: password,
		validity: validity,
		cache:    cache,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// SetClockForTest 替换时钟（用于测试过期缓冲）
func (m *TokenManager) SetClockForTest(nowFn func() time.Time) {
	m.nowFn = nowFn
}

// Token 返回当前有效的 Token。缓存命中且未到本地过期时刻时直接复用；
// forceRefresh=true 无条件绕过缓存（下游调用遇到 403 后用它作废可疑 Token）。
func (m *TokenManager) Token(ctx context.Context, forceRefresh bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if !forceRefresh {
		if m.token != "" && now.Before(m.expiry) {
			return m.token, nil
		}
		if tok, expiry, ok := m.fromSharedCache(ctx, now); ok {
			m.token = tok
			m.expiry = expiry
			return tok, nil
		}
	}

	token, err := m.exchange(ctx)
	if err != nil {
		return "", err
	}

	m.token = token
	m.expiry = now.Add(m.validity - expiryBuffer)
	m.toSharedCache(ctx, token, m.expiry)

	m.logger.Info("Obtained ArcGIS token",
		zap.Time("expiry", m.expiry),
		zap.Bool("forced", forceRefresh),
	)
	return token, nil
}

// Expiry 当前缓存 Token 的本地过期时刻（健康检查用）
func (m *TokenManager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiry
}

// exchange 执行凭据交换。client=requestip 是 serverless 宿主要求的调用方 IP 绑定参数。
func (m *TokenManager) exchange(ctx context.Context) (string, error) {
	resp, err := m.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username":   m.username,
			"password":   m.password,
			"client":     "requestip",
			"f":          "json",
			"expiration": strconv.Itoa(int(m.validity.Minutes())),
		}).
		Post("/sharing/rest/generateToken")
	if err != nil {
		m.logger.Error("ArcGIS token exchange failed", zap.Error(err))
		return "", &TransientError{Op: "generateToken", Err: err}
	}

	var result tokenResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", &ServiceError{Code: resp.StatusCode(), Message: "malformed token response"}
	}
	if result.Error != nil {
		m.logger.Error("ArcGIS token exchange rejected",
			zap.Int("code", result.Error.Code),
			zap.String("message", result.Error.Message),
		)
		return "", &AuthError{Code: result.Error.Code, Message: result.Error.Message}
	}
	if result.Token == "" {
		return "", &ServiceError{Code: resp.StatusCode(), Message: "token response missing token"}
	}
	return result.Token, nil
}

// TestConnection 健康检查探活：用当前 Token 请求门户信息
func (m *TokenManager) TestConnection(ctx context.Context) (map[string]any, error) {
	token, err := m.Token(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, err := m.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"f": "json", "token": token}).
		Get("/sharing/rest/portals/self")
	if err != nil {
		return nil, &TransientError{Op: "portals/self", Err: err}
	}

	var result struct {
		Name  string    `json:"name"`
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &ServiceError{Code: resp.StatusCode(), Message: "malformed portal response"}
	}
	if result.Error != nil {
		return nil, &ServiceError{Code: result.Error.Code, Message: result.Error.Message}
	}
	return map[string]any{"org_name": result.Name}, nil
}

// fromSharedCache 从共享缓存取会话；已过本地过期时刻的会话视为未命中
func (m *TokenManager) fromSharedCache(ctx context.Context, now time.Time) (string, time.Time, bool) {
	if m.cache == nil {
		return "", time.Time{}, false
	}
	raw, err := m.cache.Get(ctx, tokenCacheKey)
	if err != nil {
		if err != store.ErrMiss {
			m.logger.Warn("Shared token cache read failed", zap.Error(err))
		}
		return "", time.Time{}, false
	}
	var s cachedSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return "", time.Time{}, false
	}
	expiry := time.UnixMilli(s.ExpiryMS)
	if s.Token == "" || !now.Before(expiry) {
		return "", time.Time{}, false
	}
	return s.Token, expiry, true
}

// toSharedCache 把新会话写入共享缓存（尽力而为，失败只记日志）
func (m *TokenManager) toSharedCache(ctx context.Context, token string, expiry time.Time) {
	if m.cache == nil {
		return
	}
	raw, _ := json.Marshal(cachedSession{Token: token, ExpiryMS: expiry.UnixMilli()})
	ttl := expiry.Sub(m.nowFn())
	if ttl <= 0 {
		return
	}
	if err := m.cache.Set(ctx, tokenCacheKey, string(raw), ttl); err != nil {
		m.logger.Warn("Shared token cache write failed", zap.Error(err))
	}
}
