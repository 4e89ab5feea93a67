package arcgis

import "fmt"

// apiError ArcGIS REST 协议的错误对象（token 交换和 CRUD 响应共用同一形状）
type apiError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// AuthError 认证失败：凭据配置错误，或强制刷新一次后 Token 仍被拒绝。
// 不可通过重试恢复，对外映射为 500。
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("arcgis authentication failed (code %d): %s", e.Code, e.Message)
}

// ServiceError 远端拒绝了本次操作。按协议错误码区分：
// 400 类是调用方错误（谓词非法等），不重试；5xx 在重试预算耗尽后向上抛出。
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("arcgis service error (code %d): %s", e.Code, e.Message)
}

// Retryable 5xx 为远端侧故障，允许按客户端退避策略重试
func (e *ServiceError) Retryable() bool {
	return e.Code >= 500
}

// TransientError 传输层失败（超时/连接重置）。客户端按退避策略重试，
// 预算耗尽后带原始错误向上抛出。
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("arcgis %s: transient network failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
