// Package ctxkeys 定义跨包共享的 context 键。
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	sessionIDKey   contextKey = "session_id"
	executionIDKey contextKey = "execution_id"
	principalKey   contextKey = "principal"
)

func with(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) { return get(ctx, requestIDKey) }

// WithSessionID 设置会话 ID
func WithSessionID(ctx context.Context, id string) context.Context {
	return with(ctx, sessionIDKey, id)
}

// SessionID 获取会话 ID
func SessionID(ctx context.Context) (string, bool) { return get(ctx, sessionIDKey) }

// WithExecutionID 设置执行 ID
func WithExecutionID(ctx context.Context, id string) context.Context {
	return with(ctx, executionIDKey, id)
}

// ExecutionID 获取执行 ID
func ExecutionID(ctx context.Context) (string, bool) { return get(ctx, executionIDKey) }

// WithPrincipal 设置认证主体（API Key 名或 JWT subject）
func WithPrincipal(ctx context.Context, p string) context.Context {
	return with(ctx, principalKey, p)
}

// Principal 获取认证主体
func Principal(ctx context.Context) (string, bool) { return get(ctx, principalKey) }
