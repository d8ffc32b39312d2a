package api

import (
	"time"

	"github.com/BaSui01/pyhost/execution"
	"github.com/BaSui01/pyhost/progress"
)

// =============================================================================
// 会话类型
// =============================================================================

// CreateSessionRequest registers a session. An empty SessionID gets a
// generated one; an empty EnvironmentID binds the default environment.
// @Description 创建会话请求
type CreateSessionRequest struct {
	SessionID     string `json:"session_id,omitempty" example:"analyst-1"`
	EnvironmentID string `json:"environment_id,omitempty" example:"default"`
	Notes         string `json:"notes,omitempty"`
}

// SessionResponse describes one session and whether it holds a namespace.
// @Description 会话信息
type SessionResponse struct {
	ID            string     `json:"id"`
	EnvironmentID string     `json:"environment_id"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastActivity  time.Time  `json:"last_activity"`
	Executions    int64      `json:"executions"`
	Success       bool       `json:"success"`
	Notes         string     `json:"notes,omitempty"`
}

// =============================================================================
// 执行类型
// =============================================================================

// ExecuteRequest runs a block of code.
// @Description 代码执行请求
type ExecuteRequest struct {
	Code string `json:"code" example:"print(1 + 1)" binding:"required"`
	// 超时秒数，0 使用默认值
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty" example:"30"`
}

// Timeout converts TimeoutSeconds.
func (r ExecuteRequest) Timeout() time.Duration { return seconds(r.TimeoutSeconds) }

// CommandRequest evaluates one expression.
// @Description 表达式求值请求
type CommandRequest struct {
	Expression     string  `json:"expression" example:"len(items)" binding:"required"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// Timeout converts TimeoutSeconds.
func (r CommandRequest) Timeout() time.Duration { return seconds(r.TimeoutSeconds) }

// VariablesRequest injects variables, runs code and reads result back.
// @Description 变量注入执行请求
type VariablesRequest struct {
	Code           string         `json:"code" binding:"required"`
	Variables      map[string]any `json:"variables"`
	TimeoutSeconds float64        `json:"timeout_seconds,omitempty"`
}

// Timeout converts TimeoutSeconds.
func (r VariablesRequest) Timeout() time.Duration { return seconds(r.TimeoutSeconds) }

// BatchRequest evaluates commands in order under one lock acquisition.
// @Description 批量执行请求
type BatchRequest struct {
	Commands       []string `json:"commands" binding:"required"`
	TimeoutSeconds float64  `json:"timeout_seconds,omitempty"`
}

// Timeout converts TimeoutSeconds.
func (r BatchRequest) Timeout() time.Duration { return seconds(r.TimeoutSeconds) }

// InteractiveRequest runs code segments one after another.
// @Description 交互式分段执行请求
type InteractiveRequest struct {
	Segments       []string `json:"segments" binding:"required"`
	StopOnError    bool     `json:"stop_on_error"`
	TimeoutSeconds float64  `json:"timeout_seconds,omitempty"`
}

// Timeout converts TimeoutSeconds.
func (r InteractiveRequest) Timeout() time.Duration { return seconds(r.TimeoutSeconds) }

// CommandResponse is the value of an evaluated expression.
// @Description 表达式求值结果
type CommandResponse struct {
	Value  any               `json:"value"`
	Result *execution.Result `json:"result"`
}

// InteractiveResponse lists the finished segments.
// @Description 交互式执行结果
type InteractiveResponse struct {
	Segments []execution.SegmentResult `json:"segments"`
	Success  bool                      `json:"success"`
}

// StopResponse counts the executions a stop request signalled.
// @Description 停止执行结果
type StopResponse struct {
	Signalled int `json:"signalled"`
}

// =============================================================================
// 流式执行类型（WebSocket）
// =============================================================================

// Stream modes accepted by the WebSocket endpoint.
const (
	StreamModeCode      = "code"
	StreamModeGenerator = "generator"
)

// StreamRequest is the first message a WebSocket client sends.
// @Description 流式执行请求
type StreamRequest struct {
	Mode           string  `json:"mode" example:"code"`
	Code           string  `json:"code"`
	EntryPoint     string  `json:"entry_point,omitempty" example:"main"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// Timeout converts TimeoutSeconds.
func (r StreamRequest) Timeout() time.Duration { return seconds(r.TimeoutSeconds) }

// Stream message types sent by the server.
const (
	StreamMessageEvent  = "event"
	StreamMessageItem   = "item"
	StreamMessageResult = "result"
	StreamMessageError  = "error"
)

// StreamMessage is one server-to-client WebSocket message.
// @Description 流式消息
type StreamMessage struct {
	Type   string            `json:"type"`
	Event  *progress.Event   `json:"event,omitempty"`
	Item   any               `json:"item,omitempty"`
	Result *execution.Result `json:"result,omitempty"`
	Error  *ErrorDetail      `json:"error,omitempty"`
}

// =============================================================================
// 环境类型
// =============================================================================

// CreateEnvironmentRequest registers an environment. An empty Path places
// its directory under the configured root.
// @Description 创建环境请求
type CreateEnvironmentRequest struct {
	Name string `json:"name" example:"analytics" binding:"required"`
	Path string `json:"path,omitempty"`
}

// InstallModuleRequest installs or replaces a .star module.
// @Description 安装模块请求
type InstallModuleRequest struct {
	Name   string `json:"name" example:"helpers.star" binding:"required"`
	Source string `json:"source" binding:"required"`
}

// =============================================================================
// 配置类型
// =============================================================================

// ConfigResponse is the redacted running configuration.
// @Description 当前配置
type ConfigResponse struct {
	Version int            `json:"version"`
	Config  map[string]any `json:"config"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorDetail 表示错误详细信息。
// @Description 错误详细结构
type ErrorDetail struct {
	Code      string `json:"code" example:"INVALID_REQUEST"`
	Message   string `json:"message" example:"code is required"`
	Retryable bool   `json:"retryable,omitempty"`
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
