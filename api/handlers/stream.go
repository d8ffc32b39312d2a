package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/api"
	"github.com/BaSui01/pyhost/execution"
	"github.com/BaSui01/pyhost/internal/channel"
	"github.com/BaSui01/pyhost/progress"
	"github.com/BaSui01/pyhost/types"
)

// =============================================================================
// 📡 WebSocket 流式执行 Handler
// =============================================================================

const (
	streamReadTimeout  = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
	streamReadLimit    = 1 << 20
)

// StreamHandler runs one execution per WebSocket connection and streams its
// progress. The client sends a single api.StreamRequest; the server answers
// with event and item messages followed by exactly one result message.
// Closing the connection cancels the execution.
type StreamHandler struct {
	coord          *execution.Coordinator
	logger         *zap.Logger
	originPatterns []string
}

// NewStreamHandler creates the handler. originPatterns are passed to the
// WebSocket origin check; empty allows same-origin requests only.
func NewStreamHandler(coord *execution.Coordinator, originPatterns []string, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		coord:          coord,
		logger:         logger.With(zap.String("handler", "stream")),
		originPatterns: originPatterns,
	}
}

// RegisterRoutes mounts the streaming endpoint.
func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sessions/{id}/stream", h.HandleStream)
}

// HandleStream GET /api/v1/sessions/{id}/stream
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	id, r := sessionID(r)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(streamReadLimit)

	readCtx, cancelRead := context.WithTimeout(r.Context(), streamReadTimeout)
	var req api.StreamRequest
	err = wsjson.Read(readCtx, conn, &req)
	cancelRead()
	if err != nil {
		h.logger.Debug("stream request not received", zap.String("session_id", id), zap.Error(err))
		conn.Close(websocket.StatusPolicyViolation, "expected a stream request")
		return
	}
	if err := validateStreamRequest(req); err != nil {
		h.send(r.Context(), conn, api.StreamMessage{Type: api.StreamMessageError, Error: errorDetail(err)})
		conn.Close(websocket.StatusPolicyViolation, "invalid stream request")
		return
	}

	// the connection is write-only from here; a client close cancels ctx
	ctx := conn.CloseRead(r.Context())

	out := channel.NewRelay[api.StreamMessage]()
	writerDone := make(chan struct{})
	writeCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()
	go func() {
		defer close(writerDone)
		_ = out.Drain(writeCtx, func(m api.StreamMessage) {
			if err := h.send(writeCtx, conn, m); err != nil {
				// client is gone; stop the execution
				cancelExec()
			}
		})
	}()

	sink := progress.SinkFunc(func(e progress.Event) {
		if e.Type == progress.EventItem {
			return
		}
		ev := e
		out.Push(api.StreamMessage{Type: api.StreamMessageEvent, Event: &ev})
	})
	opts := execution.ExecOptions{Timeout: req.Timeout(), Sink: sink}

	var res *execution.Result
	switch req.Mode {
	case api.StreamModeGenerator:
		res, err = h.coord.ExecuteGenerator(writeCtx, id, req.Code, req.EntryPoint, func(item any) error {
			out.Push(api.StreamMessage{Type: api.StreamMessageItem, Item: item})
			return nil
		}, opts)
	default:
		res, err = h.coord.ExecuteCode(writeCtx, id, req.Code, opts)
	}

	if res != nil {
		out.Push(api.StreamMessage{Type: api.StreamMessageResult, Result: res})
	}
	if err != nil {
		out.Push(api.StreamMessage{Type: api.StreamMessageError, Error: errorDetail(err)})
	}
	out.Close()
	<-writerDone

	if writeCtx.Err() != nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, "execution finished")
}

func (h *StreamHandler) send(ctx context.Context, conn *websocket.Conn, m api.StreamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, m); err != nil {
		h.logger.Debug("stream write failed", zap.String("type", m.Type), zap.Error(err))
		return err
	}
	return nil
}

func validateStreamRequest(req api.StreamRequest) error {
	switch req.Mode {
	case api.StreamModeCode, "":
	case api.StreamModeGenerator:
		if strings.TrimSpace(req.EntryPoint) == "" {
			return types.NewInvalidRequestError("entry_point is required for generator mode")
		}
	default:
		return types.NewInvalidRequestError("mode must be code or generator")
	}
	if strings.TrimSpace(req.Code) == "" {
		return types.NewInvalidRequestError("code is required")
	}
	return nil
}

func errorDetail(err error) *api.ErrorDetail {
	var e *types.Error
	if !errors.As(err, &e) {
		return &api.ErrorDetail{Code: string(types.ErrInternalError), Message: "internal error"}
	}
	return &api.ErrorDetail{Code: string(e.Code), Message: e.Message, Retryable: e.Retryable}
}
