package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/api"
	"github.com/BaSui01/pyhost/execution"
	"github.com/BaSui01/pyhost/internal/ctxkeys"
	"github.com/BaSui01/pyhost/session"
	"github.com/BaSui01/pyhost/types"
)

// =============================================================================
// 🐍 会话与执行 Handler
// =============================================================================

// SessionHandler exposes the coordinator's sessions and execution modes.
type SessionHandler struct {
	coord  *execution.Coordinator
	envs   execution.EnvironmentResolver
	logger *zap.Logger
}

// NewSessionHandler creates the handler. envs validates the environment of
// new sessions; nil accepts any environment ID.
func NewSessionHandler(coord *execution.Coordinator, envs execution.EnvironmentResolver, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		coord:  coord,
		envs:   envs,
		logger: logger.With(zap.String("handler", "session")),
	}
}

// RegisterRoutes mounts the session and execution endpoints.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions", h.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/sessions/{id}/execute", h.HandleExecute)
	mux.HandleFunc("POST /api/v1/sessions/{id}/command", h.HandleCommand)
	mux.HandleFunc("POST /api/v1/sessions/{id}/variables", h.HandleVariables)
	mux.HandleFunc("POST /api/v1/sessions/{id}/batch", h.HandleBatch)
	mux.HandleFunc("POST /api/v1/sessions/{id}/interactive", h.HandleInteractive)
	mux.HandleFunc("POST /api/v1/sessions/{id}/stop", h.HandleStopSession)
	mux.HandleFunc("POST /api/v1/stop", h.HandleStopAll)
	mux.HandleFunc("GET /api/v1/executions", h.HandleInflight)
}

// sessionID reads the {id} path value and records it in the context.
func sessionID(r *http.Request) (string, *http.Request) {
	id := r.PathValue("id")
	return id, r.WithContext(ctxkeys.WithSessionID(r.Context(), id))
}

func toSessionResponse(s *session.Session) api.SessionResponse {
	return api.SessionResponse{
		ID:            s.ID,
		EnvironmentID: s.EnvironmentID,
		Status:        string(s.Status),
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		LastActivity:  s.LastActivity,
		Executions:    s.Executions,
		Success:       s.Success,
		Notes:         s.Notes,
	}
}

// =============================================================================
// 📋 会话管理
// =============================================================================

// HandleCreate POST /api/v1/sessions
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	envID := req.EnvironmentID
	if h.envs != nil {
		env, err := h.envs.Resolve(r.Context(), envID)
		if err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
		envID = env.ID
	}

	s, err := h.coord.Registry().Register(r.Context(), req.SessionID, envID, req.Notes)
	if err != nil {
		WriteError(w, r, sessionError(err, req.SessionID), h.logger)
		return
	}
	WriteSuccessStatus(w, r, http.StatusCreated, toSessionResponse(s))
}

// HandleList GET /api/v1/sessions
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list := h.coord.Registry().List()
	out := make([]api.SessionResponse, len(list))
	for i, s := range list {
		out[i] = toSessionResponse(s)
	}
	WriteSuccess(w, r, out)
}

// HandleGet GET /api/v1/sessions/{id}
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, r := sessionID(r)
	s, ok := h.coord.Registry().Get(id)
	if !ok {
		WriteError(w, r, sessionError(session.ErrSessionNotFound, id), h.logger)
		return
	}
	WriteSuccess(w, r, toSessionResponse(s))
}

// HandleDelete DELETE /api/v1/sessions/{id}
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, r := sessionID(r)
	if err := h.coord.CleanupSession(r.Context(), id); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]string{"session_id": id, "status": "cleaned_up"})
}

// =============================================================================
// ▶️ 执行
// =============================================================================

// HandleExecute POST /api/v1/sessions/{id}/execute
func (h *SessionHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	id, r := sessionID(r)
	var req api.ExecuteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	res, err := h.coord.ExecuteCode(r.Context(), id, req.Code, execution.ExecOptions{Timeout: req.Timeout()})
	h.writeResult(w, r, res, err)
}

// HandleCommand POST /api/v1/sessions/{id}/command
func (h *SessionHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	id, r := sessionID(r)
	var req api.CommandRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	res, err := h.coord.EvaluateCommand(r.Context(), id, req.Expression, execution.ExecOptions{Timeout: req.Timeout()})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	resp := api.CommandResponse{Result: res}
	if res.Success {
		resp.Value = res.Value
	}
	WriteSuccess(w, r, resp)
}

// HandleVariables POST /api/v1/sessions/{id}/variables
func (h *SessionHandler) HandleVariables(w http.ResponseWriter, r *http.Request) {
	id, r := sessionID(r)
	var req api.VariablesRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	res, err := h.coord.ExecuteWithVariablesOptions(r.Context(), id, req.Code, req.Variables,
		execution.ExecOptions{Timeout: req.Timeout()})
	h.writeResult(w, r, res, err)
}

// HandleBatch POST /api/v1/sessions/{id}/batch
func (h *SessionHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	id, r := sessionID(r)
	var req api.BatchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	res, err := h.coord.ExecuteBatchOptions(r.Context(), id, req.Commands, execution.ExecOptions{Timeout: req.Timeout()})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}

// HandleInteractive POST /api/v1/sessions/{id}/interactive
func (h *SessionHandler) HandleInteractive(w http.ResponseWriter, r *http.Request) {
	id, r := sessionID(r)
	var req api.InteractiveRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	segments, err := h.coord.ExecuteInteractive(r.Context(), id, req.Segments, req.StopOnError,
		execution.ExecOptions{Timeout: req.Timeout()})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	ok := true
	for _, s := range segments {
		ok = ok && s.Success
	}
	WriteSuccess(w, r, api.InteractiveResponse{Segments: segments, Success: ok && len(segments) == len(req.Segments)})
}

// writeResult answers with the result, or the error envelope when the
// coordinator rejected the call. Interpreter faults, timeouts and
// cancellations are results, not errors.
func (h *SessionHandler) writeResult(w http.ResponseWriter, r *http.Request, res *execution.Result, err error) {
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}

// =============================================================================
// ⏹️ 停止
// =============================================================================

// HandleStopSession POST /api/v1/sessions/{id}/stop
func (h *SessionHandler) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	id, r := sessionID(r)
	if _, ok := h.coord.Registry().Get(id); !ok {
		WriteError(w, r, sessionError(session.ErrSessionNotFound, id), h.logger)
		return
	}
	WriteSuccess(w, r, api.StopResponse{Signalled: h.coord.StopSession(id)})
}

// HandleStopAll POST /api/v1/stop
func (h *SessionHandler) HandleStopAll(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, api.StopResponse{Signalled: h.coord.StopExecution()})
}

// HandleInflight GET /api/v1/executions
func (h *SessionHandler) HandleInflight(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.coord.Inflight())
}

// sessionError maps registry sentinels to API errors.
func sessionError(err error, id string) error {
	var code types.ErrorCode
	switch {
	case errors.Is(err, session.ErrSessionExists):
		code = types.ErrSessionExists
	case errors.Is(err, session.ErrSessionNotFound):
		code = types.ErrSessionNotFound
	case errors.Is(err, session.ErrInvalidID):
		code = types.ErrInvalidRequest
	default:
		return types.NewInternalError("session operation failed", err).WithSession(id)
	}
	return types.NewError(code, err.Error()).
		WithCause(err).
		WithSession(id).
		WithHTTPStatus(types.HTTPStatusFor(code))
}
