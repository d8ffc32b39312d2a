package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/api"
	"github.com/BaSui01/pyhost/config"
	"github.com/BaSui01/pyhost/types"
)

// =============================================================================
// ⚙️ 配置管理 Handler
// =============================================================================

const defaultChangeLimit = 50

// ConfigHandler exposes the running configuration. Sensitive fields are
// always redacted.
type ConfigHandler struct {
	manager *config.HotReloadManager
	logger  *zap.Logger
}

// NewConfigHandler 创建配置 Handler
func NewConfigHandler(manager *config.HotReloadManager, logger *zap.Logger) *ConfigHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigHandler{
		manager: manager,
		logger:  logger.With(zap.String("handler", "config")),
	}
}

// RegisterRoutes mounts the configuration endpoints.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/config", h.HandleGet)
	mux.HandleFunc("POST /api/v1/config/reload", h.HandleReload)
	mux.HandleFunc("POST /api/v1/config/rollback", h.HandleRollback)
	mux.HandleFunc("GET /api/v1/config/changes", h.HandleChanges)
}

// HandleGet GET /api/v1/config
func (h *ConfigHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.manager.SanitizedConfig()
	if err != nil {
		WriteError(w, r, types.NewInternalError("render configuration", err), h.logger)
		return
	}
	WriteSuccess(w, r, api.ConfigResponse{Version: h.manager.Version(), Config: cfg})
}

// HandleReload POST /api/v1/config/reload re-reads the config file.
func (h *ConfigHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Reload("api"); err != nil {
		WriteError(w, r, types.NewInvalidRequestError("reload failed: "+err.Error()).WithCause(err), h.logger)
		return
	}
	h.HandleGet(w, r)
}

// HandleRollback POST /api/v1/config/rollback
func (h *ConfigHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Rollback(); err != nil {
		WriteError(w, r, types.NewInvalidRequestError("rollback failed: "+err.Error()).WithCause(err), h.logger)
		return
	}
	h.HandleGet(w, r)
}

// HandleChanges GET /api/v1/config/changes?limit=N
func (h *ConfigHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	limit := defaultChangeLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			WriteError(w, r, types.NewInvalidRequestError("limit must be a non-negative integer"), h.logger)
			return
		}
		limit = n
	}
	WriteSuccess(w, r, h.manager.ChangeLog(limit))
}
