package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/api"
	"github.com/BaSui01/pyhost/environment"
)

// EnvironmentHandler 管理环境与模块
type EnvironmentHandler struct {
	manager *environment.Manager
	logger  *zap.Logger
}

// NewEnvironmentHandler 创建环境 Handler
func NewEnvironmentHandler(manager *environment.Manager, logger *zap.Logger) *EnvironmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnvironmentHandler{
		manager: manager,
		logger:  logger.With(zap.String("handler", "environment")),
	}
}

// RegisterRoutes mounts the environment endpoints.
func (h *EnvironmentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/environments", h.HandleList)
	mux.HandleFunc("POST /api/v1/environments", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/environments/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/environments/{id}", h.HandleDelete)
	mux.HandleFunc("GET /api/v1/environments/{id}/modules", h.HandleListModules)
	mux.HandleFunc("POST /api/v1/environments/{id}/modules", h.HandleInstallModule)
	mux.HandleFunc("DELETE /api/v1/environments/{id}/modules/{name}", h.HandleRemoveModule)
}

func (h *EnvironmentHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, environment.AsTypesError(err), h.logger)
}

// HandleList GET /api/v1/environments
func (h *EnvironmentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	envs, err := h.manager.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteSuccess(w, r, envs)
}

// HandleCreate POST /api/v1/environments
func (h *EnvironmentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateEnvironmentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	env, err := h.manager.Create(r.Context(), req.Name, req.Path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteSuccessStatus(w, r, http.StatusCreated, env)
}

// HandleGet GET /api/v1/environments/{id}
func (h *EnvironmentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	env, err := h.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteSuccess(w, r, env)
}

// HandleDelete DELETE /api/v1/environments/{id}?remove_files=true
func (h *EnvironmentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removeFiles, _ := strconv.ParseBool(r.URL.Query().Get("remove_files"))
	if err := h.manager.Delete(r.Context(), id, removeFiles); err != nil {
		h.fail(w, r, err)
		return
	}
	WriteSuccess(w, r, map[string]any{"id": id, "files_removed": removeFiles})
}

// HandleListModules GET /api/v1/environments/{id}/modules
func (h *EnvironmentHandler) HandleListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.manager.ListModules(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteSuccess(w, r, modules)
}

// HandleInstallModule POST /api/v1/environments/{id}/modules
func (h *EnvironmentHandler) HandleInstallModule(w http.ResponseWriter, r *http.Request) {
	var req api.InstallModuleRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	info, err := h.manager.InstallModule(r.Context(), r.PathValue("id"), req.Name, req.Source)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteSuccessStatus(w, r, http.StatusCreated, info)
}

// HandleRemoveModule DELETE /api/v1/environments/{id}/modules/{name}
func (h *EnvironmentHandler) HandleRemoveModule(w http.ResponseWriter, r *http.Request) {
	id, name := r.PathValue("id"), r.PathValue("name")
	if err := h.manager.RemoveModule(r.Context(), id, name); err != nil {
		h.fail(w, r, err)
		return
	}
	WriteSuccess(w, r, map[string]string{"environment_id": id, "module": name})
}
