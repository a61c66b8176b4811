package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"llms-gateway/internal/provider"
	"llms-gateway/pkg/logging/logging"
)

// Reloader rebuilds and republishes the provider registry.
type Reloader interface {
	Reload(ctx context.Context) error
}

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	reloader Reloader
	registry Snapshots
}

func NewAdminHandler(reloader Reloader, registry Snapshots) *AdminHandler {
	return &AdminHandler{reloader: reloader, registry: registry}
}

type reloadResponse struct {
	provider.Status
	LoadedAt time.Time `json:"loaded_at"`
}

// Reload handles POST /admin/reload. On failure the previous registry stays
// published and the error is returned to the caller.
func (h *AdminHandler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	if err := h.reloader.Reload(ctx); err != nil {
		logger.Warn("admin reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ReloadFailed", err.Error())
		return
	}

	snap := h.registry.Snapshot()
	writeJSON(w, http.StatusOK, reloadResponse{Status: snap.Status(), LoadedAt: snap.LoadedAt()})
}
