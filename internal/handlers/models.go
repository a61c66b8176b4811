package handlers

import (
	"net/http"

	"llms-gateway/internal/llm"
	"llms-gateway/internal/provider"
)

// Snapshots hands out the currently published provider set.
type Snapshots interface {
	Snapshot() *provider.Snapshot
}

// ModelsHandler serves the model listing and provider status endpoints.
type ModelsHandler struct {
	registry Snapshots
}

func NewModelsHandler(registry Snapshots) *ModelsHandler {
	return &ModelsHandler{registry: registry}
}

type modelObject struct {
	ID            string       `json:"id"`
	Object        string       `json:"object"`
	Created       int64        `json:"created"`
	OwnedBy       string       `json:"owned_by"`
	ProviderModel string       `json:"provider_model"`
	Pricing       *llm.Pricing `json:"pricing,omitempty"`
}

type modelList struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

// OpenAIModels handles GET /v1/models in the OpenAI list shape. Each alias
// is attributed to the first provider serving it.
func (h *ModelsHandler) OpenAIModels(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()
	created := snap.LoadedAt().Unix()

	active := snap.ActiveModels()
	out := modelList{Object: "list", Data: make([]modelObject, 0, len(active))}
	for _, m := range active {
		out.Data = append(out.Data, modelObject{
			ID:            m.ID,
			Object:        "model",
			Created:       created,
			OwnedBy:       m.Provider,
			ProviderModel: m.ProviderModel,
			Pricing:       m.Pricing,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ActiveModels handles GET /models.
func (h *ModelsHandler) ActiveModels(w http.ResponseWriter, r *http.Request) {
	active := h.registry.Snapshot().ActiveModels()
	if active == nil {
		active = []provider.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, active)
}

// ModelIDs handles GET /models/list: every alias served by any provider.
func (h *ModelsHandler) ModelIDs(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.Snapshot().Models()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// Status handles GET /status.
func (h *ModelsHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Snapshot().Status())
}
