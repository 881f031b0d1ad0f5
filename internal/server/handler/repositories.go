package handler

import (
	"net/http"

	"github.com/sevigo/build-warden/internal/core"
)

// RepositoriesHandler lists the repositories registered for builds.
type RepositoriesHandler struct {
	repos []core.RepositoryConfig
}

func NewRepositoriesHandler(repos []core.RepositoryConfig) *RepositoriesHandler {
	return &RepositoriesHandler{repos: repos}
}

func (h *RepositoriesHandler) List(w http.ResponseWriter, _ *http.Request) {
	out := h.repos
	if out == nil {
		out = []core.RepositoryConfig{}
	}
	writeJSON(w, http.StatusOK, out)
}
