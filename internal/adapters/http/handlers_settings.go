package httpadapter

import (
	"net/http"

	"github.com/kirillkom/tomd/internal/core/domain"
)

func (rt *Router) getSettings(w http.ResponseWriter, r *http.Request) {
	view, err := rt.settings.View(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := rt.settings.Update(r.Context(), patch)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) clearAPIKey(w http.ResponseWriter, r *http.Request) {
	view, err := rt.settings.ClearAPIKey(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
