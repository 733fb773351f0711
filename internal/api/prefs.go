package api

import (
	"net/http"

	"github.io/infrasutra/mailstash/internal/model"
)

type prefsResponse struct {
	Theme           model.Theme      `json:"theme"`
	Categories      []model.Category `json:"categories"`
	Filters         []model.Filter   `json:"filters"`
	Pinned          []string         `json:"pinnedAddresses"`
	AutoArchiveDays int              `json:"autoArchiveDays"`
}

func (s *Server) handlePrefs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp prefsResponse
	var err error
	if resp.Theme, err = s.prefs.Theme(ctx); err != nil {
		s.respondError(w, err, "load preferences")
		return
	}
	if resp.Categories, err = s.prefs.Categories(ctx); err != nil {
		s.respondError(w, err, "load preferences")
		return
	}
	if resp.Filters, err = s.prefs.Filters(ctx); err != nil {
		s.respondError(w, err, "load preferences")
		return
	}
	if resp.Pinned, err = s.prefs.Pinned(ctx); err != nil {
		s.respondError(w, err, "load preferences")
		return
	}
	if resp.AutoArchiveDays, err = s.prefs.AutoArchiveDays(ctx); err != nil {
		s.respondError(w, err, "load preferences")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Theme model.Theme `json:"theme"`
	}
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	if err := s.prefs.SetTheme(r.Context(), payload.Theme); err != nil {
		s.respondError(w, err, "set theme")
		return
	}
	s.respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := s.prefs.ToggleTheme(r.Context())
	if err != nil {
		s.respondError(w, err, "toggle theme")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]model.Theme{"theme": theme})
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string   `json:"name"`
		Keywords []string `json:"keywords"`
	}
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	category, err := s.prefs.AddCategory(r.Context(), payload.Name, payload.Keywords)
	if err != nil {
		s.respondError(w, err, "add category")
		return
	}
	s.respondJSON(w, http.StatusCreated, category)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.prefs.DeleteCategory(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, err, "delete category")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddFilter(w http.ResponseWriter, r *http.Request) {
	var payload model.Filter
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	filter, err := s.prefs.AddFilter(r.Context(), payload)
	if err != nil {
		s.respondError(w, err, "add filter")
		return
	}
	s.respondJSON(w, http.StatusCreated, filter)
}

func (s *Server) handleDeleteFilter(w http.ResponseWriter, r *http.Request) {
	if err := s.prefs.DeleteFilter(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, err, "delete filter")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFilterEnabled(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	filter, err := s.prefs.SetFilterEnabled(r.Context(), r.PathValue("id"), payload.Enabled)
	if err != nil {
		s.respondError(w, err, "update filter")
		return
	}
	s.respondJSON(w, http.StatusOK, filter)
}

type addressPayload struct {
	Address string `json:"address"`
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	var payload addressPayload
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	pinned, err := s.prefs.Pin(r.Context(), payload.Address)
	if err != nil {
		s.respondError(w, err, "pin address")
		return
	}
	s.respondJSON(w, http.StatusOK, pinned)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	var payload addressPayload
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	pinned, err := s.prefs.Unpin(r.Context(), payload.Address)
	if err != nil {
		s.respondError(w, err, "unpin address")
		return
	}
	s.respondJSON(w, http.StatusOK, pinned)
}

func (s *Server) handleSetAutoArchive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Days int `json:"days"`
	}
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	days, err := s.prefs.SetAutoArchiveDays(r.Context(), payload.Days)
	if err != nil {
		s.respondError(w, err, "set auto-archive days")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"days": days})
}
