package api

import (
	"net/http"
	"strconv"
	"strings"
)

func (s *Server) handleRemoteList(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.remoteToken(w, r)
	if !ok {
		return
	}
	if keyword := strings.TrimSpace(r.URL.Query().Get("q")); keyword != "" {
		messages, err := s.remote.FilterMessages(r.Context(), tok, keyword)
		if err != nil {
			s.respondError(w, err, "list messages")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"messages": messages, "total": len(messages)})
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	result, err := s.remote.Messages(r.Context(), tok, page)
	if err != nil {
		s.respondError(w, err, "list messages")
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRemoteGet(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.remoteToken(w, r)
	if !ok {
		return
	}
	msg, err := s.remote.Message(r.Context(), tok, r.PathValue("id"))
	if err != nil {
		s.respondError(w, err, "load message")
		return
	}
	s.respondJSON(w, http.StatusOK, msg)
}

func (s *Server) handleRemoteDelete(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.remoteToken(w, r)
	if !ok {
		return
	}
	if err := s.remote.DeleteMessage(r.Context(), tok, r.PathValue("id")); err != nil {
		s.respondError(w, err, "delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoteSeen(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.remoteToken(w, r)
	if !ok {
		return
	}
	msg, err := s.remote.MarkSeen(r.Context(), tok, r.PathValue("id"))
	if err != nil {
		s.respondError(w, err, "mark message seen")
		return
	}
	s.respondJSON(w, http.StatusOK, msg)
}

// handleRemoteSave keeps a local copy of a remote message.
func (s *Server) handleRemoteSave(w http.ResponseWriter, r *http.Request) {
	tok, ok := s.remoteToken(w, r)
	if !ok {
		return
	}
	msg, err := s.remote.Message(r.Context(), tok, r.PathValue("id"))
	if err != nil {
		s.respondError(w, err, "load message")
		return
	}
	kept, err := s.local.Keep(r.Context(), msg)
	if err != nil {
		s.respondError(w, err, "save message")
		return
	}
	s.respondJSON(w, http.StatusCreated, kept)
}
