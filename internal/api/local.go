package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.io/infrasutra/mailstash/internal/mailfmt"
	"github.io/infrasutra/mailstash/internal/model"
	"github.io/infrasutra/mailstash/internal/pagination"
	"github.io/infrasutra/mailstash/internal/rules"
)

// handleLocalList pages through stored messages. q, category and archived
// narrow the list before paging; without them only the requested page is
// loaded.
func (s *Server) handleLocalList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := pagination.FromQuery(q)
	keyword := strings.TrimSpace(q.Get("q"))
	category := q.Get("category")
	archived, filterArchived := parseBool(q.Get("archived"))
	if keyword == "" && category == "" && !filterArchived {
		s.listLocalPage(w, r, params)
		return
	}

	messages, err := s.local.Store().All(r.Context())
	if err != nil {
		s.respondError(w, err, "list local messages")
		return
	}
	messages = slices.DeleteFunc(messages, func(msg model.StoredMessage) bool {
		if keyword != "" && !rules.MatchKeyword(msg.Message, keyword) {
			return true
		}
		if category != "" && !slices.Contains(msg.CategoryIDs, category) {
			return true
		}
		return filterArchived && msg.Archived != archived
	})
	if params.Sort == pagination.SortNewest {
		slices.Reverse(messages)
	}
	s.respondJSON(w, http.StatusOK, pagination.Slice(messages, params))
}

// listLocalPage pages over the index and loads the messages of one page.
func (s *Server) listLocalPage(w http.ResponseWriter, r *http.Request, params pagination.Params) {
	st := s.local.Store()
	entries, err := st.Entries(r.Context())
	if err != nil {
		s.respondError(w, err, "list local messages")
		return
	}
	if params.Sort == pagination.SortNewest {
		slices.Reverse(entries)
	}
	page := pagination.Slice(entries, params)
	items := make([]model.StoredMessage, 0, len(page.Items))
	for _, entry := range page.Items {
		msg, err := st.Get(r.Context(), entry.ID)
		if err != nil {
			s.respondError(w, err, "list local messages")
			return
		}
		if msg != nil {
			items = append(items, *msg)
		}
	}
	s.respondJSON(w, http.StatusOK, pagination.Page[model.StoredMessage]{
		Items:   items,
		Page:    page.Page,
		Limit:   page.Limit,
		Total:   page.Total,
		HasNext: page.HasNext,
	})
}

func (s *Server) handleLocalGet(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.loadLocal(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, msg)
}

type localUpdate struct {
	Archived    *bool     `json:"archived"`
	Seen        *bool     `json:"seen"`
	CategoryIDs *[]string `json:"categoryIds"`
}

// handleLocalUpdate changes the client-side flags of a stored message.
func (s *Server) handleLocalUpdate(w http.ResponseWriter, r *http.Request) {
	var payload localUpdate
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	msg, ok := s.loadLocal(w, r)
	if !ok {
		return
	}
	if payload.Archived != nil {
		msg.Archived = *payload.Archived
	}
	if payload.Seen != nil {
		msg.Seen = *payload.Seen
	}
	if payload.CategoryIDs != nil {
		msg.CategoryIDs = slices.Compact(slices.Sorted(slices.Values(*payload.CategoryIDs)))
	}
	if err := s.local.Update(r.Context(), *msg); err != nil {
		s.respondError(w, err, "update local message")
		return
	}
	s.respondJSON(w, http.StatusOK, msg)
}

func (s *Server) handleLocalDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := s.local.Remove(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err, "delete local message")
		return
	}
	if !removed {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLocalEML(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.loadLocal(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "message-"+safeName(msg.ID)+".eml"))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, mailfmt.ExportEML(*msg))
}

func (s *Server) handleLocalExportMBOX(w http.ResponseWriter, r *http.Request) {
	messages, err := s.local.Store().All(r.Context())
	if err != nil {
		s.respondError(w, err, "export local messages")
		return
	}
	w.Header().Set("Content-Type", "application/mbox")
	w.Header().Set("Content-Disposition", `attachment; filename="messages.mbox"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, mailfmt.ExportMBOX(messages))
}

// handleLocalImport accepts one EML document, or an mbox file when the
// request says application/mbox.
func (s *Server) handleLocalImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	var messages []model.StoredMessage
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/mbox" {
		imported, err := mailfmt.ImportMBOX(body)
		if err != nil {
			http.Error(w, "unable to read mbox", http.StatusBadRequest)
			return
		}
		messages = imported
	} else {
		data, err := io.ReadAll(body)
		if err != nil {
			http.Error(w, "unable to read body", http.StatusBadRequest)
			return
		}
		messages = []model.StoredMessage{mailfmt.ImportEML(string(data))}
	}
	saved, err := s.local.Import(r.Context(), messages)
	if err != nil {
		s.respondError(w, err, "import messages")
		return
	}
	s.respondJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleLocalInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.local.Store().StorageInfo(r.Context())
	if err != nil {
		s.respondError(w, err, "read storage info")
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleLocalCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.local.Cleanup(r.Context())
	if err != nil {
		s.respondError(w, err, "clean up local storage")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleLocalAutoArchive(w http.ResponseWriter, r *http.Request) {
	archived, err := s.local.AutoArchive(r.Context())
	if err != nil {
		s.respondError(w, err, "auto-archive")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"archived": archived})
}

func (s *Server) loadLocal(w http.ResponseWriter, r *http.Request) (*model.StoredMessage, bool) {
	msg, err := s.local.Store().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err, "load local message")
		return nil, false
	}
	if msg == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return msg, true
}

func parseBool(value string) (bool, bool) {
	parsed, err := strconv.ParseBool(value)
	return parsed, err == nil
}

// safeName keeps the characters that are harmless in a file name.
func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
}
