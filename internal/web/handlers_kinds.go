package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/source"
	"github.com/JonMunkholm/importer/internal/store"
)

var errHistoryDisabled = errors.New("run history is not enabled")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.LimiterStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_imports": status.Active,
		"ws_clients":     s.hub.Count(),
	})
}

func (s *Server) handleListKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListKinds())
}

// handleDownloadTemplate returns an empty workbook with the kind's header.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	def, ok := core.Get(kind)
	if !ok {
		fail(w, r, fmt.Errorf("%w: %s", core.ErrUnknownKind, kind))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_template.xlsx"`, kind))
	if err := source.WriteTemplate(w, def.Columns); err != nil {
		logRequestError(r, "write template", err)
	}
}

// handleListRuns lists finished runs, newest first. Query: kind, limit.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, r, errHistoryDisabled, http.StatusNotImplemented)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.history.ListRuns(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunFailedRows(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, r, errHistoryDisabled, http.StatusNotImplemented)
		return
	}

	rows, err := s.history.ListFailedRows(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []core.FailedRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}
