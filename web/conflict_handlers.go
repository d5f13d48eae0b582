package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"league-sync-service/services"
)

// handleListConflicts 冲突面板：默认只返回未处理的冲突
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("include_resolved") == "true"

	conflicts, err := s.store.ListConflicts(r.Context(), includeResolved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"conflicts": conflicts,
	})
}

// handleResolveConflict 标记冲突已人工处理
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conflict id")
		return
	}

	if err := s.store.ResolveConflict(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conflict not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"conflict_id": id,
		"resolved":    true,
	})
}
