package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"league-sync-service/services"
)

// handleListMatches 获取比赛列表
func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	status := query.Get("status")
	if status != "" && !services.IsValidStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	matches, err := s.store.ListMatches(r.Context(), limit, offset, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"matches": matches,
		"limit":   limit,
		"offset":  offset,
	})
}

// handleGetMatch 获取单场比赛
func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}

	match, err := s.store.GetMatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "match not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, match)
}

// handleUnlockMatch 显式解锁：清除锁标志后，下一条自动消息可正常更新
func (s *Server) handleUnlockMatch(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}

	if err := s.store.Unlock(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "match not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"match_id": id,
		"locked":   false,
	})
}

func matchID(r *http.Request) (int64, error) {
	vars := mux.Vars(r)
	return strconv.ParseInt(vars["id"], 10, 64)
}
