package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// handleIngest 接收一条入站消息并发布到队列。
// 管理后台的人工修正走这里进入流水线（source=manual）。
// 先做一次校验把格式错误挡在队列之外；流水线内部会再校验一次。
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	msg, err := s.validator.Validate(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// 入队载荷必须带上已分配的 message_id：流水线内部会再校验一次，
	// 返回给调用方的 id 要与死信/日志里记录的 id 一致
	var envelope map[string]interface{}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	envelope["message_id"] = msg.MessageID
	payload, err = json.Marshal(envelope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode message")
		return
	}

	if err := s.publisher.Publish(payload); err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue message")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message_id": msg.MessageID,
		"queued":     true,
	})
}

// handleListDeadLetters 获取死信列表
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	entries, err := s.store.ListDeadLetters(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"dead_letters": entries,
		"limit":        limit,
		"offset":       offset,
	})
}
