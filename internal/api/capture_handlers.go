package api

import (
	"net/http"
	"strings"
)

func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	entries, err := s.capture.List()
	if err != nil {
		s.logger.Error("failed to list captures", "error", err)
		jsonError(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"tasks": entries})
}

func (s *Server) handleCreateCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	entry, err := s.capture.Add(req.Text)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, http.StatusCreated, entry)
}

func (s *Server) handleDeleteCapture(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		jsonError(w, "task id is required", http.StatusBadRequest)
		return
	}
	if err := s.capture.Delete(id); err != nil {
		s.logger.Error("failed to delete capture", "id", id, "error", err)
		jsonError(w, "failed to delete task", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}
