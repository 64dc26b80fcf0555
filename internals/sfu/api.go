package sfu

import (
	"encoding/json"
	"net/http"

	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"go.uber.org/zap"
)

type CreateVideoRoomRequest struct {
	SessionID string `json:"sessionId"`
}

type apiError struct {
	Error   sfuerr.Code `json:"error"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusOf(code sfuerr.Code) int {
	switch code {
	case sfuerr.CodeUnauthorized:
		return http.StatusForbidden
	case sfuerr.CodeNotFound:
		return http.StatusNotFound
	case sfuerr.CodeAlreadyExists:
		return http.StatusConflict
	case sfuerr.CodeInvalidRequest:
		return http.StatusBadRequest
	case sfuerr.CodeResourceExhausted:
		return http.StatusServiceUnavailable
	case sfuerr.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := sfuerr.CodeOf(err)
	if code == sfuerr.CodeInternal {
		s.logger.Error("API request failed", zap.Error(err))
	}
	writeJSON(w, statusOf(code), apiError{Error: code, Message: sfuerr.MessageOf(err)})
}

// authenticate requires a verified bearer token.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := s.identify(r, true)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, apiError{Error: sfuerr.CodeUnauthorized, Message: sfuerr.MessageOf(err)})
		return "", false
	}
	return userID, true
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.rooms.List()
	stats := make([]map[string]interface{}, 0, len(rooms))
	for _, rm := range rooms {
		stats = append(stats, rm.Stats())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": stats, "total": len(stats)})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.rooms.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, sfuerr.New(sfuerr.CodeNotFound, "room not found"))
		return
	}
	writeJSON(w, http.StatusOK, rm.Stats())
}

func (s *Server) handleCreateVideoRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req CreateVideoRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		s.writeError(w, sfuerr.New(sfuerr.CodeInvalidRequest, "sessionId is required"))
		return
	}

	record, err := s.provisioner.Create(r.Context(), req.SessionID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetVideoRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	record, err := s.provisioner.Get(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleEndVideoRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	roomID := r.PathValue("id")
	record, err := s.provisioner.End(r.Context(), roomID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.endRoom(roomID)
	writeJSON(w, http.StatusOK, record)
}
