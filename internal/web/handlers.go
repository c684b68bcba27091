package web

import (
	"encoding/json"
	"net/http"

	"github.com/nxclaw/nxclaw/internal/runtime"
)

// writeJSON writes a 200 JSON body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}

// writeError writes the uniform {ok:false,error} failure envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	writeJSON(w, s.deps.Runtime.GetState(true))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetConfig == nil {
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"ok": true, "settings": s.deps.GetConfig()})
	case http.MethodPost:
		// The patch is merged over the active configuration, so absent
		// keys keep their current values.
		updated := s.deps.GetConfig()
		if err := decodeBody(r, &updated); err != nil {
			writeError(w, http.StatusBadRequest, "invalid settings payload: "+err.Error())
			return
		}
		if s.deps.ApplyConfig == nil {
			writeError(w, http.StatusInternalServerError, "settings are read-only")
			return
		}
		if err := s.deps.ApplyConfig(updated); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"ok": true, "settings": updated})
	default:
		writeError(w, http.StatusBadRequest, "method not allowed")
	}
}

type promptRequest struct {
	Text      string `json:"text"`
	Source    string `json:"source"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var req promptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid prompt payload: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Source == "" {
		req.Source = "web"
	}
	if req.ChannelID == "" {
		req.ChannelID = "dashboard"
	}
	reply := s.deps.Runtime.HandleIncoming(r.Context(), runtime.Incoming{
		Source:    req.Source,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	}, req.Text)
	writeJSON(w, map[string]any{"ok": true, "reply": reply})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"ok": true, "sessions": s.deps.Runtime.ListConversationSessions()})
	case http.MethodPost:
		var req struct {
			Source    string `json:"source"`
			ChannelID string `json:"channelId"`
			SessionID string `json:"sessionId"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid session payload: "+err.Error())
			return
		}
		if req.Source == "" || req.ChannelID == "" {
			writeError(w, http.StatusBadRequest, "source and channelId are required")
			return
		}
		info, err := s.deps.Runtime.CreateConversationSession(runtime.Incoming{
			Source:    req.Source,
			ChannelID: req.ChannelID,
			SessionID: req.SessionID,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"ok": true, "session": info})
	default:
		writeError(w, http.StatusBadRequest, "method not allowed")
	}
}

func (s *Server) handleSessionArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var req struct {
		LaneKey string `json:"laneKey"`
	}
	if err := decodeBody(r, &req); err != nil || req.LaneKey == "" {
		writeError(w, http.StatusBadRequest, "laneKey is required")
		return
	}
	if err := s.deps.Runtime.ArchiveConversationSession(req.LaneKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}
