package web

import (
	"net/http"
	"strconv"

	"github.com/nxclaw/nxclaw/internal/memory"
)

func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	writeJSON(w, map[string]any{"ok": true, "stats": s.deps.Memory.GetStats()})
}

func (s *Server) handleMemoryRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	entries := s.deps.Memory.GetRecent(limitParam(r, 20, 200))
	writeJSON(w, map[string]any{"ok": true, "entries": entries})
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	opts := memory.SearchOptions{
		SessionKey: r.URL.Query().Get("sessionKey"),
		Mode:       memory.ModeGlobal,
	}
	if r.URL.Query().Get("mode") == string(memory.ModeSessionStrict) {
		opts.Mode = memory.ModeSessionStrict
	}
	results, err := s.deps.Memory.Search(r.Context(), query, limitParam(r, 10, 50), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true, "results": results})
}

func (s *Server) handleMemoryNote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var req struct {
		Title   string   `json:"title"`
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid note payload: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	note, err := s.deps.Memory.AddNote(memory.NoteInput{
		Title:   req.Title,
		Content: req.Content,
		Source:  "dashboard",
		Tags:    req.Tags,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true, "note": note})
}

func (s *Server) handleMemoryCompact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid compact payload: "+err.Error())
			return
		}
	}
	var (
		compacted bool
		err       error
	)
	if req.Force {
		compacted, err = s.deps.Memory.CompactNow(r.Context())
	} else {
		compacted, err = s.deps.Memory.CompactIfNeeded(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"ok": true, "compacted": compacted}
	if !compacted {
		if req.Force {
			resp["reason"] = "nothing older than the keep-recent tail"
		} else {
			resp["reason"] = "below compaction threshold"
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleMemorySync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	if err := s.deps.Memory.SyncKnowledgeIndex(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true, "stats": s.deps.Memory.GetStats()})
}

func (s *Server) handleMemorySoul(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		soul, err := s.deps.Memory.ReadSoul()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"ok": true, "soul": soul})
	case http.MethodPost:
		var req struct {
			Content string `json:"content"`
			Replace bool   `json:"replace"`
		}
		if err := decodeBody(r, &req); err != nil || req.Content == "" {
			writeError(w, http.StatusBadRequest, "content is required")
			return
		}
		if err := s.deps.Memory.WriteSoul(req.Content, req.Replace); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusBadRequest, "method not allowed")
	}
}
