package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Jakey-Jakey/Bearsum/internal/registry"
)

// handleDownload serves the most recent consumed result for this session as
// a markdown attachment. The download cache is session-scoped and survives
// the one-shot registry consume, so the button keeps working after the page
// has shown the result.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	kind, ok := registry.ParseKind(r.URL.Query().Get("kind"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	sid, _ := s.webSession(w, r)
	text, ok := s.sessions.Artifact(sid, kind)
	if !ok {
		http.NotFound(w, r)
		return
	}

	filename := fmt.Sprintf("bearsum_%s_%s.md", kind, time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write([]byte(text))
}
