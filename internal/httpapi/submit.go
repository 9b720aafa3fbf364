package httpapi

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"github.com/Jakey-Jakey/Bearsum/internal/gitremote"
	"github.com/Jakey-Jakey/Bearsum/internal/llm"
	"github.com/Jakey-Jakey/Bearsum/internal/registry"
)

// handleSubmit accepts a new task of the kind named in the path, validates
// the request synchronously, and hands the work to a background worker. The
// response is always a redirect back to the main page; the browser follows
// it and lands on the live progress panel.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	kind, ok := registry.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	sid, cs := s.webSession(w, r)

	switch kind {
	case registry.KindSummary:
		s.submitSummary(w, r, cs, sid)
	case registry.KindStory:
		s.submitStory(w, r, cs, sid)
	}
}

func (s *Server) submitSummary(w http.ResponseWriter, r *http.Request, cs *sessions.Session, sid string) {
	// The per-file cap is enforced by the stager; this bounds the request
	// body as a whole.
	maxBody := int64(s.stager.MaxFiles()+1) * int64(s.stager.MaxFileSizeMB()) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(maxBody); err != nil {
		s.flash(w, r, cs, "error", "Upload too large or malformed.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.flash(w, r, cs, "error", "No files selected.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	level, ok := llm.ParseLevel(r.FormValue("summary_level"))
	if !ok {
		s.flash(w, r, cs, "error", "Unknown summary level.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	tempDir, err := os.MkdirTemp(s.cfg.UploadDir, "bearsum-upload-*")
	if err != nil {
		log.Printf("httpapi: temp dir: %v", err)
		s.flash(w, r, cs, "error", "Could not stage the upload. Please try again.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	staged, rejections := s.stager.Stage(headers, tempDir)
	for _, reason := range rejections {
		s.flash(w, r, cs, "warning", reason)
	}
	if len(staged) == 0 {
		_ = os.RemoveAll(tempDir)
		s.flash(w, r, cs, "error", "None of the uploaded files could be accepted.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	task := s.registry.Create(registry.KindSummary)
	s.sessions.Bind(sid, registry.KindSummary, task.ID)
	if s.metrics != nil {
		s.metrics.TasksCreated.WithLabelValues(string(registry.KindSummary)).Inc()
	}
	s.launcher.StartSummary(task, staged, level, tempDir)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) submitStory(w http.ResponseWriter, r *http.Request, cs *sessions.Session, sid string) {
	repoURL := strings.TrimSpace(r.FormValue("repo_url"))
	if repoURL == "" {
		s.flash(w, r, cs, "error", "Please provide a repository URL.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	ref, err := gitremote.ParseRepoURL(repoURL)
	if err != nil {
		if errors.Is(err, gitremote.ErrMalformedURL) {
			s.flash(w, r, cs, "error", "That does not look like a GitHub repository URL.")
		} else {
			s.flash(w, r, cs, "error", err.Error())
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	task := s.registry.Create(registry.KindStory)
	s.sessions.Bind(sid, registry.KindStory, task.ID)
	if s.metrics != nil {
		s.metrics.TasksCreated.WithLabelValues(string(registry.KindStory)).Inc()
	}
	s.launcher.StartStory(task, ref)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}
