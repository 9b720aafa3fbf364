package httpapi

import (
	"bytes"
	"embed"
	"html/template"
	"log"
	"net/http"

	"github.com/Jakey-Jakey/Bearsum/internal/registry"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

var indexTemplate = template.Must(template.ParseFS(embeddedTemplates, "templates/index.html"))

// panelView is what the page shows for one task kind: either nothing, a live
// progress panel bound to a stream channel, or a finished result.
type panelView struct {
	Waiting      bool
	ChannelID    string
	Result       template.HTML
	ErrorMessage string
	Diagnostics  []string
	HasArtifact  bool
}

type indexView struct {
	Flashes       []flashMessage
	Summary       panelView
	Story         panelView
	MaxFiles      int
	MaxFileSizeMB int
}

// handleIndex renders the main page. Pending results are consumed here: a
// completed task bound to this session is removed from the registry the
// first time the page shows it, and later reloads start from a blank panel.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sid, cs := s.webSession(w, r)

	view := indexView{
		MaxFiles:      s.stager.MaxFiles(),
		MaxFileSizeMB: s.stager.MaxFileSizeMB(),
	}
	view.Summary = s.resolvePanel(sid, registry.KindSummary)
	view.Story = s.resolvePanel(sid, registry.KindStory)
	view.Flashes = s.takeFlashes(w, r, cs)

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, view); err != nil {
		log.Printf("httpapi: render index: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// resolvePanel applies the handoff rules for one kind. The binding is the
// session's claim on a task; the registry stays authoritative for state.
func (s *Server) resolvePanel(sid string, kind registry.Kind) panelView {
	taskID, bound := s.sessions.Peek(sid, kind)
	if !bound {
		_, hasArtifact := s.sessions.Artifact(sid, kind)
		return panelView{HasArtifact: hasArtifact}
	}

	task, ok := s.registry.Get(taskID)
	if !ok {
		// The worker's record already expired or was claimed elsewhere. Drop
		// the stale binding and show the idle panel.
		s.sessions.Unbind(sid, kind)
		_, hasArtifact := s.sessions.Artifact(sid, kind)
		return panelView{HasArtifact: hasArtifact}
	}

	if !task.Terminal() {
		return panelView{Waiting: true, ChannelID: taskID}
	}

	// Terminal: claim the result exactly once, then release the binding.
	task, ok = s.registry.Consume(taskID)
	s.sessions.Unbind(sid, kind)
	if !ok {
		_, hasArtifact := s.sessions.Artifact(sid, kind)
		return panelView{HasArtifact: hasArtifact}
	}

	switch task.State {
	case registry.StateCompleted:
		s.sessions.PutArtifact(sid, kind, task.Result)
		return panelView{
			Result:      s.renderMarkdown(task.Result),
			Diagnostics: task.Diagnostics,
			HasArtifact: true,
		}
	default:
		return panelView{ErrorMessage: task.Result, Diagnostics: task.Diagnostics}
	}
}

func (s *Server) renderMarkdown(source string) template.HTML {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(source), &buf); err != nil {
		log.Printf("httpapi: markdown render failed: %v", err)
		return template.HTML(template.HTMLEscapeString(source))
	}
	return template.HTML(buf.String())
}
