package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/Jakey-Jakey/Bearsum/internal/config"
	"github.com/Jakey-Jakey/Bearsum/internal/gitremote"
	"github.com/Jakey-Jakey/Bearsum/internal/llm"
	"github.com/Jakey-Jakey/Bearsum/internal/notify"
	"github.com/Jakey-Jakey/Bearsum/internal/observability"
	"github.com/Jakey-Jakey/Bearsum/internal/registry"
	"github.com/Jakey-Jakey/Bearsum/internal/session"
	"github.com/Jakey-Jakey/Bearsum/internal/upload"
)

const cookieName = "bearsum_session"

// Launcher starts background workers for accepted tasks. Satisfied by
// *executor.Service.
type Launcher interface {
	StartSummary(task registry.Task, files []upload.StagedFile, level llm.Level, tempDir string)
	StartStory(task registry.Task, ref gitremote.RepoRef)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	registry *registry.Registry
	broker   notify.Broker
	launcher Launcher
	stager   *upload.Stager
	metrics  *observability.Metrics
	cookies  *sessions.CookieStore
	upgrader websocket.Upgrader
	markdown goldmark.Markdown
}

func New(cfg config.Config, mgr *session.Manager, reg *registry.Registry, broker notify.Broker, launcher Launcher, stager *upload.Stager, metrics *observability.Metrics) *Server {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		// Sessions won't survive a restart without a configured secret. Fine
		// for development, noisy on purpose.
		log.Printf("httpapi: APP_SESSION_SECRET not set, using a random per-process secret")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("httpapi: cannot generate session secret: " + err.Error())
		}
	}
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionIdleTimeout.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Server{
		cfg:      cfg,
		sessions: mgr,
		registry: reg,
		broker:   broker,
		launcher: launcher,
		stager:   stager,
		metrics:  metrics,
		cookies:  store,
		markdown: goldmark.New(goldmark.WithRendererOptions(gmhtml.WithHardWraps())),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections may attach to a task
				// stream. Non-browser clients omit Origin and are allowed.
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleIndex)
	r.Post("/tasks/{kind}", s.handleSubmit)
	r.Get("/stream", s.handleStream)
	r.Get("/stream/ws", s.handleStreamWS)
	r.Get("/artifact/download", s.handleDownload)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_tasks":    s.registry.Len(),
		"active_sessions": s.sessions.ActiveCount(),
	})
}

// webSession loads (or creates) the browser session and returns the internal
// session id plus the cookie session for flash handling. Callers must save
// the cookie session before writing the response body.
func (s *Server) webSession(w http.ResponseWriter, r *http.Request) (string, *sessions.Session) {
	cs, err := s.cookies.Get(r, cookieName)
	if err != nil {
		// Tampered or stale cookie: fall through with a fresh session.
		cs, _ = s.cookies.New(r, cookieName)
	}
	prior, _ := cs.Values["sid"].(string)
	sid := s.sessions.Ensure(prior)
	if sid != prior {
		cs.Values["sid"] = sid
		if err := cs.Save(r, w); err != nil {
			log.Printf("httpapi: session save failed: %v", err)
		}
	}
	return sid, cs
}

func (s *Server) flash(w http.ResponseWriter, r *http.Request, cs *sessions.Session, category, message string) {
	cs.AddFlash(category + "|" + message)
	if err := cs.Save(r, w); err != nil {
		log.Printf("httpapi: flash save failed: %v", err)
	}
}

type flashMessage struct {
	Category string
	Message  string
}

func (s *Server) takeFlashes(w http.ResponseWriter, r *http.Request, cs *sessions.Session) []flashMessage {
	raw := cs.Flashes()
	if len(raw) == 0 {
		return nil
	}
	if err := cs.Save(r, w); err != nil {
		log.Printf("httpapi: flash drain save failed: %v", err)
	}
	out := make([]flashMessage, 0, len(raw))
	for _, f := range raw {
		str, ok := f.(string)
		if !ok {
			continue
		}
		category, message, found := strings.Cut(str, "|")
		if !found {
			category, message = "info", str
		}
		out = append(out, flashMessage{Category: category, Message: message})
	}
	return out
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
