package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Jakey-Jakey/Bearsum/internal/gitremote"
	"github.com/Jakey-Jakey/Bearsum/internal/llm"
	"github.com/Jakey-Jakey/Bearsum/internal/notify"
	"github.com/Jakey-Jakey/Bearsum/internal/observability"
	"github.com/Jakey-Jakey/Bearsum/internal/registry"
	"github.com/Jakey-Jakey/Bearsum/internal/upload"
)

const readmeContextLimit = 10000

// Fetcher is the content collaborator for story tasks.
type Fetcher interface {
	RecentCommits(ctx context.Context, ref gitremote.RepoRef, days, limit int) ([]gitremote.Commit, error)
	Readme(ctx context.Context, ref gitremote.RepoRef) (string, error)
}

// Service runs tasks to completion in the background. Each accepted task gets
// one dedicated goroutine, which is the sole writer of that task's record.
// Submission handlers hand over a validated snapshot and never hear from the
// worker again; progress flows through the broker and the Registry.
type Service struct {
	registry    *registry.Registry
	broker      notify.Broker
	generator   llm.Generator
	fetcher     Fetcher
	metrics     *observability.Metrics
	callTimeout time.Duration
}

func New(reg *registry.Registry, broker notify.Broker, generator llm.Generator, fetcher Fetcher, metrics *observability.Metrics, callTimeout time.Duration) *Service {
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	return &Service{
		registry:    reg,
		broker:      broker,
		generator:   generator,
		fetcher:     fetcher,
		metrics:     metrics,
		callTimeout: callTimeout,
	}
}

// StartSummary launches the worker for a file-summarization task. The staged
// files live under tempDir, which the worker owns and removes when done.
func (s *Service) StartSummary(task registry.Task, files []upload.StagedFile, level llm.Level, tempDir string) {
	go s.run(task, func() (string, error) {
		return s.summarize(task.ID, files, level)
	}, tempDir)
}

// StartStory launches the worker for a repository-story task. The ref was
// validated at submission time.
func (s *Service) StartStory(task registry.Task, ref gitremote.RepoRef) {
	go s.run(task, func() (string, error) {
		return s.tellStory(task.ID, ref)
	}, "")
}

// run is the common worker shell: it converts every failure mode, panics
// included, into the task's terminal error state, publishes exactly one
// terminal event last, and releases the task's temporary storage.
func (s *Service) run(task registry.Task, work func() (string, error), tempDir string) {
	log.Printf("task %s (%s): worker started", task.ID, task.Kind)
	defer func() {
		if tempDir != "" {
			if err := os.RemoveAll(tempDir); err != nil {
				log.Printf("task %s: temp dir cleanup failed: %v", task.ID, err)
			}
		}
	}()

	result, err := func() (out string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("a critical background error occurred: %v", r)
			}
		}()
		return work()
	}()

	if err != nil {
		message := userMessage(err)
		if regErr := s.registry.Fail(task.ID, message); regErr != nil {
			log.Printf("task %s: fail transition rejected: %v", task.ID, regErr)
		}
		log.Printf("task %s (%s): finished state=error: %v", task.ID, task.Kind, err)
		if s.metrics != nil {
			s.metrics.TasksFinished.WithLabelValues(string(task.Kind), string(registry.StateError)).Inc()
		}
		s.publish(task.ID, notify.Event{Type: notify.EventError, Message: message})
		return
	}

	if regErr := s.registry.Complete(task.ID, result); regErr != nil {
		log.Printf("task %s: complete transition rejected: %v", task.ID, regErr)
	}
	log.Printf("task %s (%s): finished state=completed (%d chars)", task.ID, task.Kind, len(result))
	if s.metrics != nil {
		s.metrics.TasksFinished.WithLabelValues(string(task.Kind), string(registry.StateCompleted)).Inc()
	}
	s.publish(task.ID, notify.Event{Type: notify.EventCompleted, Message: "Processing completed."})
}

func (s *Service) summarize(taskID string, files []upload.StagedFile, level llm.Level) (string, error) {
	s.status(taskID, "Initializing summarization...")

	type fileSummary struct {
		name    string
		summary string
	}
	var (
		valid   []fileSummary
		skipped []string
	)
	total := len(files)

	for i, f := range files {
		s.status(taskID, fmt.Sprintf("Processing file %d/%d: %q...", i+1, total, f.OriginalName))

		content, err := upload.ReadContent(f.Path)
		if err != nil {
			s.diagnostic(taskID, fmt.Sprintf("Could not read file %q; skipped.", f.OriginalName))
			skipped = append(skipped, f.OriginalName)
			continue
		}
		if strings.TrimSpace(content) == "" {
			s.diagnostic(taskID, fmt.Sprintf("Skipped %q: file is empty.", f.OriginalName))
			skipped = append(skipped, f.OriginalName)
			continue
		}

		s.status(taskID, fmt.Sprintf("Requesting summary for %q...", f.OriginalName))
		summary, err := s.withTimeout(func(ctx context.Context) (string, error) {
			return s.generator.InitialSummary(ctx, content)
		})
		if err != nil {
			s.diagnostic(taskID, fmt.Sprintf("Summarization failed for %q: %s", f.OriginalName, userMessage(err)))
			skipped = append(skipped, f.OriginalName)
			continue
		}
		valid = append(valid, fileSummary{name: f.OriginalName, summary: summary})
	}

	if len(valid) == 0 {
		return "", errors.New("could not generate summaries for any file")
	}

	s.status(taskID, fmt.Sprintf("Combining %d summaries (%s level)...", len(valid), level))
	var parts []string
	for _, fs := range valid {
		parts = append(parts, fmt.Sprintf("--- Summary for %s ---\n%s", fs.name, fs.summary))
	}

	start := time.Now()
	combined, err := s.withTimeout(func(ctx context.Context) (string, error) {
		return s.generator.CombinedSummary(ctx, strings.Join(parts, "\n\n"), level)
	})
	if err != nil {
		return "", fmt.Errorf("combining summaries: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveGenerateLatency(time.Since(start))
	}
	s.status(taskID, "Combined summary received.")

	if len(skipped) > 0 {
		combined += fmt.Sprintf("\n\nNote: the following files could not be summarized or were skipped: %s",
			strings.Join(skipped, ", "))
	}
	return combined, nil
}

func (s *Service) tellStory(taskID string, ref gitremote.RepoRef) (string, error) {
	s.status(taskID, fmt.Sprintf("Fetching README for %s...", ref))
	readme, err := s.withTimeout(func(ctx context.Context) (string, error) {
		return s.fetcher.Readme(ctx, ref)
	})
	if err != nil {
		// A missing or unreachable README degrades the story, it does not
		// kill the task.
		s.diagnostic(taskID, fmt.Sprintf("Could not fetch README (%s); story context may be limited.", userMessage(err)))
		readme = ""
	} else if readme != "" {
		s.status(taskID, "README found.")
	} else {
		s.status(taskID, "README not found. Proceeding without it.")
	}

	s.status(taskID, fmt.Sprintf("Fetching recent commits for %s...", ref))
	commits, err := s.withTimeout(func(ctx context.Context) (string, error) {
		cs, err := s.fetcher.RecentCommits(ctx, ref, 3, 30)
		if err != nil {
			return "", err
		}
		return formatCommits(cs), nil
	})
	if err != nil {
		return "", fmt.Errorf("fetching commits: %w", err)
	}

	if commits == "" && strings.TrimSpace(readme) == "" {
		return "", fmt.Errorf("no recent commits found and no README available for %q", ref.String())
	}

	s.status(taskID, "Formatting context for the storyteller...")
	var parts []string
	if readme != "" {
		truncated := readme
		if len(truncated) > readmeContextLimit {
			truncated = truncated[:readmeContextLimit] + "\n... (README truncated)"
		}
		parts = append(parts, "--- README CONTENT START ---\n"+truncated+"\n--- README CONTENT END ---")
	}
	if commits != "" {
		parts = append(parts, "--- COMMIT HISTORY START ---\n"+commits+"\n--- COMMIT HISTORY END ---")
	}

	s.status(taskID, "Asking the AI storyteller...")
	start := time.Now()
	story, err := s.withTimeout(func(ctx context.Context) (string, error) {
		return s.generator.RepoStory(ctx, ref.Name, strings.Join(parts, "\n\n"))
	})
	if err != nil {
		return "", fmt.Errorf("generating story: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveGenerateLatency(time.Since(start))
	}
	return story, nil
}

func formatCommits(commits []gitremote.Commit) string {
	if len(commits) == 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range commits {
		date := c.Date
		if t, err := time.Parse(time.RFC3339, c.Date); err == nil {
			date = t.UTC().Format("2006-01-02 15:04 UTC")
		}
		message := c.Message
		if len(message) > 100 {
			message = message[:100] + "..."
		}
		fmt.Fprintf(&b, "%d. Author: %s, Date: %s, Message: %s\n", i+1, c.Author, date, message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) withTimeout(call func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()
	return call(ctx)
}

// status publishes a progress event, best effort. The registry stays the
// source of truth, so a dropped status update costs nothing.
func (s *Service) status(taskID, message string) {
	s.publish(taskID, notify.Event{Type: notify.EventStatus, Message: message})
}

func (s *Service) publish(taskID string, event notify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.broker.Publish(ctx, taskID, event); err != nil {
		log.Printf("task %s: publish %s event failed: %v", taskID, event.Type, err)
		if s.metrics != nil {
			s.metrics.PublishFailures.Inc()
		}
	}
}

// diagnostic records a non-fatal problem on the task and mirrors it to the
// live stream.
func (s *Service) diagnostic(taskID, note string) {
	if err := s.registry.AppendDiagnostic(taskID, note); err != nil {
		log.Printf("task %s: diagnostic dropped: %v", taskID, err)
	}
	s.status(taskID, note)
}

// userMessage flattens collaborator errors into the plain-language string
// shown where the result would have appeared.
func userMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrAuth):
		return "The summarization service rejected our credentials."
	case errors.Is(err, llm.ErrRateLimited):
		return "The summarization service is rate limited. Please try again later."
	case errors.Is(err, llm.ErrTimeout):
		return "The summarization service timed out."
	case errors.Is(err, gitremote.ErrRepoNotFound):
		return "Repository not found or private."
	case errors.Is(err, gitremote.ErrRateLimited):
		return "GitHub API rate limit exceeded. Please wait and try again."
	case errors.Is(err, gitremote.ErrUnavailable):
		return "Could not reach the GitHub API."
	default:
		return err.Error()
	}
}
