package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Jakey-Jakey/Bearsum/internal/gitremote"
	"github.com/Jakey-Jakey/Bearsum/internal/llm"
	"github.com/Jakey-Jakey/Bearsum/internal/notify"
	"github.com/Jakey-Jakey/Bearsum/internal/registry"
	"github.com/Jakey-Jakey/Bearsum/internal/upload"
)

type fakeGenerator struct {
	initialErr  error
	combinedErr error
	storyErr    error
	failFor     map[string]error // keyed on input substring
}

func (f *fakeGenerator) InitialSummary(_ context.Context, text string) (string, error) {
	for needle, err := range f.failFor {
		if strings.Contains(text, needle) {
			return "", err
		}
	}
	if f.initialErr != nil {
		return "", f.initialErr
	}
	return "summary of " + strings.TrimSpace(text), nil
}

func (f *fakeGenerator) CombinedSummary(_ context.Context, summaries string, level llm.Level) (string, error) {
	if f.combinedErr != nil {
		return "", f.combinedErr
	}
	return "combined(" + string(level) + "): " + summaries, nil
}

func (f *fakeGenerator) RepoStory(_ context.Context, repoName, contextData string) (string, error) {
	if f.storyErr != nil {
		return "", f.storyErr
	}
	return "once upon a time in " + repoName + " [" + contextData + "]", nil
}

type fakeFetcher struct {
	commits    []gitremote.Commit
	commitsErr error
	readme     string
	readmeErr  error
}

func (f *fakeFetcher) RecentCommits(context.Context, gitremote.RepoRef, int, int) ([]gitremote.Commit, error) {
	return f.commits, f.commitsErr
}

func (f *fakeFetcher) Readme(context.Context, gitremote.RepoRef) (string, error) {
	return f.readme, f.readmeErr
}

type harness struct {
	registry *registry.Registry
	broker   *notify.MemoryBroker
	service  *Service
}

func newHarness(t *testing.T, gen llm.Generator, fetch Fetcher) *harness {
	t.Helper()
	reg := registry.New(time.Hour)
	broker := notify.NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })
	return &harness{
		registry: reg,
		broker:   broker,
		service:  New(reg, broker, gen, fetch, nil, 5*time.Second),
	}
}

func stageFiles(t *testing.T, contents map[string]string) (string, []upload.StagedFile) {
	t.Helper()
	dir := t.TempDir()
	var files []upload.StagedFile
	for name, content := range contents {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
		files = append(files, upload.StagedFile{OriginalName: name, Path: path, Size: int64(len(content))})
	}
	return dir, files
}

// drainUntilTerminal reads events until a terminal one arrives, failing the
// test if none shows up in time.
func drainUntilTerminal(t *testing.T, events <-chan notify.Event) []notify.Event {
	t.Helper()
	var got []notify.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed before terminal event; got %v", got)
			}
			got = append(got, ev)
			if ev.Terminal() {
				return got
			}
		case <-deadline:
			t.Fatalf("no terminal event within deadline; got %v", got)
		}
	}
}

func waitTerminal(t *testing.T, reg *registry.Registry, id string) registry.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := reg.Get(id)
		if !ok {
			t.Fatalf("Get(%s): task missing", id)
		}
		if task.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return registry.Task{}
}

func TestSummaryHappyPath(t *testing.T) {
	h := newHarness(t, &llm.Mock{}, nil)
	_, files := stageFiles(t, map[string]string{
		"a.txt": "alpha content",
		"b.md":  "beta content",
	})

	task := h.registry.Create(registry.KindSummary)
	events, cancel, err := h.broker.Subscribe(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel()

	h.service.StartSummary(task, files, llm.LevelMedium, "")

	got := drainUntilTerminal(t, events)
	last := got[len(got)-1]
	if last.Type != notify.EventCompleted {
		t.Fatalf("terminal event = %s, want %s", last.Type, notify.EventCompleted)
	}
	for _, ev := range got[:len(got)-1] {
		if ev.Terminal() {
			t.Fatalf("terminal event %v arrived before the end of the stream", ev)
		}
	}

	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateCompleted {
		t.Fatalf("task state = %s, want %s", final.State, registry.StateCompleted)
	}
	if !strings.Contains(final.Result, "a.txt") || !strings.Contains(final.Result, "b.md") {
		t.Fatalf("result does not mention both files: %q", final.Result)
	}
	if len(final.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", final.Diagnostics)
	}
}

func TestSummaryToleratesPartialFailure(t *testing.T) {
	gen := &fakeGenerator{failFor: map[string]error{"poison": llm.ErrUpstream}}
	h := newHarness(t, gen, nil)
	_, files := stageFiles(t, map[string]string{
		"good1.txt": "first fine file",
		"good2.txt": "second fine file",
		"good3.txt": "third fine file",
		"bad.txt":   "poison pill",
		"empty.txt": "   ",
	})

	task := h.registry.Create(registry.KindSummary)
	h.service.StartSummary(task, files, llm.LevelShort, "")

	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateCompleted {
		t.Fatalf("task state = %s, want %s (diagnostics: %v)", final.State, registry.StateCompleted, final.Diagnostics)
	}
	if len(final.Diagnostics) != 2 {
		t.Fatalf("len(Diagnostics) = %d, want 2: %v", len(final.Diagnostics), final.Diagnostics)
	}
	if !strings.Contains(final.Result, "could not be summarized or were skipped") {
		t.Fatalf("result missing skipped-files note: %q", final.Result)
	}
	if !strings.Contains(final.Result, "bad.txt") || !strings.Contains(final.Result, "empty.txt") {
		t.Fatalf("skipped-files note missing names: %q", final.Result)
	}
}

func TestSummaryFailsWhenNothingSummarizes(t *testing.T) {
	gen := &fakeGenerator{initialErr: llm.ErrUpstream}
	h := newHarness(t, gen, nil)
	_, files := stageFiles(t, map[string]string{"only.txt": "content"})

	task := h.registry.Create(registry.KindSummary)
	events, cancel, err := h.broker.Subscribe(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel()

	h.service.StartSummary(task, files, llm.LevelMedium, "")

	got := drainUntilTerminal(t, events)
	if got[len(got)-1].Type != notify.EventError {
		t.Fatalf("terminal event = %s, want %s", got[len(got)-1].Type, notify.EventError)
	}
	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateError {
		t.Fatalf("task state = %s, want %s", final.State, registry.StateError)
	}
	if final.Result == "" {
		t.Fatal("error task has empty result message")
	}
}

func TestSummaryUnreadableFileBecomesDiagnostic(t *testing.T) {
	h := newHarness(t, &llm.Mock{}, nil)
	_, files := stageFiles(t, map[string]string{"ok.txt": "hello"})
	files = append(files, upload.StagedFile{OriginalName: "gone.txt", Path: filepath.Join(t.TempDir(), "missing")})

	task := h.registry.Create(registry.KindSummary)
	h.service.StartSummary(task, files, llm.LevelMedium, "")

	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateCompleted {
		t.Fatalf("task state = %s, want %s", final.State, registry.StateCompleted)
	}
	if len(final.Diagnostics) != 1 || !strings.Contains(final.Diagnostics[0], "gone.txt") {
		t.Fatalf("Diagnostics = %v, want one entry about gone.txt", final.Diagnostics)
	}
}

func TestSummaryCombineFailureIsFatal(t *testing.T) {
	gen := &fakeGenerator{combinedErr: llm.ErrRateLimited}
	h := newHarness(t, gen, nil)
	_, files := stageFiles(t, map[string]string{"a.txt": "content"})

	task := h.registry.Create(registry.KindSummary)
	h.service.StartSummary(task, files, llm.LevelComprehensive, "")

	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateError {
		t.Fatalf("task state = %s, want %s", final.State, registry.StateError)
	}
	if !strings.Contains(final.Result, "rate limited") {
		t.Fatalf("error message = %q, want rate-limit wording", final.Result)
	}
}

func TestSummaryRemovesTempDir(t *testing.T) {
	h := newHarness(t, &llm.Mock{}, nil)
	dir, files := stageFiles(t, map[string]string{"a.txt": "content"})

	task := h.registry.Create(registry.KindSummary)
	h.service.StartSummary(task, files, llm.LevelMedium, dir)
	waitTerminal(t, h.registry, task.ID)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("temp dir %s still exists after task finished", dir)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStoryHappyPath(t *testing.T) {
	fetch := &fakeFetcher{
		commits: []gitremote.Commit{
			{Author: "ada", Date: "2026-08-29T10:00:00Z", Message: "initial commit"},
			{Author: "linus", Date: "2026-08-30T11:30:00Z", Message: "fix the build"},
		},
		readme: "# Demo\nA tiny project.",
	}
	h := newHarness(t, &fakeGenerator{}, fetch)

	task := h.registry.Create(registry.KindStory)
	h.service.StartStory(task, gitremote.RepoRef{Owner: "ada", Name: "demo"})

	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateCompleted {
		t.Fatalf("task state = %s, want %s (result %q)", final.State, registry.StateCompleted, final.Result)
	}
	if !strings.Contains(final.Result, "demo") {
		t.Fatalf("story does not mention repo name: %q", final.Result)
	}
	if !strings.Contains(final.Result, "README CONTENT START") || !strings.Contains(final.Result, "COMMIT HISTORY START") {
		t.Fatalf("story context missing sections: %q", final.Result)
	}
}

func TestStoryDegradesWithoutReadme(t *testing.T) {
	fetch := &fakeFetcher{
		commits:   []gitremote.Commit{{Author: "ada", Date: "2026-08-30T00:00:00Z", Message: "work"}},
		readmeErr: gitremote.ErrUnavailable,
	}
	h := newHarness(t, &fakeGenerator{}, fetch)

	task := h.registry.Create(registry.KindStory)
	h.service.StartStory(task, gitremote.RepoRef{Owner: "ada", Name: "demo"})

	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateCompleted {
		t.Fatalf("task state = %s, want %s", final.State, registry.StateCompleted)
	}
	if len(final.Diagnostics) != 1 {
		t.Fatalf("Diagnostics = %v, want one README warning", final.Diagnostics)
	}
}

func TestStoryFailsWithNoContent(t *testing.T) {
	h := newHarness(t, &fakeGenerator{}, &fakeFetcher{})

	task := h.registry.Create(registry.KindStory)
	h.service.StartStory(task, gitremote.RepoRef{Owner: "ghost", Name: "empty"})

	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateError {
		t.Fatalf("task state = %s, want %s", final.State, registry.StateError)
	}
}

func TestStoryCommitFetchErrorIsFatal(t *testing.T) {
	fetch := &fakeFetcher{commitsErr: gitremote.ErrRepoNotFound, readme: "exists"}
	h := newHarness(t, &fakeGenerator{}, fetch)

	task := h.registry.Create(registry.KindStory)
	h.service.StartStory(task, gitremote.RepoRef{Owner: "ghost", Name: "gone"})

	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateError {
		t.Fatalf("task state = %s, want %s", final.State, registry.StateError)
	}
	if !strings.Contains(final.Result, "not found") {
		t.Fatalf("error message = %q, want not-found wording", final.Result)
	}
}

type panicGenerator struct{ llm.Mock }

func (panicGenerator) InitialSummary(context.Context, string) (string, error) {
	panic("boom")
}

func TestWorkerPanicBecomesErrorState(t *testing.T) {
	h := newHarness(t, &panicGenerator{}, nil)
	_, files := stageFiles(t, map[string]string{"a.txt": "content"})

	task := h.registry.Create(registry.KindSummary)
	events, cancel, err := h.broker.Subscribe(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel()

	h.service.StartSummary(task, files, llm.LevelMedium, "")

	got := drainUntilTerminal(t, events)
	if got[len(got)-1].Type != notify.EventError {
		t.Fatalf("terminal event = %s, want %s", got[len(got)-1].Type, notify.EventError)
	}
	final := waitTerminal(t, h.registry, task.ID)
	if final.State != registry.StateError {
		t.Fatalf("task state = %s, want %s", final.State, registry.StateError)
	}
	if !strings.Contains(final.Result, "background error") {
		t.Fatalf("error message = %q, want panic wording", final.Result)
	}
}

func TestUserMessageMapping(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{llm.ErrAuth, "credentials"},
		{llm.ErrRateLimited, "rate limited"},
		{llm.ErrTimeout, "timed out"},
		{gitremote.ErrRepoNotFound, "not found"},
		{gitremote.ErrRateLimited, "rate limit"},
		{gitremote.ErrUnavailable, "GitHub API"},
		{errors.New("odd failure"), "odd failure"},
	}
	for _, tt := range tests {
		if got := userMessage(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("userMessage(%v) = %q, want substring %q", tt.err, got, tt.want)
		}
	}
}
