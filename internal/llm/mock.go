package llm

import (
	"context"
	"fmt"
	"strings"
)

// Mock is a deterministic Generator for tests and keyless local runs.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) InitialSummary(_ context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if len(text) > 80 {
		text = text[:80] + "..."
	}
	return "summary: " + text, nil
}

func (m *Mock) CombinedSummary(_ context.Context, summaries string, level Level) (string, error) {
	return fmt.Sprintf("# Combined (%s)\n\n%s", level, strings.TrimSpace(summaries)), nil
}

func (m *Mock) RepoStory(_ context.Context, repoName, contextData string) (string, error) {
	return fmt.Sprintf("# The Tale of %s\n\nOnce upon a commit...\n\n%d bytes of context consulted.",
		repoName, len(contextData)), nil
}
