package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var (
	ErrAuth        = errors.New("llm authentication failed")
	ErrRateLimited = errors.New("llm rate limit exceeded")
	ErrTimeout     = errors.New("llm request timed out")
	ErrUpstream    = errors.New("llm service error")
)

// Level selects how condensed the combined summary should be.
type Level string

const (
	LevelShort         Level = "short"
	LevelMedium        Level = "medium"
	LevelComprehensive Level = "comprehensive"
)

func ParseLevel(s string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelShort:
		return LevelShort, true
	case LevelMedium, "":
		return LevelMedium, true
	case LevelComprehensive:
		return LevelComprehensive, true
	default:
		return LevelMedium, false
	}
}

// Generator is the generation collaborator consumed by the executor.
type Generator interface {
	InitialSummary(ctx context.Context, text string) (string, error)
	CombinedSummary(ctx context.Context, summaries string, level Level) (string, error)
	RepoStory(ctx context.Context, repoName, contextData string) (string, error)
}

// Reasoning models wrap chain-of-thought in think tags; the user never
// sees those.
var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Client talks to an OpenAI-compatible chat completion endpoint. The base
// URL is configurable so the same client covers Perplexity and OpenRouter.
type Client struct {
	api         openai.Client
	model       string
	temperature float64
}

type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		api:         openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: 0.7,
	}, nil
}

func (c *Client) InitialSummary(ctx context.Context, text string) (string, error) {
	return c.complete(ctx, fmt.Sprintf(initialSummaryPrompt, text))
}

func (c *Client) CombinedSummary(ctx context.Context, summaries string, level Level) (string, error) {
	return c.complete(ctx, fmt.Sprintf(combinedSummaryPrompt, summaries, level))
}

func (c *Client) RepoStory(ctx context.Context, repoName, contextData string) (string, error) {
	if strings.TrimSpace(repoName) == "" {
		repoName = "a Mysterious Project"
	}
	return c.complete(ctx, fmt.Sprintf(repoStoryPrompt, contextData, repoName))
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUpstream)
	}
	content := thinkBlockRe.ReplaceAllString(resp.Choices[0].Message.Content, "")
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion text", ErrUpstream)
	}
	return content, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: status %d", ErrAuth, apiErr.StatusCode)
		case http.StatusTooManyRequests:
			return ErrRateLimited
		default:
			return fmt.Errorf("%w: status %d", ErrUpstream, apiErr.StatusCode)
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
