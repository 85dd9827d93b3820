package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type CompleteOptions struct {
	// ForceJSON asks the model for a bare JSON object
	ForceJSON bool
}

// Prompt is what a backend sends to its provider
type Prompt struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ModelBackend is one provider/model pair able to answer a prompt
type ModelBackend interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Completer is the model dependency of the analyzer
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error)
}

const jsonOnlyInstruction = "Respond with a single JSON object and nothing else. " +
	"Do not add prose, explanations or code fences. " +
	"If you cannot comply, return {}."

var errEmptyResponse = errors.New("model returned an empty response")

// ModelClient tries its backends in order and returns the first usable answer
type ModelClient struct {
	backends    []ModelBackend
	temperature float64
	maxTokens   int
}

func NewModelClient(backends []ModelBackend, temperature float64, maxTokens int) *ModelClient {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ModelClient{backends: backends, temperature: temperature, maxTokens: maxTokens}
}

// NewModelClientFromConfig builds one backend per configured candidate.
// Candidates that cannot be constructed are logged and skipped.
func NewModelClientFromConfig(ctx context.Context, cfg *config.LLMConfig) (*ModelClient, error) {
	var backends []ModelBackend
	for _, cand := range cfg.Candidates {
		b, err := NewBackend(ctx, cand)
		if err != nil {
			logger.Warn(ctx, "skipping model candidate", "provider", cand.Provider, "model", cand.Model, "error", err)
			continue
		}
		backends = append(backends, b)
	}
	if len(backends) == 0 {
		return nil, errors.New("no usable model candidates configured")
	}
	return NewModelClient(backends, cfg.Temperature, cfg.MaxTokens), nil
}

// NewBackend builds the backend for one candidate.
func NewBackend(ctx context.Context, cand config.ModelCandidate) (ModelBackend, error) {
	if cand.Model == "" {
		return nil, errors.New("model id is required")
	}
	switch strings.ToLower(cand.Provider) {
	case "anthropic", "claude":
		return NewAnthropicBackend(cand.APIKey, cand.BaseURL, cand.Model), nil
	case "openai":
		return NewOpenAIBackend(ctx, cand.APIKey, cand.BaseURL, cand.Model)
	case "gemini":
		return NewGeminiBackend(ctx, cand.APIKey, cand.Model)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cand.Provider)
	}
}

func (c *ModelClient) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error) {
	prompt := c.buildPrompt(messages, opts)

	var (
		attempts []error
		last     *AppError
	)
	for _, b := range c.backends {
		start := time.Now()
		logger.Debug(ctx, "llm.request", "backend", b.Name(), "messages", len(prompt.Messages))

		text, err := b.Generate(ctx, prompt)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errEmptyResponse
		}
		if err == nil {
			logger.Info(ctx, "llm.response",
				"backend", b.Name(),
				"chars", len(text),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return text, nil
		}

		attempts = append(attempts, fmt.Errorf("%s: %w", b.Name(), err))
		last = classifyModelError(err)
		logger.Warn(ctx, "llm.error",
			"backend", b.Name(),
			"status", statusCode(err),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
	}

	cause := errors.Join(attempts...)
	if last == nil {
		return "", wrap(ErrAllModelsFailed, cause)
	}
	return "", wrap(last, cause)
}

func (c *ModelClient) buildPrompt(messages []Message, opts CompleteOptions) Prompt {
	p := Prompt{Temperature: c.temperature, MaxTokens: c.maxTokens}
	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		p.Messages = append(p.Messages, m)
	}
	if opts.ForceJSON {
		system = append(system, jsonOnlyInstruction)
	}
	p.System = strings.Join(system, "\n\n")
	return p
}

// classifyModelError maps a transport failure onto the model error
// taxonomy. A nil result means the failure only exhausts this candidate.
func classifyModelError(err error) *AppError {
	status := statusCode(err)
	switch {
	case status == 401:
		return ErrModelAuth
	case status == 404 && strings.Contains(strings.ToLower(err.Error()), "model"):
		return nil
	case status == 429:
		return ErrRateLimited
	case status >= 500:
		return ErrServiceUnavailable
	}
	return nil
}

var statusPattern = regexp.MustCompile(`(?i)\b(?:status(?:\s*code)?|error|http)\s*[:=]?\s*(\d{3})\b`)

// statusCode digs the HTTP status out of a provider error, 0 when unknown.
func statusCode(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	// genai returns APIError by value
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code
	}
	var geminiPtr *genai.APIError
	if errors.As(err, &geminiPtr) && geminiPtr != nil {
		return geminiPtr.Code
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return code
		}
	}
	return 0
}
