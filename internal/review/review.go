// Package review asks a Gemini model for a code review of a snippet.
//
// The client never returns an error to its caller. Every failure is turned
// into a human-readable string, because the review is shown to the user
// as-is and a failed review must not fail the request that asked for it.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// NotConfigured is returned by Review when the client was built without an API key.
const NotConfigured = "Error: AI review is not configured (missing API key)."

const (
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 60 * time.Second
)

// errEmptyResponse is reported when the model answers without any text.
var errEmptyResponse = errors.New("empty response from model")

// Config is passed explicitly to NewClient; nothing here reads the environment.
// Temperature is sent as is, so zero asks for the most deterministic output.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// Generator produces a completion for a prompt. The Gemini implementation
// below is the only production one; tests substitute their own.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client wraps a Generator with the review prompt, a timeout and the
// error-to-text conversion.
type Client struct {
	gen     Generator // nil means unconfigured
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient builds a Gemini-backed client. An empty APIKey is not an error:
// the client is returned in its unconfigured state and every Review call
// answers with NotConfigured.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	cfg = withDefaults(cfg)
	if cfg.APIKey == "" {
		return &Client{timeout: cfg.Timeout, logger: logger}, nil
	}

	gen, err := newGemini(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("review: creating gemini client: %w", err)
	}
	return &Client{gen: gen, timeout: cfg.Timeout, logger: logger}, nil
}

// NewClientWithGenerator builds a client around any Generator.
func NewClientWithGenerator(gen Generator, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{gen: gen, timeout: timeout, logger: logger}
}

// Configured reports whether Review will actually call a model.
func (c *Client) Configured() bool {
	return c != nil && c.gen != nil
}

// Review returns the model's review of code, or an "Error..." string.
func (c *Client) Review(ctx context.Context, code string) string {
	if !c.Configured() {
		return NotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := c.gen.Generate(ctx, Prompt(code))
	if err != nil {
		c.logger.Warn("ai review failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return "Error communicating with AI: " + err.Error()
	}

	c.logger.Info("ai review completed",
		slog.Int("code_bytes", len(code)),
		slog.Int("review_bytes", len(text)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return text
}

// Prompt embeds code in the fixed review instructions.
func Prompt(code string) string {
	return "Please review the following code snippet. Provide constructive feedback, " +
		"suggestions for improvement, potential bug fixes, and a refactored version " +
		"of the code if applicable. Format your answer in Markdown.\n\n" +
		"Code:\n```\n" + code + "\n```"
}

func withDefaults(cfg Config) Config {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// =========================================================================
// GEMINI GENERATOR
// =========================================================================

type gemini struct {
	cli         *genai.Client
	model       string
	temperature float32
}

func newGemini(ctx context.Context, cfg Config) (*gemini, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &gemini{cli: cli, model: cfg.Model, temperature: cfg.Temperature}, nil
}

func (g *gemini) Generate(ctx context.Context, prompt string) (string, error) {
	temperature := g.temperature
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{Temperature: &temperature},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errEmptyResponse
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}
