// Package genai answers free-text questions with the OpenAI chat completions API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default settings for the answer client.
const (
	DefaultModel       = string(openai.ChatModelGPT4oMini)
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 512
	DefaultTimeout     = 60 * time.Second

	// DefaultSystemPrompt frames the assistant as the clinic's veterinarian.
	DefaultSystemPrompt = "Eres parte de un servicio de asistencia online y debes comportarte como un veterinario " +
		"de un comercio llamado MedPet. Resuelve las preguntas lo más simple posible, con una explicación breve. " +
		"Si es una emergencia indica que deben llamarnos (MedPet). Responde solo texto plano, no inicies " +
		"conversación ni saludes."
)

var (
	// ErrAPIKeyNotSet is returned by NewClient when no API key is configured.
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set")
	// ErrNoChoicesReturned is returned when the completion has no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyAnswer is returned when the model replies with blank content.
	ErrEmptyAnswer = errors.New("empty answer returned")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completions service to chatService.
type completionsAdapter struct {
	svc openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxTokens    int64
	Timeout      time.Duration
	SystemPrompt string
	DebugMode    bool
	StateDir     string // debug transcripts go to StateDir/debug
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithMaxTokens caps the answer length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// WithTimeout bounds a single answer call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) {
		o.SystemPrompt = prompt
	}
}

// WithDebugMode writes every request and response under stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// Client answers questions through OpenAI chat completions.
type Client struct {
	chat         chatService
	model        string
	temperature  float64
	maxTokens    int64
	timeout      time.Duration
	systemPrompt string
	debugMode    bool
	stateDir     string
}

// NewClient creates a Client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		Timeout:      DefaultTimeout,
		SystemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("GenAI client created", "model", cfg.Model, "debug", cfg.DebugMode)

	return &Client{
		chat:         completionsAdapter{svc: cli.Chat.Completions},
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		timeout:      cfg.Timeout,
		systemPrompt: cfg.SystemPrompt,
		debugMode:    cfg.DebugMode,
		stateDir:     cfg.StateDir,
	}, nil
}

// Answer sends the question under the system prompt and returns the model's reply.
func (c *Client) Answer(ctx context.Context, question string) (string, error) {
	return c.GeneratePromptWithContext(ctx, c.systemPrompt, question)
}

// GeneratePromptWithContext runs one system + user completion.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.chat.Create(ctx, params)
	c.writeDebug("GeneratePromptWithContext", params, resp, err)
	if err != nil {
		slog.Error("GenAI.GeneratePromptWithContext: completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyAnswer
	}
	slog.Debug("GenAI.GeneratePromptWithContext: completion received", "model", c.model, "length", len(content))
	return content, nil
}

type debugEntry struct {
	Timestamp string                         `json:"timestamp"`
	Method    string                         `json:"method"`
	Model     string                         `json:"model"`
	Params    openai.ChatCompletionNewParams `json:"params"`
	Response  openai.ChatCompletion          `json:"response"`
	Error     string                         `json:"error,omitempty"`
}

// writeDebug stores one call transcript; failures are only logged.
func (c *Client) writeDebug(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("GenAI.writeDebug: failed to create debug dir", "dir", dir, "error", err)
		return
	}

	now := time.Now().UTC()
	entry := debugEntry{
		Timestamp: now.Format(time.RFC3339Nano),
		Method:    method,
		Model:     c.model,
		Params:    params,
		Response:  resp,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebug: failed to encode transcript", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("GenAI.writeDebug: failed to write transcript", "error", err)
	}
}
