package backendstub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoEngine is returned when a real transcription is requested but no
// engine is configured
var ErrNoEngine = errors.New("no transcription engine configured")

// Result is a finished transcription
type Result struct {
	Text            string
	DurationSeconds float64
}

// Engine turns uploaded audio into text
type Engine interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (Result, error)
}

// OpenAIConfig configures the OpenAI-compatible speech engine
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// OpenAIEngine transcribes with an OpenAI-compatible audio API
type OpenAIEngine struct {
	client   *openai.Client
	model    string
	language string
}

// NewOpenAIEngine creates an engine. Model defaults to whisper-1.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &OpenAIEngine{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		language: cfg.Language,
	}, nil
}

// Transcribe sends audio to the speech API
func (e *OpenAIEngine) Transcribe(ctx context.Context, filename string, audio []byte) (Result, error) {
	req := openai.AudioRequest{
		Model:    e.model,
		FilePath: filepath.Base(filename),
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: e.language,
	}

	resp, err := e.client.CreateTranscription(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request failed: %w", err)
	}

	return Result{Text: resp.Text, DurationSeconds: resp.Duration}, nil
}
