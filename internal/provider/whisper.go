package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"transcribebot/internal/domain"
)

const maxErrorBody = 1024

// WhisperConfig configures the Whisper speech-to-text engine.
type WhisperConfig struct {
	APIBase  string // e.g., "https://api.openai.com/v1" or "https://api.groq.com/openai/v1"
	APIKey   string // optional for self-hosted servers
	Model    string // e.g., "whisper-1" (OpenAI) or "whisper-large-v3" (Groq)
	Language string // optional: ISO-639-1 language code
	Client   *http.Client
	Logger   *slog.Logger
}

// WhisperTranscriber transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint. It is safe for concurrent use.
type WhisperTranscriber struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	logger   *slog.Logger
}

// NewWhisperTranscriber creates a new Whisper transcription engine.
func NewWhisperTranscriber(cfg WhisperConfig) *WhisperTranscriber {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhisperTranscriber{
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

func (w *WhisperTranscriber) Name() string { return "whisper-api:" + w.model }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe uploads the file at path and returns the recognized text.
// The upload is streamed from disk, never buffered whole in memory.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, path string) (domain.TranscriptionResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return domain.TranscriptionResult{}, domain.NewError(domain.KindTranscription, "open audio", err)
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		pw.CloseWithError(w.writeForm(form, file, filepath.Base(path)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiBase+"/audio/transcriptions", pr)
	if err != nil {
		pr.CloseWithError(err)
		return domain.TranscriptionResult{}, domain.NewError(domain.KindTranscription, "create request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return domain.TranscriptionResult{}, domain.NewError(domain.KindTranscription, "whisper request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.TranscriptionResult{}, domain.NewError(domain.KindTranscription, "whisper request",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.TranscriptionResult{}, domain.NewError(domain.KindTranscription, "decode response", err)
	}

	w.logger.Info("transcription complete",
		"engine", "whisper-api",
		"text_len", len(out.Text),
		"language", out.Language,
		"duration", out.Duration,
	)

	return domain.NewTranscriptionResult(out.Text), nil
}

func (w *WhisperTranscriber) writeForm(form *multipart.Writer, audio io.Reader, filename string) error {
	if err := form.WriteField("model", w.model); err != nil {
		return err
	}
	if err := form.WriteField("response_format", "json"); err != nil {
		return err
	}
	if w.language != "" {
		if err := form.WriteField("language", w.language); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("copy audio data: %w", err)
	}
	return form.Close()
}
