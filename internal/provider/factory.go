package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"transcribebot/internal/config"
	"transcribebot/internal/domain"
)

// EngineConstructor creates a transcription engine from config.
type EngineConstructor func(cfg config.TranscriptionConfig, client *http.Client, logger *slog.Logger) (domain.Transcriber, error)

var (
	enginesMu sync.RWMutex
	engines   = map[string]EngineConstructor{
		"whisper-api": func(cfg config.TranscriptionConfig, client *http.Client, logger *slog.Logger) (domain.Transcriber, error) {
			return NewWhisperTranscriber(WhisperConfig{
				APIBase:  cfg.APIBase,
				APIKey:   cfg.APIKey,
				Model:    cfg.Model,
				Language: cfg.Language,
				Client:   client,
				Logger:   logger,
			}), nil
		},
		"command": func(cfg config.TranscriptionConfig, _ *http.Client, logger *slog.Logger) (domain.Transcriber, error) {
			return NewCommandTranscriber(CommandConfig{
				Args:     cfg.Command,
				Model:    cfg.Model,
				Language: cfg.Language,
				Logger:   logger,
			})
		},
	}
)

// RegisterEngine adds (or replaces) an engine constructor by name.
func RegisterEngine(name string, ctor EngineConstructor) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[name] = ctor
}

// Engines returns the registered engine names, sorted.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewTranscriber builds the configured engine and wraps it in the
// concurrency limiter. A nil client uses SharedHTTPClient.
func NewTranscriber(cfg config.TranscriptionConfig, client *http.Client, logger *slog.Logger) (*LimitedTranscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = SharedHTTPClient(0)
	}

	enginesMu.RLock()
	ctor, ok := engines[cfg.Engine]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transcription engine: %q", cfg.Engine)
	}

	engine, err := ctor(cfg, client, logger)
	if err != nil {
		return nil, fmt.Errorf("create %s engine: %w", cfg.Engine, err)
	}

	logger.Info("transcription engine ready",
		"engine", engine.Name(),
		"max_concurrent", cfg.MaxConcurrent,
	)
	return NewLimitedTranscriber(engine, cfg.MaxConcurrent, logger), nil
}
