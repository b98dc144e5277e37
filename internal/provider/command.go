package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"transcribebot/internal/domain"
)

const maxStderrBytes = 512

// Placeholders substituted into each command argument.
const (
	placeholderInput    = "{input}"
	placeholderModel    = "{model}"
	placeholderLanguage = "{language}"
)

// CommandConfig configures a transcription engine backed by a local CLI
// such as whisper.cpp.
type CommandConfig struct {
	Args     []string // argv; the audio path is appended when {input} is absent
	Model    string
	Language string
	Dir      string
	Logger   *slog.Logger
}

// CommandTranscriber runs one process per call and reads the transcript
// from stdout.
type CommandTranscriber struct {
	args     []string
	model    string
	language string
	dir      string
	logger   *slog.Logger
}

// NewCommandTranscriber validates the argv template and returns the engine.
func NewCommandTranscriber(cfg CommandConfig) (*CommandTranscriber, error) {
	if len(cfg.Args) == 0 || strings.TrimSpace(cfg.Args[0]) == "" {
		return nil, errors.New("command engine: empty command")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CommandTranscriber{
		args:     append([]string(nil), cfg.Args...),
		model:    cfg.Model,
		language: cfg.Language,
		dir:      cfg.Dir,
		logger:   cfg.Logger,
	}, nil
}

func (c *CommandTranscriber) Name() string { return "command:" + c.args[0] }

// Transcribe runs the configured command against the audio file at path.
func (c *CommandTranscriber) Transcribe(ctx context.Context, path string) (domain.TranscriptionResult, error) {
	argv := c.expand(path)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return domain.TranscriptionResult{}, domain.NewError(domain.KindTranscription, "run command", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderrBytes {
			msg = msg[:maxStderrBytes] + "..."
		}
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return domain.TranscriptionResult{}, domain.NewError(domain.KindTranscription, "run command", err)
	}

	result := domain.NewTranscriptionResult(stdout.String())
	c.logger.Info("transcription complete",
		"engine", "command",
		"command", argv[0],
		"text_len", len(result.Text),
	)
	return result, nil
}

// expand substitutes placeholders into a copy of the argv template.
func (c *CommandTranscriber) expand(path string) []string {
	r := strings.NewReplacer(
		placeholderInput, path,
		placeholderModel, c.model,
		placeholderLanguage, c.language,
	)
	argv := make([]string, 0, len(c.args)+1)
	hasInput := false
	for _, a := range c.args {
		if strings.Contains(a, placeholderInput) {
			hasInput = true
		}
		argv = append(argv, r.Replace(a))
	}
	if !hasInput {
		argv = append(argv, path)
	}
	return argv
}
