package provider

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcribebot/internal/config"
	"transcribebot/internal/domain"
)

func TestNewTranscriber_Whisper(t *testing.T) {
	cfg := config.Defaults().Transcription
	tr, err := NewTranscriber(cfg, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "whisper-api:whisper-1", tr.Name())
	assert.Equal(t, cfg.MaxConcurrent, cap(tr.sem))
}

func TestNewTranscriber_Command(t *testing.T) {
	cfg := config.Defaults().Transcription
	cfg.Engine = "command"
	cfg.Command = []string{"whisper-cli", "-f", "{input}"}
	tr, err := NewTranscriber(cfg, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "command:whisper-cli", tr.Name())
}

func TestNewTranscriber_Errors(t *testing.T) {
	cfg := config.Defaults().Transcription
	cfg.Engine = "vosk"
	_, err := NewTranscriber(cfg, nil, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transcription engine")

	cfg.Engine = "command"
	cfg.Command = nil
	_, err = NewTranscriber(cfg, nil, testLogger())
	require.Error(t, err)
}

type echoEngine struct{}

func (echoEngine) Name() string { return "echo" }
func (echoEngine) Transcribe(_ context.Context, path string) (domain.TranscriptionResult, error) {
	return domain.NewTranscriptionResult(path), nil
}

func TestRegisterEngine(t *testing.T) {
	RegisterEngine("echo-test", func(config.TranscriptionConfig, *http.Client, *slog.Logger) (domain.Transcriber, error) {
		return echoEngine{}, nil
	})
	assert.Contains(t, Engines(), "echo-test")

	cfg := config.Defaults().Transcription
	cfg.Engine = "echo-test"
	tr, err := NewTranscriber(cfg, nil, testLogger())
	require.NoError(t, err)
	res, err := tr.Transcribe(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
}
