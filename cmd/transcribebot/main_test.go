package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcribebot/internal/config"
	"transcribebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Media.TempDir = t.TempDir()
	cfg.Transcription.APIKey = "sk-test"
	return cfg
}

func postHelp(t *testing.T, h http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{
		domain.FieldFrom:     {"whatsapp:+15550001111"},
		domain.FieldNumMedia: {"0"},
	}
	req := httptest.NewRequest(http.MethodPost, "/inbound-webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuildService_HelpReplyWithoutCredentials(t *testing.T) {
	svc, err := buildService(testConfig(t), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.close(context.Background()) })

	assert.Nil(t, svc.pool, "no sender means no async pool")
	assert.Nil(t, svc.store)

	rec := postHelp(t, svc.server.Handler())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Send a WhatsApp voice note")
}

func TestBuildService_SignatureEnforcedWithToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Twilio.AuthToken = "secret-token"

	svc, err := buildService(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.close(context.Background()) })

	rec := postHelp(t, svc.server.Handler())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBuildService_AsyncAndAudit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Twilio.AccountSID = "AC00000000000000000000000000000000"
	cfg.Twilio.AuthToken = "secret-token"
	cfg.Twilio.From = "+15550009999"
	cfg.Processing.AsyncReply = true
	cfg.Audit.Enabled = true
	cfg.Audit.DBPath = filepath.Join(t.TempDir(), "events.db")
	cfg.Audit.RetentionDays = 7

	svc, err := buildService(cfg, testLogger())
	require.NoError(t, err)

	assert.NotNil(t, svc.pool)
	require.NotNil(t, svc.store)
	assert.NotNil(t, svc.retention)

	// Unsigned help request: rejected before any work, but still audited.
	rec := postHelp(t, svc.server.Handler())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	events, err := svc.store.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutcomeForbidden, events[0].Outcome)

	require.NoError(t, svc.close(context.Background()))
}

func TestBuildService_InvalidEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transcription.Engine = "command"
	cfg.Transcription.Command = nil

	_, err := buildService(cfg, testLogger())
	assert.ErrorContains(t, err, "transcription engine")
}

func TestService_RunStopsOnCancel(t *testing.T) {
	svc, err := buildService(testConfig(t), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + svc.server.Addr() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, loadEnvFile(""), "a missing default .env is fine")
	assert.Error(t, loadEnvFile("missing.env"), "a missing explicit file is an error")

	t.Setenv("TB_ENV_TEST", "")
	os.Unsetenv("TB_ENV_TEST")
	require.NoError(t, os.WriteFile(".env", []byte("TB_ENV_TEST=from-dotenv\n"), 0o600))
	require.NoError(t, loadEnvFile(""))
	assert.Equal(t, "from-dotenv", os.Getenv("TB_ENV_TEST"))

	t.Setenv("TB_ENV_TEST", "from-shell")
	require.NoError(t, loadEnvFile(""))
	assert.Equal(t, "from-shell", os.Getenv("TB_ENV_TEST"), "real environment wins")
}

func TestNewLogger_TeesToFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.General.LogFile = filepath.Join(t.TempDir(), "logs", "bot.log")
	cfg.General.Debug = true

	log, closeLog, err := newLogger(cfg)
	require.NoError(t, err)
	log.Debug("debug line visible")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(cfg.General.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug line visible")
}

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "transcribebot "+version+"\n", out.String())
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "2.0 KB", humanSize(2048))
	assert.Equal(t, "1.5 MB", humanSize(3*512*1024))
}

func TestDaemonServeArgs(t *testing.T) {
	assert.Equal(t, []string{"serve"}, daemonServeArgs("", ""))

	args := daemonServeArgs("/etc/transcribebot/config.toml", "/etc/transcribebot/.env")
	assert.Equal(t, []string{"serve", "--config", "/etc/transcribebot/config.toml", "--env-file", "/etc/transcribebot/.env"}, args)

	unit := renderSystemd("/usr/local/bin/transcribebot", args)
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/transcribebot serve --config /etc/transcribebot/config.toml")

	plist := renderLaunchd("/usr/local/bin/transcribebot", []string{"serve"}, "/tmp/out.log", "/tmp/err.log")
	assert.Contains(t, plist, "<string>/usr/local/bin/transcribebot</string>")
	assert.Contains(t, plist, "<string>serve</string>")
	assert.Contains(t, plist, "<string>"+launchdLabel+"</string>")
}
