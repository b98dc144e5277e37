package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcribebot/internal/channel"
	"transcribebot/internal/domain"
	"transcribebot/internal/media"
)

// scenario wires the real webhook and fetcher around stub engine and sender.
type scenario struct {
	*harness
	mediaSrv *httptest.Server
	webhook  *channel.Webhook
	pool     *Pool
}

func newScenario(t *testing.T, async bool, mediaHandler http.HandlerFunc) *scenario {
	t.Helper()
	h := newHarness(t)
	s := &scenario{harness: h, mediaSrv: httptest.NewServer(mediaHandler)}
	t.Cleanup(s.mediaSrv.Close)

	fetcher := media.NewFetcher(media.FetcherConfig{
		TempDir: h.dir,
		Timeout: 150 * time.Millisecond,
		Logger:  testLogger(),
	})
	cfg := Config{
		Fetcher:     fetcher,
		Transcriber: h.transcriber,
		Sender:      h.sender,
		Store:       h.store,
		Messages:    testMessages(),
		Logger:      testLogger(),
	}
	if async {
		s.pool = NewPool(PoolConfig{Workers: 2, QueueSize: 4, Logger: testLogger()})
		t.Cleanup(func() { _ = s.pool.Close(context.Background()) })
		cfg.Async = true
		cfg.Pool = s.pool
	}
	s.webhook = channel.NewWebhook(channel.WebhookConfig{Handler: New(cfg), Logger: testLogger()})
	return s
}

func (s *scenario) post(contentType string) *httptest.ResponseRecorder {
	form := url.Values{
		domain.FieldFrom:      {"whatsapp:+15550001111"},
		domain.FieldNumMedia:  {"1"},
		domain.FieldMediaURL:  {s.mediaSrv.URL + "/media/ME1"},
		domain.FieldMediaType: {contentType},
	}
	req := httptest.NewRequest(http.MethodPost, "/inbound-webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.webhook.ServeHTTP(rec, req)
	return rec
}

func serveAudio(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, "OggS fake voice note")
}

func TestScenarioA_SyncReplyContainsTranscript(t *testing.T) {
	s := newScenario(t, false, serveAudio)

	rec := s.post("audio/ogg")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "hello world")
	assert.True(t, s.transcriber.sawFile)
	assert.Zero(t, tempCount(t, s.dir))
}

func TestScenarioB_NonAudioNeverFetched(t *testing.T) {
	var mediaHits int
	s := newScenario(t, false, func(w http.ResponseWriter, r *http.Request) {
		mediaHits++
		serveAudio(w, r)
	})

	rec := s.post("image/png")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), testMessages().NotAudio)
	assert.Zero(t, mediaHits)
	assert.Zero(t, s.transcriber.Calls())
}

func TestScenarioC_FetchTimeout(t *testing.T) {
	s := newScenario(t, false, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	rec := s.post("audio/ogg")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), testMessages().Error)
	assert.Zero(t, s.transcriber.Calls())
	assert.Zero(t, tempCount(t, s.dir), "partial download must not survive")
}

func TestScenarioD_AsyncDispatchesTranscript(t *testing.T) {
	s := newScenario(t, true, serveAudio)

	rec := s.post("audio/ogg")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), testMessages().Processing)
	assert.NotContains(t, rec.Body.String(), "hello world")

	msg := s.sender.wait(t)
	assert.Equal(t, "whatsapp:+15550001111", msg.To)
	assert.Equal(t, "hello world", msg.Body)
	assert.Zero(t, msg.TempsAtSend)

	require.NoError(t, s.pool.Close(context.Background()))
	assert.Len(t, s.sender.Sent(), 1)
	assert.Zero(t, tempCount(t, s.dir))
}
