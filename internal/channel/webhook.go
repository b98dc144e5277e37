package channel

import (
	"log/slog"
	"net/http"
	"strings"

	"transcribebot/internal/domain"
)

const defaultMaxFormBytes = 1 << 20 // 1MB

// WebhookConfig configures the inbound messaging webhook.
type WebhookConfig struct {
	Handler      domain.RequestHandler
	MaxFormBytes int64
	Logger       *slog.Logger

	// PublicBaseURL overrides scheme://host when rebuilding the URL the
	// platform signed. Empty means derive it from the request.
	PublicBaseURL string
}

// Webhook adapts HTTP form posts from the messaging platform into
// InboundRequests and renders the resulting outcome as TwiML.
type Webhook struct {
	handler       domain.RequestHandler
	publicBaseURL string
	maxFormBytes  int64
	logger        *slog.Logger
}

// NewWebhook creates a webhook handler.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.MaxFormBytes <= 0 {
		cfg.MaxFormBytes = defaultMaxFormBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		handler:       cfg.Handler,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxFormBytes:  cfg.MaxFormBytes,
		logger:        cfg.Logger,
	}
}

func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, w.maxFormBytes)
	if err := r.ParseForm(); err != nil {
		w.logger.Warn("cannot parse webhook form", "err", err)
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	req := domain.InboundRequest{
		URL:       w.externalURL(r),
		Form:      flattenForm(r.PostForm),
		Signature: signatureFrom(r.Header),
	}

	outcome := w.handler.HandleRequest(r.Context(), req)
	if outcome.Kind == domain.OutcomeForbidden {
		http.Error(rw, "Invalid signature", http.StatusForbidden)
		return
	}

	status := outcome.Status
	if status == 0 {
		status = http.StatusOK
	}
	if err := writeReply(rw, status, outcome.Reply); err != nil {
		w.logger.Error("cannot write reply", "event_id", outcome.EventID, "err", err)
	}
}

// externalURL rebuilds the URL the platform used to reach us, which is what
// it signed. Behind a proxy the forwarded headers carry the original scheme
// and host.
func (w *Webhook) externalURL(r *http.Request) string {
	if w.publicBaseURL != "" {
		return w.publicBaseURL + r.URL.RequestURI()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := firstValue(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fwd := firstValue(r.Header.Get("X-Forwarded-Host")); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

// firstValue returns the first entry of a comma-separated header value.
func firstValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// flattenForm keeps the first value of each field, as the platform sends
// single-valued fields.
func flattenForm(values map[string][]string) map[string]string {
	form := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			form[k] = v[0]
		}
	}
	return form
}
