package channel

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"transcribebot/internal/domain"
	"transcribebot/internal/metrics"
)

var (
	// ErrNotConfigured is returned when no API credentials were provided.
	ErrNotConfigured = errors.New("messaging client not configured")
	// ErrNoSender is returned when no sender address is configured.
	ErrNoSender = errors.New("sender address not configured")
	// ErrNoRecipient is returned for an empty recipient.
	ErrNoRecipient = errors.New("recipient is empty")
)

// MessageAPI is the subset of the platform's REST API used for replies.
type MessageAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// DispatcherConfig configures the reply dispatcher.
type DispatcherConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	Channel    string     // address prefix, e.g. "whatsapp"
	API        MessageAPI // overrides the REST client built from credentials
	Logger     *slog.Logger
}

// Dispatcher sends outbound messages through the platform's Messages API.
// Sends are not idempotent; callers send at most once per reply.
type Dispatcher struct {
	api     MessageAPI
	from    string
	channel string
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. Without credentials or an explicit
// API the dispatcher is inert and every Send fails with ErrNotConfigured.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	api := cfg.API
	if api == nil && cfg.AccountSID != "" && cfg.AuthToken != "" {
		rc := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		api = rc.Api
	}
	return &Dispatcher{
		api:     api,
		from:    strings.TrimSpace(cfg.From),
		channel: cfg.Channel,
		logger:  cfg.Logger,
	}
}

// Configured reports whether Send can reach the API.
func (d *Dispatcher) Configured() bool {
	return d.api != nil && d.from != ""
}

// Send delivers body to recipient.
func (d *Dispatcher) Send(ctx context.Context, recipient, body string) error {
	if err := d.send(ctx, recipient, body); err != nil {
		metrics.DispatchFailures.Inc()
		return err
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, recipient, body string) error {
	switch {
	case d.api == nil:
		return domain.NewError(domain.KindDispatch, "send", ErrNotConfigured)
	case d.from == "":
		return domain.NewError(domain.KindDispatch, "send", ErrNoSender)
	case strings.TrimSpace(recipient) == "":
		return domain.NewError(domain.KindDispatch, "send", ErrNoRecipient)
	}
	if err := ctx.Err(); err != nil {
		return domain.NewError(domain.KindDispatch, "send", err)
	}

	to := normalizeAddress(d.channel, recipient)
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(normalizeAddress(d.channel, d.from))
	params.SetBody(body)

	msg, err := d.api.CreateMessage(params)
	if err != nil {
		return domain.NewError(domain.KindDispatch, "create message", err)
	}

	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	d.logger.Info("reply dispatched", "sid", sid, "to", to, "body_len", len(body))
	return nil
}

// normalizeAddress prefixes addr with "<channel>:" unless it already
// carries a scheme.
func normalizeAddress(channel, addr string) string {
	addr = strings.TrimSpace(addr)
	if channel == "" || strings.Contains(addr, ":") {
		return addr
	}
	return channel + ":" + addr
}
