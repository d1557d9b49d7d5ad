// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/wneessen/go-mail"

	"github.com/serviautos/serviautos/internal/observability"
)

// SMTP defaults.
const (
	DefaultSMTPPort    = 587
	DefaultSMTPTimeout = 10 * time.Second
	DefaultSMTPRetries = 2
	defaultRetryBase   = 200 * time.Millisecond
	maxRetryBackoff    = 2 * time.Second
)

// TLS modes accepted by SMTPConfig.TLS.
const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string //nolint:gosec // G117: configuration field, never logged
	From     string
	FromName string
	TLS      string
	Timeout  time.Duration
	// Retries is the number of additional attempts after a temporary failure.
	Retries uint64
}

// Sender is the subset of *mail.Client used by SMTPNotifier.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPNotifier delivers messages through an SMTP relay.
type SMTPNotifier struct {
	cfg       SMTPConfig
	sender    Sender
	retryBase time.Duration
	logger    *slog.Logger
}

// SMTPOption configures an SMTPNotifier.
type SMTPOption func(*SMTPNotifier)

// WithSender replaces the SMTP client. Used by tests.
func WithSender(sender Sender) SMTPOption {
	return func(n *SMTPNotifier) {
		n.sender = sender
	}
}

// WithRetryBase sets the initial backoff between attempts.
func WithRetryBase(d time.Duration) SMTPOption {
	return func(n *SMTPNotifier) {
		n.retryBase = d
	}
}

// WithSMTPLogger sets the logger.
func WithSMTPLogger(logger *slog.Logger) SMTPOption {
	return func(n *SMTPNotifier) {
		n.logger = logger
	}
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig, opts ...SMTPOption) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("smtp sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultSMTPPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}

	n := &SMTPNotifier{
		cfg:       cfg,
		retryBase: defaultRetryBase,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.sender == nil {
		client, err := newMailClient(cfg)
		if err != nil {
			return nil, err
		}
		n.sender = client
	}
	return n, nil
}

func newMailClient(cfg SMTPConfig) (*mail.Client, error) {
	policy, err := tlsPolicy(cfg.TLS)
	if err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(policy),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").With("host", cfg.Host).Wrap(err)
	}
	return client, nil
}

func tlsPolicy(mode string) (mail.TLSPolicy, error) {
	switch mode {
	case "", TLSMandatory:
		return mail.TLSMandatory, nil
	case TLSOpportunistic:
		return mail.TLSOpportunistic, nil
	case TLSNone:
		return mail.NoTLS, nil
	default:
		return mail.TLSMandatory, oops.Code("NOTIFY_CONFIG_INVALID").
			With("tls", mode).
			Errorf("unknown smtp tls mode %q", mode)
	}
}

// Send delivers msg. Temporary SMTP failures are retried with exponential
// backoff up to the configured retry count.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	m, err := n.buildMessage(msg)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(n.cfg.Retries,
		retry.WithCappedDuration(maxRetryBackoff, retry.NewExponential(n.retryBase)))

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		sendErr := n.sender.DialAndSendWithContext(ctx, m)
		if sendErr == nil {
			return nil
		}
		if isTemporary(sendErr) {
			n.logger.WarnContext(ctx, "smtp send failed, retrying",
				"to", msg.To, "attempt", attempt, "error", sendErr)
			return retry.RetryableError(sendErr)
		}
		return sendErr
	})
	if err != nil {
		observability.RecordDeliveryFailure("smtp")
		return oops.Code("NOTIFY_SEND_FAILED").
			With("to", msg.To).
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

func (n *SMTPNotifier) buildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	var err error
	if n.cfg.FromName != "" {
		err = m.FromFormat(n.cfg.FromName, n.cfg.From)
	} else {
		err = m.From(n.cfg.From)
	}
	if err != nil {
		return nil, oops.Code("NOTIFY_INVALID_MESSAGE").With("from", n.cfg.From).Wrap(err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, oops.Code("NOTIFY_INVALID_MESSAGE").With("to", msg.To).Wrap(err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

// isTemporary treats 4xx SMTP replies and transport errors as retryable.
// Permanent 5xx rejections are not retried.
func isTemporary(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
