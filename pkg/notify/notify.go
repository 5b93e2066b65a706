// Package notify emails the run report to a fixed recipient list.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

var sierraNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sierra_notifications_total",
	Help: "Total report notifications by status",
}, []string{"status"})

// DefaultSubject is the subject line of the report email.
const DefaultSubject = "Sierra export completed"

// Config holds the relay settings. Notification is disabled unless Host,
// Port, Sender and at least one recipient are set.
type Config struct {
	Host       string
	Port       int
	Sender     string
	Recipients []string
	Subject    string
	Timeout    time.Duration
}

// ParseRecipients splits a comma-delimited address list, dropping blanks.
func ParseRecipients(list string) []string {
	var out []string
	for _, r := range strings.Split(list, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// sendMail delivers msg through the relay; overridden in tests.
var sendMail = func(ctx context.Context, cfg Config, msg *mail.Msg) error {
	c, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, msg)
}

// SMTPNotifier sends reports over SMTP.
type SMTPNotifier struct {
	config Config
	logger zerolog.Logger
}

// NewSMTPNotifier creates a notifier.
func NewSMTPNotifier(cfg Config, logger zerolog.Logger) *SMTPNotifier {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPNotifier{
		config: cfg,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Enabled reports whether every relay setting is present.
func (n *SMTPNotifier) Enabled() bool {
	return n.config.Host != "" &&
		n.config.Port > 0 &&
		n.config.Sender != "" &&
		len(n.config.Recipients) > 0
}

// Notify emails report. When notification is not configured it only logs
// that it was skipped.
func (n *SMTPNotifier) Notify(ctx context.Context, report string) error {
	if !n.Enabled() {
		sierraNotificationsTotal.WithLabelValues("skipped").Inc()
		n.logger.Info().Msg("Email notification not configured, skipping")
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(n.config.Sender); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(n.config.Recipients...); err != nil {
		return fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(n.config.Subject)
	msg.SetBodyString(mail.TypeTextPlain, report)

	if err := sendMail(ctx, n.config, msg); err != nil {
		sierraNotificationsTotal.WithLabelValues("error").Inc()
		n.logger.Error().Err(err).Str("relay", n.config.Host).Msg("Failed to send notification")
		return fmt.Errorf("send notification: %w", err)
	}

	sierraNotificationsTotal.WithLabelValues("sent").Inc()
	n.logger.Info().
		Strs("recipients", n.config.Recipients).
		Msg("Notification sent")
	return nil
}
