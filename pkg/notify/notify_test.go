package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

func withFakeSender(t *testing.T, err error) *[]*mail.Msg {
	t.Helper()
	var sent []*mail.Msg
	old := sendMail
	sendMail = func(ctx context.Context, cfg Config, msg *mail.Msg) error {
		sent = append(sent, msg)
		return err
	}
	t.Cleanup(func() { sendMail = old })
	return &sent
}

func fullConfig() Config {
	return Config{
		Host:       "smtp.example.edu",
		Port:       25,
		Sender:     "sierra@example.edu",
		Recipients: []string{"a@example.edu", "b@example.edu"},
	}
}

func TestParseRecipients(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{input: "", expected: nil},
		{input: "a@x.org", expected: []string{"a@x.org"}},
		{input: "a@x.org,b@x.org", expected: []string{"a@x.org", "b@x.org"}},
		{input: " a@x.org , ,b@x.org, ", expected: []string{"a@x.org", "b@x.org"}},
	}

	for _, tt := range tests {
		got := ParseRecipients(tt.input)
		if strings.Join(got, "|") != strings.Join(tt.expected, "|") {
			t.Errorf("ParseRecipients(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		expected bool
	}{
		{name: "fully configured", mutate: func(*Config) {}, expected: true},
		{name: "no host", mutate: func(c *Config) { c.Host = "" }, expected: false},
		{name: "no port", mutate: func(c *Config) { c.Port = 0 }, expected: false},
		{name: "no sender", mutate: func(c *Config) { c.Sender = "" }, expected: false},
		{name: "no recipients", mutate: func(c *Config) { c.Recipients = nil }, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fullConfig()
			tt.mutate(&cfg)
			if got := NewSMTPNotifier(cfg, zerolog.Nop()).Enabled(); got != tt.expected {
				t.Errorf("Enabled() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNotify_Sends(t *testing.T) {
	sent := withFakeSender(t, nil)
	n := NewSMTPNotifier(fullConfig(), zerolog.Nop())

	report := "Catalog updates\nRecords: 3\nDate Range: 2024-01-01 - 2024-01-08\n\n"
	if err := n.Notify(context.Background(), report); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(*sent))
	}

	msg := (*sent)[0]
	rcpts, err := msg.GetRecipients()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(rcpts, ",") != "a@example.edu,b@example.edu" {
		t.Errorf("recipients = %v", rcpts)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.String()
	if !strings.Contains(raw, "Subject: "+DefaultSubject) {
		t.Errorf("message missing subject:\n%s", raw)
	}
	if !strings.Contains(raw, "Records: 3") {
		t.Errorf("message missing report body:\n%s", raw)
	}
}

func TestNotify_SkipsWhenNotConfigured(t *testing.T) {
	sent := withFakeSender(t, nil)
	cfg := fullConfig()
	cfg.Sender = ""

	if err := NewSMTPNotifier(cfg, zerolog.Nop()).Notify(context.Background(), "report"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(*sent) != 0 {
		t.Errorf("sent = %d, want 0", len(*sent))
	}
}

func TestNotify_SendError(t *testing.T) {
	relayDown := errors.New("dial tcp: connection refused")
	withFakeSender(t, relayDown)

	err := NewSMTPNotifier(fullConfig(), zerolog.Nop()).Notify(context.Background(), "report")
	if !errors.Is(err, relayDown) {
		t.Errorf("error = %v, want relay error", err)
	}
}

func TestNotify_InvalidSender(t *testing.T) {
	sent := withFakeSender(t, nil)
	cfg := fullConfig()
	cfg.Sender = "not an address"

	if err := NewSMTPNotifier(cfg, zerolog.Nop()).Notify(context.Background(), "report"); err == nil {
		t.Error("expected error for invalid sender")
	}
	if len(*sent) != 0 {
		t.Error("nothing should be sent with an invalid sender")
	}
}
