package notify

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/patrickspencer/hydranotify/pkg/plugin"
)

func TestNewMailerValidatesAddresses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     MailConfig
		wantErr string
	}{
		{"missing host", MailConfig{From: "a@example.org", To: "b@example.org"}, "host is required"},
		{"bad from", MailConfig{Host: "smtp.example.org", From: "not an address", To: "b@example.org"}, "invalid from address"},
		{"bad to", MailConfig{Host: "smtp.example.org", From: "a@example.org", To: ""}, "invalid to address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMailer(tt.cfg, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("NewMailer error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMailerSkipsEmptyEvent(t *testing.T) {
	t.Parallel()

	m, err := NewMailer(MailConfig{
		Host: "127.0.0.1",
		Port: 1,
		From: "Notifier <notifier@example.org>",
		To:   "maintainer@example.org",
	}, nil)
	if err != nil {
		t.Fatalf("NewMailer: %v", err)
	}
	// Nothing listens on port 1, so any dial attempt would fail.
	if err := m.Notify(context.Background(), plugin.NotifyEvent{}); err != nil {
		t.Fatalf("Notify(empty) = %v, want nil", err)
	}
}

func TestWriterNotify(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewWriter(&buf)

	if err := n.Notify(context.Background(), plugin.NotifyEvent{Subject: "ignored"}); err != nil {
		t.Fatalf("Notify(empty): %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output for empty event, got %q", buf.String())
	}

	event := plugin.NotifyEvent{
		Subject: DefaultSubject,
		Body:    "- nixpkgs:trunk:hello.x86_64-linux - https://hydra.nixos.org/build/1 - Failed\n",
		Builds:  []plugin.FailingBuild{{FullName: "nixpkgs:trunk:hello.x86_64-linux", BuildID: 1}},
	}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	want := "Subject: Packages failing to build in Nixpkgs\n\n- nixpkgs:trunk:hello.x86_64-linux - https://hydra.nixos.org/build/1 - Failed\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}
}
