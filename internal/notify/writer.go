package notify

import (
	"context"
	"fmt"
	"io"

	"github.com/patrickspencer/hydranotify/pkg/plugin"
)

// Writer prints notifications instead of delivering them. It is used when
// no mail server is configured and for dry runs.
type Writer struct {
	w io.Writer
}

// NewWriter creates a Writer printing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Name implements plugin.Plugin.
func (n *Writer) Name() string { return "writer" }

// Close implements plugin.Plugin.
func (n *Writer) Close() error { return nil }

// Notify implements plugin.Notifier.
func (n *Writer) Notify(_ context.Context, event plugin.NotifyEvent) error {
	if len(event.Builds) == 0 {
		return nil
	}
	_, err := fmt.Fprintf(n.w, "Subject: %s\n\n%s", event.Subject, event.Body)
	return err
}
