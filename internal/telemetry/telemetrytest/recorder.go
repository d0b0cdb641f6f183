// Package telemetrytest records Sentry events and breadcrumbs in memory.
package telemetrytest

import (
	"context"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/require"
)

// Recorder keeps what a hub would have sent to Sentry.
type Recorder struct {
	mu          sync.Mutex
	exceptions  []string
	messages    []string
	breadcrumbs []string
}

// NewContext returns a context carrying a hub bound to a fresh Recorder.
// Nothing leaves the process.
func NewContext(t *testing.T) (context.Context, *Recorder) {
	t.Helper()
	rec := &Recorder{}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@example.com/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			for _, exc := range event.Exception {
				rec.exceptions = append(rec.exceptions, exc.Value)
			}
			if event.Message != "" {
				rec.messages = append(rec.messages, event.Message)
			}
			return nil
		},
		BeforeBreadcrumb: func(b *sentry.Breadcrumb, _ *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.breadcrumbs = append(rec.breadcrumbs, b.Category+": "+b.Message)
			return b
		},
	})
	require.NoError(t, err)

	hub := sentry.NewHub(client, sentry.NewScope())
	return sentry.SetHubOnContext(context.Background(), hub), rec
}

// Exceptions returns the messages of captured exceptions, oldest first.
func (r *Recorder) Exceptions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.exceptions...)
}

// Messages returns the text of captured messages, oldest first.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Breadcrumbs returns "category: message" for each breadcrumb, oldest first.
func (r *Recorder) Breadcrumbs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.breadcrumbs...)
}
