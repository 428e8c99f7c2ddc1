// Package notify carries notification side channels. The durable copy of a
// notification is always the store row; emitters here are best-effort
// delivery on top of it.
package notify

import (
	"context"

	"crewarchive.org/internal/obs"
	"crewarchive.org/internal/requests"
)

// LogEmitter writes each notification as a structured log line. It is the
// default transport; push or mail transports plug in behind the same
// interface.
type LogEmitter struct{}

// Emit implements requests.Notifier.
func (LogEmitter) Emit(_ context.Context, n requests.Notification) error {
	obs.LogRequest(map[string]any{
		"type":       "notification",
		"id":         n.ID,
		"user_id":    n.UserID,
		"kind":       n.Kind,
		"title":      n.Title,
		"request_id": n.RelatedRequestID,
	})
	return nil
}

// Multi fans one notification out to several emitters. The first error is
// returned after every emitter ran.
type Multi []requests.Notifier

// Emit implements requests.Notifier.
func (m Multi) Emit(ctx context.Context, n requests.Notification) error {
	var first error
	for _, e := range m {
		if err := e.Emit(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
