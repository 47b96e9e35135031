package core

import "context"

// Null-object collaborators. Optional integrations are supplied explicitly
// or left as one of these; the services never probe for capabilities at
// runtime.

// NopMailer accepts and discards every message.
type NopMailer struct{}

func (NopMailer) Send(ctx context.Context, to, subject, htmlBody, displayName, templateTag string) error {
	return nil
}

// NopEventSink drops every event.
type NopEventSink struct{}

func (NopEventSink) Publish(event string, payload map[string]any) {}

var (
	_ Mailer    = NopMailer{}
	_ EventSink = NopEventSink{}
)
