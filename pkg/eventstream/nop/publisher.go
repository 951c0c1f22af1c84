// Package nop provides a no-op event publisher for deployments without an
// event stream backend.
package nop

import (
	"context"

	"github.com/justice-rest/intelmem/pkg/eventstream"
)

// Publisher drops every event.
type Publisher struct{}

// NewPublisher creates a no-op publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish validates the payload and discards it.
func (p *Publisher) Publish(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}

var _ eventstream.Publisher = (*Publisher)(nil)
