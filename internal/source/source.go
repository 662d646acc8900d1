// Package source produces the normalized RawEvent stream: a broker-backed
// StreamSource, a snapshot-diff PollSource, and the SourceGateway that owns
// failover between them.
package source

import (
	"context"

	"github.com/flowsentry/flowsentry/internal/models"
)

// EventSource is one producer of normalized trade prints. Start begins
// delivery on Events and returns once the source is running; Stop drains
// and releases resources. Exactly one source is active at a time under the
// gateway.
type EventSource interface {
	Start(ctx context.Context) error
	Events() <-chan models.RawEvent
	Stop(ctx context.Context) error
}
