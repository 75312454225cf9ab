package events

import (
	"context"

	"github.com/google/uuid"

	"botgate/pkg/types"
)

// Event is one detection outcome queued for delivery.
type Event struct {
	ID        uuid.UUID
	Platform  string
	Detection types.Detection
	Request   types.RequestMeta
}

// New builds an event with a fresh identifier.
func New(platform string, d types.Detection, meta types.RequestMeta) Event {
	return Event{
		ID:        uuid.New(),
		Platform:  platform,
		Detection: d,
		Request:   meta,
	}
}

// Sink delivers events to one destination.
type Sink interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}
