package invalidation

import (
	"context"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
)

// Scope selects what a Message invalidates.
type Scope string

const (
	ScopeVIN Scope = "vin"
	ScopeAll Scope = "all"
)

// Message asks every instance to drop cached image lists.
type Message struct {
	Scope Scope      `json:"scope"`
	VIN   domain.VIN `json:"vin,omitempty"`
	// Origin identifies the publishing instance so it can skip its own messages.
	Origin string `json:"origin,omitempty"`
}

// Bus fans invalidation messages out to every running instance.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe delivers messages to handle until ctx is done or the subscription fails.
	Subscribe(ctx context.Context, handle func(Message)) error
	Close() error
}
