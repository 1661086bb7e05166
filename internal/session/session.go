// Package session resolves which registered connection a tool call targets.
// Calls may name a connection explicitly; otherwise the configured default
// connection is used.
package session

import (
	"context"
	"fmt"

	"github.com/sqlmentor/sqlmentor/internal/memory"
)

// Resolver picks the effective connection for a request and verifies it is
// registered before any store or gateway work happens.
type Resolver struct {
	store     memory.ConnectionStore
	defaultID string
}

func NewResolver(store memory.ConnectionStore, defaultID string) *Resolver {
	return &Resolver{store: store, defaultID: defaultID}
}

// Resolve returns the connection for explicitID, falling back to the
// configured default when explicitID is empty. A missing or unregistered
// connection yields an error wrapping memory.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, explicitID string) (memory.Connection, error) {
	id := explicitID
	if id == "" {
		id = r.defaultID
	}
	if id == "" {
		return memory.Connection{}, fmt.Errorf("no connection specified and no default configured: %w", memory.ErrNotFound)
	}

	conn, err := r.store.GetConnection(ctx, id)
	if err != nil {
		return memory.Connection{}, fmt.Errorf("resolve connection %q: %w", id, err)
	}
	return conn, nil
}
