package presence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Tracker records which users are currently online. Entries expire after the
// configured presence TTL unless refreshed by another heartbeat.
type Tracker interface {
	// MarkOnline records a heartbeat for userID.
	MarkOnline(ctx context.Context, userID uuid.UUID) error
	// MarkOffline drops userID immediately, without waiting for TTL expiry.
	MarkOffline(ctx context.Context, userID uuid.UUID) error
	// Online reports which of the given users currently have a live heartbeat.
	Online(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// Loader creates a Tracker from config.
type Loader func(ctx context.Context) (Tracker, error)

// Plugin represents a presence plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a presence plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered presence plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named presence plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown presence tracker %q; valid: %v", name, Names())
}
