/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package devices tracks connected client devices and their liveness.
package devices

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/skald/internal/events"
	"github.com/rs/zerolog"
)

// ErrDeviceNotFound indicates the device id is not registered.
var ErrDeviceNotFound = errors.New("device not found")

// Device is a connected client install. The id is stable per install; the
// name is whatever the user called it ("Kitchen laptop").
type Device struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Registry is the in-memory device table. Entries expire after the grace
// period of silence; eviction runs on a timer owned by the server, not on
// the mutation path.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
	grace   time.Duration
	bus     *events.Bus
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRegistry creates a device registry.
func NewRegistry(grace time.Duration, bus *events.Bus, logger zerolog.Logger) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		grace:   grace,
		bus:     bus,
		logger:  logger.With().Str("component", "devices").Logger(),
		now:     time.Now,
	}
}

// Register adds a device or, if the id is already known, refreshes its
// last-seen time and display name. Idempotent.
func (r *Registry) Register(id, name string) {
	r.mu.Lock()
	existing, known := r.devices[id]
	if known {
		existing.Name = name
		existing.LastSeenAt = r.now()
	} else {
		r.devices[id] = &Device{ID: id, Name: name, LastSeenAt: r.now()}
	}
	r.mu.Unlock()

	if !known {
		r.logger.Info().Str("device_id", id).Str("name", name).Msg("device registered")
		r.bus.Publish(events.EventDeviceJoined, events.Payload{"device_id": id, "name": name})
	}
}

// Heartbeat refreshes the device's last-seen time.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	device.LastSeenAt = r.now()
	return nil
}

// Exists reports whether the device id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[id]
	return ok
}

// Remove drops a device immediately (explicit disconnect).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()

	if ok {
		r.logger.Info().Str("device_id", id).Msg("device removed")
		r.bus.Publish(events.EventDeviceLeft, events.Payload{"device_id": id})
	}
}

// EvictStale removes devices silent past the grace period and returns the
// evicted ids.
func (r *Registry) EvictStale(now time.Time) []string {
	r.mu.Lock()
	var evicted []string
	for id, device := range r.devices {
		if now.Sub(device.LastSeenAt) > r.grace {
			delete(r.devices, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.logger.Info().Str("device_id", id).Msg("device evicted after grace period")
		r.bus.Publish(events.EventDeviceEvicted, events.Payload{"device_id": id})
	}
	return evicted
}

// Snapshot returns the registered devices sorted by id for stable output.
func (r *Registry) Snapshot() []Device {
	r.mu.Lock()
	out := make([]Device, 0, len(r.devices))
	for _, device := range r.devices {
		out = append(out, *device)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
