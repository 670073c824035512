/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hub fans playback snapshots out to every live client connection.
// It is the only owner of the live-connection set and of the retained
// last-known snapshot; connect, disconnect and publish are serialized under
// one mutex because connections come and go at arbitrary times relative to
// a publish in progress.
package hub

import (
	"sync"
	"time"

	"github.com/friendsincode/skald/internal/devices"
	"github.com/friendsincode/skald/internal/session"
	"github.com/friendsincode/skald/internal/telemetry"
	"github.com/rs/zerolog"
)

// MessageType tags the broadcast frame variants.
type MessageType string

const (
	MessageFullSync      MessageType = "full-sync"
	MessageStateUpdate   MessageType = "state-update"
	MessageDevicesUpdate MessageType = "devices-update"
)

// Message is one broadcast frame. ServerTime is on every frame and is the
// sole basis for client clock-offset computation.
type Message struct {
	Type       MessageType      `json:"type"`
	Payload    *session.Session `json:"payload,omitempty"`
	Devices    []devices.Device `json:"devices,omitempty"`
	ServerTime time.Time        `json:"server_time"`
}

// Conn is a live client connection. Send must be safe to call from the
// hub's goroutine; a returned error marks the connection dead.
type Conn interface {
	Send(msg Message) error
}

// Hub holds the live connections and the retained snapshot.
type Hub struct {
	mu          sync.Mutex
	conns       map[Conn]struct{}
	lastState   session.Session
	lastDevices []devices.Device
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[Conn]struct{}),
		logger: logger.With().Str("component", "hub").Logger(),
		now:    time.Now,
	}
}

// Connect adds the connection and immediately sends the retained full
// snapshot — unconditionally, even an idle one. This is the entire resync
// mechanism; there is no incremental catch-up log.
func (h *Hub) Connect(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.lastState
	msg := Message{
		Type:       MessageFullSync,
		Payload:    &state,
		Devices:    h.lastDevices,
		ServerTime: h.now(),
	}
	if err := c.Send(msg); err != nil {
		h.logger.Debug().Err(err).Msg("full-sync send failed, dropping connection")
		telemetry.BroadcastsDropped.Inc()
		return
	}

	h.conns[c] = struct{}{}
	telemetry.ConnectedClients.Set(float64(len(h.conns)))
	h.logger.Debug().Int("clients", len(h.conns)).Msg("client connected")
}

// Disconnect removes the connection.
func (h *Hub) Disconnect(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	telemetry.ConnectedClients.Set(float64(len(h.conns)))
	h.logger.Debug().Int("clients", len(h.conns)).Msg("client disconnected")
}

// PublishState retains the snapshot and fans a state-update out to every
// live connection.
func (h *Hub) PublishState(s session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastState = s
	state := s
	h.fanoutLocked(Message{
		Type:       MessageStateUpdate,
		Payload:    &state,
		ServerTime: h.now(),
	})
}

// PublishDevices retains the device list and fans a devices-update out.
func (h *Hub) PublishDevices(d []devices.Device) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastDevices = d
	h.fanoutLocked(Message{
		Type:       MessageDevicesUpdate,
		Devices:    d,
		ServerTime: h.now(),
	})
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// fanoutLocked sends to every connection. A failed send prunes the dead
// connection; no retry, no backpressure beyond that.
func (h *Hub) fanoutLocked(msg Message) {
	start := time.Now()
	var dead []Conn
	for c := range h.conns {
		if err := c.Send(msg); err != nil {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		delete(h.conns, c)
		telemetry.BroadcastsDropped.Inc()
		h.logger.Debug().Msg("pruned dead connection during fanout")
	}
	if len(dead) > 0 {
		telemetry.ConnectedClients.Set(float64(len(h.conns)))
	}
	telemetry.BroadcastFanout.Observe(time.Since(start).Seconds())
}
