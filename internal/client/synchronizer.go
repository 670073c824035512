/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package client implements the per-device synchronizer: it follows the
// broadcast stream, estimates the server clock offset, derives the playback
// position on demand (no polling), and renders audio only when its device
// is the active one. Commands are one-shot requests; the local view changes
// only when the resulting broadcast arrives, never optimistically.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/skald/internal/devices"
	"github.com/friendsincode/skald/internal/hub"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/session"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"
)

const (
	heartbeatInterval = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// Renderer is the audio output sink. Implementations decode and play; the
// synchronizer only decides when they should.
type Renderer interface {
	Play(track models.Track, positionMS int64)
	Pause()
	Stop()
}

// NopRenderer renders nothing. Used by devices that only mirror state.
type NopRenderer struct{}

func (NopRenderer) Play(models.Track, int64) {}
func (NopRenderer) Pause()                   {}
func (NopRenderer) Stop()                    {}

// Synchronizer keeps one device converged on the shared session.
type Synchronizer struct {
	url        string
	deviceID   string
	deviceName string
	renderer   Renderer
	logger     zerolog.Logger

	mu          sync.RWMutex
	sess        session.Session
	devs        []devices.Device
	clockOffset time.Duration
	synced      bool

	connMu sync.Mutex
	conn   *ws.Conn

	updates chan session.Session
	now     func() time.Time
}

// New creates a synchronizer for one device.
func New(url, deviceID, deviceName string, renderer Renderer, logger zerolog.Logger) *Synchronizer {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	return &Synchronizer{
		url:        url,
		deviceID:   deviceID,
		deviceName: deviceName,
		renderer:   renderer,
		logger:     logger.With().Str("component", "sync").Str("device_id", deviceID).Logger(),
		updates:    make(chan session.Session, 16),
		now:        time.Now,
	}
}

// Connect dials the server, registers the device, and starts following the
// broadcast stream until ctx is cancelled.
func (s *Synchronizer) Connect(ctx context.Context) error {
	conn, _, err := ws.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	if err := s.sendFrame(outFrame{Type: "register", DeviceID: s.deviceID, Name: s.deviceName}); err != nil {
		conn.Close(ws.StatusInternalError, "register failed")
		return fmt.Errorf("register: %w", err)
	}

	go s.readLoop(ctx, conn)
	go s.heartbeatLoop(ctx)
	return nil
}

// Close tears the connection down.
func (s *Synchronizer) Close() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close(ws.StatusNormalClosure, "bye")
		s.conn = nil
	}
}

func (s *Synchronizer) readLoop(ctx context.Context, conn *ws.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("broadcast stream closed")
			return
		}
		var msg hub.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("unparseable broadcast frame")
			continue
		}
		// Error frames answer a failed command and go to this connection
		// only; they never carry state.
		if msg.Type == "error" {
			var ef struct {
				Action  string `json:"action"`
				Message string `json:"message"`
			}
			if json.Unmarshal(data, &ef) == nil {
				s.logger.Warn().Str("action", ef.Action).Str("message", ef.Message).Msg("command rejected")
			}
			continue
		}
		s.handleMessage(msg)
	}
}

// handleMessage applies one broadcast frame. Every frame carries the server
// time, so every frame refreshes the clock offset estimate.
func (s *Synchronizer) handleMessage(msg hub.Message) {
	s.mu.Lock()
	s.clockOffset = msg.ServerTime.Sub(s.now())

	switch msg.Type {
	case hub.MessageFullSync:
		if msg.Payload != nil {
			s.sess = *msg.Payload
		}
		s.devs = msg.Devices
		s.synced = true
	case hub.MessageStateUpdate:
		if msg.Payload != nil {
			s.sess = *msg.Payload
		}
	case hub.MessageDevicesUpdate:
		s.devs = msg.Devices
	default:
		s.mu.Unlock()
		s.logger.Warn().Str("type", string(msg.Type)).Msg("unknown broadcast type")
		return
	}

	sess := s.sess
	s.mu.Unlock()

	s.render(sess)

	select {
	case s.updates <- sess:
	default:
	}
}

// render drives the audio sink from the authoritative state. Only the
// active device produces sound; everyone else just mirrors the state.
func (s *Synchronizer) render(sess session.Session) {
	switch {
	case sess.CurrentTrack == nil:
		s.renderer.Stop()
	case sess.IsPlaying && sess.ActiveDeviceID == s.deviceID:
		s.renderer.Play(*sess.CurrentTrack, s.Position())
	default:
		s.renderer.Pause()
	}
}

// Position derives the current playback position on demand. For a playing
// session: positionMs + (localNow + clockOffset - trackStartedAt), clamped
// to the track duration; otherwise the frozen positionMs.
func (s *Synchronizer) Position() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.sess
	if !sess.IsPlaying || sess.TrackStartedAt == nil {
		return sess.PositionMS
	}
	serverNow := s.now().Add(s.clockOffset)
	pos := sess.PositionMS + serverNow.Sub(*sess.TrackStartedAt).Milliseconds()
	if pos < 0 {
		pos = 0
	}
	if sess.CurrentTrack != nil && pos > sess.CurrentTrack.DurationMS {
		pos = sess.CurrentTrack.DurationMS
	}
	return pos
}

// Session returns the last received snapshot.
func (s *Synchronizer) Session() session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

// Devices returns the last received device list.
func (s *Synchronizer) Devices() []devices.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]devices.Device(nil), s.devs...)
}

// ClockOffset returns the current serverTime-localTime estimate.
func (s *Synchronizer) ClockOffset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clockOffset
}

// IsActive reports whether this device is the one rendering audio.
func (s *Synchronizer) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.ActiveDeviceID == s.deviceID
}

// Synced reports whether the initial full-sync has arrived.
func (s *Synchronizer) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// Updates delivers each applied snapshot. Slow consumers miss intermediate
// snapshots, never the latest ordering.
func (s *Synchronizer) Updates() <-chan session.Session {
	return s.updates
}

// outFrame is an outbound WebSocket frame.
type outFrame struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Action   string `json:"action,omitempty"`
	Data     any    `json:"data,omitempty"`
}

func (s *Synchronizer) sendFrame(f outFrame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, ws.MessageText, raw)
}

func (s *Synchronizer) command(action string, data any) error {
	return s.sendFrame(outFrame{Type: "command", Action: action, Data: data})
}

func (s *Synchronizer) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sendFrame(outFrame{Type: "heartbeat"}); err != nil {
				s.logger.Debug().Err(err).Msg("heartbeat send failed")
				return
			}
		}
	}
}

// Play asks the server to start the given track within a context.
func (s *Synchronizer) Play(trackID string, pc queue.PlayContext, targetDeviceID string) error {
	return s.command("play", map[string]any{
		"track_id":         trackID,
		"target_device_id": targetDeviceID,
		"context":          pc,
	})
}

// Pause pauses the shared session.
func (s *Synchronizer) Pause() error { return s.command("pause", nil) }

// Resume resumes the shared session.
func (s *Synchronizer) Resume() error { return s.command("resume", nil) }

// Next advances the shared queue.
func (s *Synchronizer) Next() error { return s.command("next", nil) }

// Prev retreats the shared queue.
func (s *Synchronizer) Prev() error { return s.command("prev", nil) }

// Seek moves the shared position.
func (s *Synchronizer) Seek(positionMS int64) error {
	return s.command("seek", map[string]any{"position_ms": positionMS})
}

// ToggleShuffle flips the shared shuffle flag.
func (s *Synchronizer) ToggleShuffle() error { return s.command("shuffle", nil) }

// SetSort orders the shared queue.
func (s *Synchronizer) SetSort(field string, direction queue.SortDirection) error {
	return s.command("sort", map[string]any{"field": field, "direction": direction})
}

// SetActiveDevice hands rendering to the given device (own device if empty).
func (s *Synchronizer) SetActiveDevice(id string) error {
	return s.command("set_active", map[string]any{"device_id": id})
}
