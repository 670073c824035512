/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session owns the single authoritative playback state. All
// mutations pass through one mutex that spans the whole resolve-then-apply
// sequence, so the states observed across broadcasts form a single total
// order and no two mutations ever interleave.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/skald/internal/devices"
	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/telemetry"
	"github.com/rs/zerolog"
)

var (
	// ErrPlaybackUnavailable indicates a command needs a current track and
	// there is none.
	ErrPlaybackUnavailable = errors.New("no current track")

	// ErrTrackNotInQueue indicates the requested track is absent from the
	// resolved queue.
	ErrTrackNotInQueue = errors.New("track not present in resolved queue")

	// ErrStartIndexOutOfRange indicates the context start index does not fit
	// the resolved queue.
	ErrStartIndexOutOfRange = errors.New("start index out of range")
)

// State is the coarse playback state derived from the session record.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Session is the full now-playing snapshot broadcast to every client.
// ActiveDeviceID empty means no device renders audio.
type Session struct {
	CurrentTrack   *models.Track      `json:"current_track"`
	Queue          []models.Track     `json:"queue"`
	QueueIndex     int                `json:"queue_index"`
	TrackStartedAt *time.Time         `json:"track_started_at"`
	PositionMS     int64              `json:"position_ms"`
	IsPlaying      bool               `json:"is_playing"`
	ActiveDeviceID string             `json:"active_device_id"`
	ShuffleEnabled bool               `json:"shuffle_enabled"`
	Sort           *queue.SortSpec    `json:"sort,omitempty"`
	Context        *queue.PlayContext `json:"context,omitempty"`
}

// State derives the coarse state.
func (s Session) State() State {
	switch {
	case s.CurrentTrack == nil:
		return StateIdle
	case s.IsPlaying:
		return StatePlaying
	default:
		return StatePaused
	}
}

// QueueResolver materializes a queue from a play context.
type QueueResolver interface {
	Resolve(ctx context.Context, pc queue.PlayContext, shuffle bool, sort *queue.SortSpec) ([]models.Track, error)
}

// Publisher receives the new full snapshot after every mutation. The
// broadcast hub implements this.
type Publisher interface {
	PublishState(s Session)
	PublishDevices(d []devices.Device)
}

// Manager applies mutations to the session and hands each result to the
// publisher. Logically single-writer: one mutex gates every entry point,
// including the eviction sweep.
type Manager struct {
	mu       sync.Mutex
	sess     Session
	resolver QueueResolver
	registry *devices.Registry
	pub      Publisher
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time
}

// NewManager creates the playback state manager.
func NewManager(resolver QueueResolver, registry *devices.Registry, pub Publisher, bus *events.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		resolver: resolver,
		registry: registry,
		pub:      pub,
		bus:      bus,
		logger:   logger.With().Str("component", "session").Logger(),
		now:      time.Now,
	}
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Session {
	out := m.sess
	if m.sess.CurrentTrack != nil {
		track := *m.sess.CurrentTrack
		out.CurrentTrack = &track
	}
	if m.sess.TrackStartedAt != nil {
		at := *m.sess.TrackStartedAt
		out.TrackStartedAt = &at
	}
	out.Queue = append([]models.Track(nil), m.sess.Queue...)
	return out
}

// Play resolves a queue from the context and starts playback of trackID on
// the target device (explicit target wins, otherwise the issuing device).
func (m *Manager) Play(ctx context.Context, trackID string, pc queue.PlayContext, callerDeviceID, targetDeviceID string) (err error) {
	defer func() { record("play", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	deviceID := targetDeviceID
	if deviceID == "" {
		deviceID = callerDeviceID
	}
	if deviceID == "" || !m.registry.Exists(deviceID) {
		return fmt.Errorf("device %q: %w", deviceID, devices.ErrDeviceNotFound)
	}

	tracks, err := m.resolver.Resolve(ctx, pc, pc.Shuffle, nil)
	if err != nil {
		return err
	}

	index := -1
	if pc.StartIndex != nil {
		if *pc.StartIndex < 0 || *pc.StartIndex >= len(tracks) {
			return fmt.Errorf("start index %d with %d tracks: %w", *pc.StartIndex, len(tracks), ErrStartIndexOutOfRange)
		}
		index = *pc.StartIndex
	} else {
		for i, track := range tracks {
			if track.ID == trackID {
				index = i
				break
			}
		}
		if index < 0 {
			return fmt.Errorf("track %s: %w", trackID, ErrTrackNotInQueue)
		}
	}

	startedAt := m.now()
	current := tracks[index]
	m.sess = Session{
		CurrentTrack:   &current,
		Queue:          tracks,
		QueueIndex:     index,
		TrackStartedAt: &startedAt,
		PositionMS:     0,
		IsPlaying:      true,
		ActiveDeviceID: deviceID,
		ShuffleEnabled: pc.Shuffle,
		Sort:           nil,
		Context:        &pc,
	}

	m.logger.Info().
		Str("track_id", current.ID).
		Str("device_id", deviceID).
		Int("queue_len", len(tracks)).
		Msg("playback started")

	m.publishNowPlayingLocked()
	m.publishStateLocked()
	return nil
}

// Pause freezes the position and stops playback. No-op if already paused.
func (m *Manager) Pause() (err error) {
	defer func() { record("pause", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sess.IsPlaying {
		return nil
	}
	m.sess.PositionMS = m.interpolatedPositionLocked()
	m.sess.IsPlaying = false
	m.sess.TrackStartedAt = nil

	m.publishStateLocked()
	return nil
}

// Resume restarts playback from the frozen position.
func (m *Manager) Resume() (err error) {
	defer func() { record("resume", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.CurrentTrack == nil {
		return ErrPlaybackUnavailable
	}
	if m.sess.IsPlaying {
		return nil
	}
	startedAt := m.now()
	m.sess.TrackStartedAt = &startedAt
	m.sess.IsPlaying = true

	m.publishStateLocked()
	return nil
}

// Next advances the queue. At the end of the queue the session goes idle.
func (m *Manager) Next() (err error) {
	defer func() { record("next", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.CurrentTrack == nil {
		return ErrPlaybackUnavailable
	}
	if m.sess.QueueIndex+1 >= len(m.sess.Queue) {
		m.toIdleLocked()
		m.publishStateLocked()
		return nil
	}
	m.jumpToIndexLocked(m.sess.QueueIndex + 1)
	m.publishNowPlayingLocked()
	m.publishStateLocked()
	return nil
}

// Prev retreats the queue. At index 0 it restarts the current track.
func (m *Manager) Prev() (err error) {
	defer func() { record("prev", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.CurrentTrack == nil {
		return ErrPlaybackUnavailable
	}
	index := m.sess.QueueIndex - 1
	if index < 0 {
		index = 0
	}
	m.jumpToIndexLocked(index)
	m.publishNowPlayingLocked()
	m.publishStateLocked()
	return nil
}

// Seek moves the position, clamped to the track bounds.
func (m *Manager) Seek(positionMS int64) (err error) {
	defer func() { record("seek", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.CurrentTrack == nil {
		return ErrPlaybackUnavailable
	}
	if positionMS < 0 {
		positionMS = 0
	}
	if max := m.sess.CurrentTrack.DurationMS; positionMS > max {
		positionMS = max
	}
	m.sess.PositionMS = positionMS
	if m.sess.IsPlaying {
		startedAt := m.now()
		m.sess.TrackStartedAt = &startedAt
	}

	m.publishStateLocked()
	return nil
}

// ToggleShuffle re-resolves the queue from the session context with the
// shuffle flag flipped. Enabling shuffle clears any sort spec.
func (m *Manager) ToggleShuffle(ctx context.Context) (err error) {
	defer func() { record("toggle_shuffle", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.Context == nil {
		return ErrPlaybackUnavailable
	}
	shuffle := !m.sess.ShuffleEnabled
	tracks, err := m.resolver.Resolve(ctx, *m.sess.Context, shuffle, nil)
	if err != nil {
		return err
	}
	m.sess.ShuffleEnabled = shuffle
	m.sess.Sort = nil
	m.replaceQueueLocked(tracks)

	m.publishStateLocked()
	return nil
}

// SetSort re-resolves the queue ordered by the given field. Sorting clears
// the shuffle flag.
func (m *Manager) SetSort(ctx context.Context, field string, direction queue.SortDirection) (err error) {
	defer func() { record("set_sort", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.Context == nil {
		return ErrPlaybackUnavailable
	}
	spec := &queue.SortSpec{Field: field, Direction: direction}
	tracks, err := m.resolver.Resolve(ctx, *m.sess.Context, false, spec)
	if err != nil {
		return err
	}
	m.sess.ShuffleEnabled = false
	m.sess.Sort = spec
	m.replaceQueueLocked(tracks)

	m.publishStateLocked()
	return nil
}

// SetActiveDevice hands audio rendering to the given device. Last write
// wins; there is no negotiation between racing devices.
func (m *Manager) SetActiveDevice(id string) (err error) {
	defer func() { record("set_active_device", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.registry.Exists(id) {
		return fmt.Errorf("device %q: %w", id, devices.ErrDeviceNotFound)
	}
	m.sess.ActiveDeviceID = id
	m.bus.Publish(events.EventActiveDevice, events.Payload{"device_id": id})

	m.publishStateLocked()
	return nil
}

// RegisterDevice adds or refreshes a device and broadcasts the device list.
func (m *Manager) RegisterDevice(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry.Register(id, name)
	m.pub.PublishDevices(m.registry.Snapshot())
	telemetry.RegisteredDevices.Set(float64(len(m.registry.Snapshot())))
}

// HeartbeatDevice refreshes the device's last-seen time.
func (m *Manager) HeartbeatDevice(id string) error {
	return m.registry.Heartbeat(id)
}

// Devices returns the current device list.
func (m *Manager) Devices() []devices.Device {
	return m.registry.Snapshot()
}

// SweepDevices evicts stale devices. If the active device is evicted the
// session drops to no-active-device and playback pauses implicitly. Runs on
// a fixed timer and competes for the same lock as mutations.
func (m *Manager) SweepDevices(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := m.registry.EvictStale(now)
	if len(evicted) == 0 {
		return
	}

	activeEvicted := false
	for _, id := range evicted {
		if id == m.sess.ActiveDeviceID && id != "" {
			activeEvicted = true
		}
	}
	if activeEvicted {
		m.logger.Info().Str("device_id", m.sess.ActiveDeviceID).Msg("active device evicted, pausing")
		m.sess.ActiveDeviceID = ""
		if m.sess.IsPlaying {
			m.sess.PositionMS = m.interpolatedPositionLocked()
			m.sess.IsPlaying = false
			m.sess.TrackStartedAt = nil
		}
	}

	m.pub.PublishDevices(m.registry.Snapshot())
	telemetry.RegisteredDevices.Set(float64(len(m.registry.Snapshot())))
	if activeEvicted {
		m.publishStateLocked()
	}
}

// jumpToIndexLocked moves playback to the given queue position.
func (m *Manager) jumpToIndexLocked(index int) {
	track := m.sess.Queue[index]
	m.sess.QueueIndex = index
	m.sess.CurrentTrack = &track
	m.sess.PositionMS = 0
	if m.sess.IsPlaying {
		startedAt := m.now()
		m.sess.TrackStartedAt = &startedAt
	} else {
		m.sess.TrackStartedAt = nil
	}
}

// replaceQueueLocked installs a re-resolved queue and re-locates the current
// track inside it. If the track survived the re-ordering playback continues
// undisturbed at its new index; only when it is gone does the session fall
// back to the head of the new queue.
func (m *Manager) replaceQueueLocked(tracks []models.Track) {
	m.sess.Queue = tracks
	if m.sess.CurrentTrack != nil {
		for i, track := range tracks {
			if track.ID == m.sess.CurrentTrack.ID {
				m.sess.QueueIndex = i
				return
			}
		}
	}
	m.jumpToIndexLocked(0)
}

func (m *Manager) toIdleLocked() {
	m.sess.CurrentTrack = nil
	m.sess.Queue = nil
	m.sess.QueueIndex = 0
	m.sess.TrackStartedAt = nil
	m.sess.PositionMS = 0
	m.sess.IsPlaying = false
	m.sess.Context = nil
	m.sess.ShuffleEnabled = false
	m.sess.Sort = nil
}

// interpolatedPositionLocked derives the live position for a playing
// session, clamped to the track duration.
func (m *Manager) interpolatedPositionLocked() int64 {
	if !m.sess.IsPlaying || m.sess.TrackStartedAt == nil {
		return m.sess.PositionMS
	}
	pos := m.sess.PositionMS + m.now().Sub(*m.sess.TrackStartedAt).Milliseconds()
	if m.sess.CurrentTrack != nil && pos > m.sess.CurrentTrack.DurationMS {
		pos = m.sess.CurrentTrack.DurationMS
	}
	return pos
}

func (m *Manager) publishStateLocked() {
	m.pub.PublishState(m.snapshotLocked())
	m.bus.Publish(events.EventStateChange, events.Payload{
		"state":      string(m.sess.State()),
		"is_playing": m.sess.IsPlaying,
	})
}

func (m *Manager) publishNowPlayingLocked() {
	if m.sess.CurrentTrack == nil {
		return
	}
	m.bus.Publish(events.EventNowPlaying, events.Payload{
		"track_id":  m.sess.CurrentTrack.ID,
		"title":     m.sess.CurrentTrack.Title,
		"artist":    m.sess.CurrentTrack.Artist,
		"device_id": m.sess.ActiveDeviceID,
	})
}

func record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.MutationsTotal.WithLabelValues(op, outcome).Inc()
}
