/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/devices"
	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/queue"
)

// stubResolver returns a fixed queue, reversed when shuffle is requested so
// tests can observe re-resolution.
type stubResolver struct {
	tracks []models.Track
	err    error
	calls  int
}

func (r *stubResolver) Resolve(_ context.Context, _ queue.PlayContext, shuffle bool, sort *queue.SortSpec) ([]models.Track, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := append([]models.Track(nil), r.tracks...)
	if shuffle {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// capturePublisher records every published snapshot.
type capturePublisher struct {
	states  []Session
	devices [][]devices.Device
}

func (p *capturePublisher) PublishState(s Session)            { p.states = append(p.states, s) }
func (p *capturePublisher) PublishDevices(d []devices.Device) { p.devices = append(p.devices, d) }
func (p *capturePublisher) lastState(t *testing.T) Session {
	t.Helper()
	if len(p.states) == 0 {
		t.Fatal("no state published")
	}
	return p.states[len(p.states)-1]
}

func testTracks() []models.Track {
	return []models.Track{
		{ID: "t1", Title: "First", Artist: "A", DurationMS: 180000},
		{ID: "t2", Title: "Second", Artist: "B", DurationMS: 200000},
		{ID: "t3", Title: "Third", Artist: "C", DurationMS: 240000},
	}
}

func newTestManager(t *testing.T, tracks []models.Track) (*Manager, *stubResolver, *capturePublisher, *devices.Registry) {
	t.Helper()
	bus := events.NewBus()
	registry := devices.NewRegistry(30*time.Second, bus, zerolog.Nop())
	resolver := &stubResolver{tracks: tracks}
	pub := &capturePublisher{}
	m := NewManager(resolver, registry, pub, bus, zerolog.Nop())
	return m, resolver, pub, registry
}

func playContext() queue.PlayContext {
	return queue.PlayContext{Type: queue.ContextPlaylist, PlaylistID: "pl1"}
}

func TestPlayStartsQueueAtRequestedTrack(t *testing.T) {
	m, _, pub, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	if err := m.Play(context.Background(), "t2", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}

	sess := pub.lastState(t)
	if sess.CurrentTrack == nil || sess.CurrentTrack.ID != "t2" {
		t.Fatalf("expected current track t2, got %+v", sess.CurrentTrack)
	}
	if sess.QueueIndex != 1 {
		t.Errorf("expected queue index 1, got %d", sess.QueueIndex)
	}
	if len(sess.Queue) != 3 {
		t.Errorf("expected 3 queue entries, got %d", len(sess.Queue))
	}
	if !sess.IsPlaying {
		t.Error("expected playing state")
	}
	if sess.ActiveDeviceID != "dev-1" {
		t.Errorf("expected active device dev-1, got %q", sess.ActiveDeviceID)
	}
	if sess.PositionMS != 0 {
		t.Errorf("expected position 0, got %d", sess.PositionMS)
	}
	if sess.TrackStartedAt == nil {
		t.Error("expected track start timestamp")
	}
}

func TestPlayStartIndexWinsOverTrackID(t *testing.T) {
	m, _, pub, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	idx := 2
	pc := playContext()
	pc.StartIndex = &idx
	if err := m.Play(context.Background(), "t1", pc, "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := pub.lastState(t).CurrentTrack.ID; got != "t3" {
		t.Errorf("expected start index to win, got track %s", got)
	}
}

func TestPlayStartIndexOutOfRange(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	idx := 3
	pc := playContext()
	pc.StartIndex = &idx
	err := m.Play(context.Background(), "", pc, "dev-1", "")
	if !errors.Is(err, ErrStartIndexOutOfRange) {
		t.Fatalf("expected ErrStartIndexOutOfRange, got %v", err)
	}
	// Shared state must be untouched by the failed mutation.
	if m.Snapshot().State() != StateIdle {
		t.Error("failed play must leave the session idle")
	}
}

func TestPlayUnknownTrack(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	err := m.Play(context.Background(), "nope", playContext(), "dev-1", "")
	if !errors.Is(err, ErrTrackNotInQueue) {
		t.Fatalf("expected ErrTrackNotInQueue, got %v", err)
	}
}

func TestPlayUnregisteredDevice(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())

	err := m.Play(context.Background(), "t1", playContext(), "ghost", "")
	if !errors.Is(err, devices.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestPlayTargetDeviceWinsOverCaller(t *testing.T) {
	m, _, pub, _ := newTestManager(t, testTracks())
	m.RegisterDevice("phone", "Phone")
	m.RegisterDevice("speaker", "Speaker")

	if err := m.Play(context.Background(), "t1", playContext(), "phone", "speaker"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := pub.lastState(t).ActiveDeviceID; got != "speaker" {
		t.Errorf("expected target device speaker active, got %q", got)
	}
}

func TestPauseFreezesInterpolatedPosition(t *testing.T) {
	m, _, pub, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}

	// 45 seconds pass before the pause lands.
	m.now = func() time.Time { return base.Add(45 * time.Second) }
	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	sess := pub.lastState(t)
	if sess.IsPlaying {
		t.Error("expected paused")
	}
	if sess.PositionMS != 45000 {
		t.Errorf("expected frozen position 45000, got %d", sess.PositionMS)
	}
	if sess.TrackStartedAt != nil {
		t.Error("expected cleared start timestamp while paused")
	}
}

func TestPauseIdempotent(t *testing.T) {
	m, _, pub, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	m.now = func() time.Time { return base.Add(10 * time.Second) }
	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	published := len(pub.states)

	// Second pause later must not move the position or publish again.
	m.now = func() time.Time { return base.Add(90 * time.Second) }
	if err := m.Pause(); err != nil {
		t.Fatalf("second pause: %v", err)
	}
	if len(pub.states) != published {
		t.Error("idempotent pause must not broadcast")
	}
	if got := m.Snapshot().PositionMS; got != 10000 {
		t.Errorf("expected position unchanged at 10000, got %d", got)
	}
}

func TestResumeRestartsInterpolation(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	m.now = func() time.Time { return base.Add(30 * time.Second) }
	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	m.now = func() time.Time { return base.Add(5 * time.Minute) }
	if err := m.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}

	sess := m.Snapshot()
	if !sess.IsPlaying {
		t.Error("expected playing")
	}
	// Position resumes from the frozen value, not from wall time elapsed.
	if sess.PositionMS != 30000 {
		t.Errorf("expected position 30000, got %d", sess.PositionMS)
	}
	if sess.TrackStartedAt == nil || !sess.TrackStartedAt.Equal(base.Add(5*time.Minute)) {
		t.Errorf("expected start timestamp at resume time, got %v", sess.TrackStartedAt)
	}
}

func TestResumeWithoutTrack(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	if err := m.Resume(); !errors.Is(err, ErrPlaybackUnavailable) {
		t.Fatalf("expected ErrPlaybackUnavailable, got %v", err)
	}
}

func TestNextAdvancesAndPrevRetreats(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := m.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if got := m.Snapshot(); got.CurrentTrack.ID != "t2" || got.QueueIndex != 1 {
		t.Errorf("expected t2 at index 1, got %s at %d", got.CurrentTrack.ID, got.QueueIndex)
	}
	if err := m.Prev(); err != nil {
		t.Fatalf("prev: %v", err)
	}
	if got := m.Snapshot(); got.CurrentTrack.ID != "t1" || got.QueueIndex != 0 {
		t.Errorf("expected t1 at index 0, got %s at %d", got.CurrentTrack.ID, got.QueueIndex)
	}
}

func TestNextAtEndGoesIdle(t *testing.T) {
	m, _, pub, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	if err := m.Play(context.Background(), "t3", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := m.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}

	sess := pub.lastState(t)
	if sess.State() != StateIdle {
		t.Fatalf("expected idle, got %s", sess.State())
	}
	if sess.CurrentTrack != nil || len(sess.Queue) != 0 || sess.Context != nil {
		t.Error("idle session must drop track, queue and context")
	}
	// The device stays active so a later play starts where the user expects.
	if sess.ActiveDeviceID != "dev-1" {
		t.Errorf("expected active device preserved, got %q", sess.ActiveDeviceID)
	}
}

func TestPrevAtStartRestartsTrack(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	m.now = func() time.Time { return base.Add(time.Minute) }
	if err := m.Prev(); err != nil {
		t.Fatalf("prev: %v", err)
	}
	sess := m.Snapshot()
	if sess.CurrentTrack.ID != "t1" || sess.PositionMS != 0 {
		t.Errorf("expected restart of t1 at 0, got %s at %d", sess.CurrentTrack.ID, sess.PositionMS)
	}
}

func TestSeekClampsToTrackBounds(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}

	if err := m.Seek(-500); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := m.Snapshot().PositionMS; got != 0 {
		t.Errorf("expected clamp to 0, got %d", got)
	}

	if err := m.Seek(99999999); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := m.Snapshot().PositionMS; got != 180000 {
		t.Errorf("expected clamp to duration 180000, got %d", got)
	}
}

func TestSeekWhilePausedStoresDirectly(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := m.Seek(60000); err != nil {
		t.Fatalf("seek: %v", err)
	}
	sess := m.Snapshot()
	if sess.PositionMS != 60000 || sess.TrackStartedAt != nil {
		t.Errorf("expected stored position 60000 without timestamp, got %d %v", sess.PositionMS, sess.TrackStartedAt)
	}
}

func TestToggleShuffleKeepsCurrentTrack(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := m.ToggleShuffle(context.Background()); err != nil {
		t.Fatalf("toggle shuffle: %v", err)
	}

	sess := m.Snapshot()
	if !sess.ShuffleEnabled {
		t.Error("expected shuffle enabled")
	}
	// The stub reverses on shuffle, so t1 moved to the tail.
	if sess.CurrentTrack.ID != "t1" {
		t.Errorf("current track must survive re-resolution, got %s", sess.CurrentTrack.ID)
	}
	if sess.QueueIndex != 2 {
		t.Errorf("expected current track relocated to index 2, got %d", sess.QueueIndex)
	}
	if sess.Queue[sess.QueueIndex].ID != sess.CurrentTrack.ID {
		t.Error("queue index must point at the current track")
	}
}

func TestDoubleToggleShuffleRestoresOrder(t *testing.T) {
	m, resolver, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := m.ToggleShuffle(context.Background()); err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if err := m.ToggleShuffle(context.Background()); err != nil {
		t.Fatalf("second toggle: %v", err)
	}

	sess := m.Snapshot()
	if sess.ShuffleEnabled {
		t.Error("expected shuffle disabled after double toggle")
	}
	for i, want := range []string{"t1", "t2", "t3"} {
		if sess.Queue[i].ID != want {
			t.Errorf("queue[%d]: expected %s, got %s", i, want, sess.Queue[i].ID)
		}
	}
	// Play + two toggles = three resolutions, no caching of shuffled orders.
	if resolver.calls != 3 {
		t.Errorf("expected 3 resolver calls, got %d", resolver.calls)
	}
}

func TestToggleShuffleWithoutContext(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	if err := m.ToggleShuffle(context.Background()); !errors.Is(err, ErrPlaybackUnavailable) {
		t.Fatalf("expected ErrPlaybackUnavailable, got %v", err)
	}
}

func TestSetSortClearsShuffle(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	pc := playContext()
	pc.Shuffle = true
	idx := 0
	pc.StartIndex = &idx
	if err := m.Play(context.Background(), "", pc, "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := m.SetSort(context.Background(), "title", queue.SortAsc); err != nil {
		t.Fatalf("set sort: %v", err)
	}

	sess := m.Snapshot()
	if sess.ShuffleEnabled {
		t.Error("sorting must clear the shuffle flag")
	}
	if sess.Sort == nil || sess.Sort.Field != "title" {
		t.Errorf("expected sort spec retained, got %+v", sess.Sort)
	}
}

func TestResolveFailureLeavesStateUntouched(t *testing.T) {
	m, resolver, pub, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")

	if err := m.Play(context.Background(), "t2", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}
	before := m.Snapshot()
	published := len(pub.states)

	resolver.err = queue.ErrUnresolved
	if err := m.ToggleShuffle(context.Background()); !errors.Is(err, queue.ErrUnresolved) {
		t.Fatalf("expected resolution error, got %v", err)
	}

	after := m.Snapshot()
	if after.CurrentTrack.ID != before.CurrentTrack.ID || after.QueueIndex != before.QueueIndex || after.ShuffleEnabled != before.ShuffleEnabled {
		t.Error("failed resolve must not change the session")
	}
	if len(pub.states) != published {
		t.Error("failed resolve must not broadcast")
	}
}

func TestSetActiveDeviceLastWriteWins(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("a", "A")
	m.RegisterDevice("b", "B")

	if err := m.SetActiveDevice("a"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := m.SetActiveDevice("b"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if got := m.Snapshot().ActiveDeviceID; got != "b" {
		t.Errorf("expected last writer b, got %q", got)
	}

	if err := m.SetActiveDevice("ghost"); !errors.Is(err, devices.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestSweepEvictsStaleActiveDeviceAndPauses(t *testing.T) {
	m, _, pub, _ := newTestManager(t, testTracks())

	// The registry stamps last-seen with the wall clock, so anchor there.
	base := time.Now()
	m.now = func() time.Time { return base }
	m.RegisterDevice("dev-1", "Kitchen")
	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}

	// 31 seconds of silence exceeds the 30 second grace period.
	m.now = func() time.Time { return base.Add(31 * time.Second) }
	m.SweepDevices(base.Add(31 * time.Second))

	sess := pub.lastState(t)
	if sess.IsPlaying {
		t.Error("expected implicit pause after active device eviction")
	}
	if sess.ActiveDeviceID != "" {
		t.Errorf("expected no active device, got %q", sess.ActiveDeviceID)
	}
	if sess.PositionMS != 31000 {
		t.Errorf("expected frozen position 31000, got %d", sess.PositionMS)
	}
	if sess.State() != StatePaused {
		t.Errorf("expected paused, got %s", sess.State())
	}
	if len(m.Devices()) != 0 {
		t.Error("expected device removed from registry")
	}
}

func TestSweepKeepsFreshDevices(t *testing.T) {
	m, _, pub, _ := newTestManager(t, testTracks())

	base := time.Now()
	m.RegisterDevice("dev-1", "Kitchen")
	published := len(pub.states)

	m.SweepDevices(base.Add(29 * time.Second))

	if len(m.Devices()) != 1 {
		t.Error("device inside the grace period must survive")
	}
	if len(pub.states) != published {
		t.Error("sweep with no evictions must not broadcast state")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m, _, _, _ := newTestManager(t, testTracks())
	m.RegisterDevice("dev-1", "Kitchen")
	if err := m.Play(context.Background(), "t1", playContext(), "dev-1", ""); err != nil {
		t.Fatalf("play: %v", err)
	}

	snap := m.Snapshot()
	snap.Queue[0].Title = "mutated"
	snap.CurrentTrack.Title = "mutated"

	fresh := m.Snapshot()
	if fresh.Queue[0].Title == "mutated" || fresh.CurrentTrack.Title == "mutated" {
		t.Error("snapshot must not share memory with the live session")
	}
}
