/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue turns a play context plus an ordering preference into a
// concrete track list. Resolution happens exactly once per mutation on the
// server, so every connected device sees the same ordering; shuffle in
// particular is seeded here and never re-randomized per device.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/friendsincode/skald/internal/catalog"
	"github.com/friendsincode/skald/internal/models"
	"github.com/rs/zerolog"
)

// ErrUnresolved indicates the play context could not produce a queue.
var ErrUnresolved = errors.New("play context could not be resolved")

// ContextType tags the play context variants.
type ContextType string

const (
	ContextPlaylist   ContextType = "playlist"
	ContextTracks     ContextType = "tracks"
	ContextBuilder    ContextType = "builder"
	ContextSearch     ContextType = "search"
	ContextComparison ContextType = "comparison"
)

// PlayContext describes what to play, independent of ordering. It carries
// only the reference needed to re-resolve: a playlist id, an explicit track
// id list (tracks/builder/comparison) or a search query.
type PlayContext struct {
	Type       ContextType `json:"type"`
	PlaylistID string      `json:"playlist_id,omitempty"`
	TrackIDs   []string    `json:"track_ids,omitempty"`
	Query      string      `json:"query,omitempty"`
	Shuffle    bool        `json:"shuffle,omitempty"`
	StartIndex *int        `json:"start_index,omitempty"`
}

// SortDirection is asc or desc.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec orders a resolved queue by a track field.
type SortSpec struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// Resolver materializes queues from the catalog.
type Resolver struct {
	catalog *catalog.Service
	logger  zerolog.Logger
	seed    func() int64
}

// New creates a resolver. Shuffle seeds come from the wall clock.
func New(cat *catalog.Service, logger zerolog.Logger) *Resolver {
	return &Resolver{
		catalog: cat,
		logger:  logger.With().Str("component", "queue").Logger(),
		seed:    func() int64 { return time.Now().UnixNano() },
	}
}

// Resolve maps the context plus shuffle flag or sort spec to an ordered
// track list. Deterministic for identical inputs against an identical
// catalog snapshot. Shuffle and sort are mutually exclusive; shuffle wins
// if both are passed.
func (r *Resolver) Resolve(ctx context.Context, pc PlayContext, shuffle bool, sortSpec *SortSpec) ([]models.Track, error) {
	tracks, err := r.materialize(ctx, pc)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: context %s produced no tracks", ErrUnresolved, pc.Type)
	}

	switch {
	case shuffle:
		shuffleTracks(tracks, r.seed())
	case sortSpec != nil:
		if err := sortTracks(tracks, *sortSpec); err != nil {
			return nil, err
		}
	}

	r.logger.Debug().
		Str("context", string(pc.Type)).
		Int("tracks", len(tracks)).
		Bool("shuffle", shuffle).
		Msg("queue resolved")

	return tracks, nil
}

func (r *Resolver) materialize(ctx context.Context, pc PlayContext) ([]models.Track, error) {
	switch pc.Type {
	case ContextPlaylist:
		if pc.PlaylistID == "" {
			return nil, fmt.Errorf("%w: playlist context without playlist id", ErrUnresolved)
		}
		tracks, err := r.catalog.PlaylistTracks(ctx, pc.PlaylistID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnresolved, err)
		}
		return tracks, nil

	case ContextTracks, ContextBuilder, ContextComparison:
		if len(pc.TrackIDs) == 0 {
			return nil, fmt.Errorf("%w: empty track id list", ErrUnresolved)
		}
		tracks, err := r.catalog.TracksByID(ctx, pc.TrackIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnresolved, err)
		}
		return tracks, nil

	case ContextSearch:
		if strings.TrimSpace(pc.Query) == "" {
			return nil, fmt.Errorf("%w: empty search query", ErrUnresolved)
		}
		tracks, err := r.catalog.Search(ctx, pc.Query)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnresolved, err)
		}
		return tracks, nil

	default:
		return nil, fmt.Errorf("%w: unknown context type %q", ErrUnresolved, pc.Type)
	}
}

func shuffleTracks(tracks []models.Track, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})
}

// sortTracks orders by the given field with track id as the stable
// secondary key so equal values never diverge between resolutions.
func sortTracks(tracks []models.Track, spec SortSpec) error {
	key, err := sortKey(spec.Field)
	if err != nil {
		return err
	}
	desc := spec.Direction == SortDesc
	if spec.Direction != SortAsc && spec.Direction != SortDesc {
		return fmt.Errorf("%w: unknown sort direction %q", ErrUnresolved, spec.Direction)
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		a, b := key(tracks[i]), key(tracks[j])
		if a == b {
			return tracks[i].ID < tracks[j].ID
		}
		if desc {
			return a > b
		}
		return a < b
	})
	return nil
}

func sortKey(field string) (func(models.Track) string, error) {
	switch strings.ToLower(field) {
	case "title":
		return func(t models.Track) string { return strings.ToLower(t.Title) }, nil
	case "artist":
		return func(t models.Track) string { return strings.ToLower(t.Artist) }, nil
	case "album":
		return func(t models.Track) string { return strings.ToLower(t.Album) }, nil
	case "genre":
		return func(t models.Track) string { return strings.ToLower(t.Genre) }, nil
	case "year":
		return func(t models.Track) string { return fmt.Sprintf("%08d", t.Year) }, nil
	case "rating":
		return func(t models.Track) string { return fmt.Sprintf("%04d", t.Rating) }, nil
	case "duration":
		return func(t models.Track) string { return fmt.Sprintf("%012d", t.DurationMS) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown sort field %q", ErrUnresolved, field)
	}
}
