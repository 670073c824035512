/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog exposes the narrow read surface of the track store that
// queue resolution depends on. Everything else about the library (imports,
// ratings, smart playlists) lives behind this boundary.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/friendsincode/skald/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrPlaylistNotFound indicates the playlist does not exist.
var ErrPlaylistNotFound = errors.New("playlist not found")

// Service provides catalog lookups.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a catalog service.
func New(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{db: db, logger: logger.With().Str("component", "catalog").Logger()}
}

// TrackByID returns a single track.
func (s *Service) TrackByID(ctx context.Context, id string) (*models.Track, error) {
	var track models.Track
	if err := s.db.WithContext(ctx).First(&track, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("track %s: %w", id, err)
	}
	return &track, nil
}

// TracksByID returns tracks in the order of the given id list. Unknown ids
// are reported, not skipped.
func (s *Service) TracksByID(ctx context.Context, ids []string) ([]models.Track, error) {
	var rows []models.Track
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tracks by id: %w", err)
	}

	byID := make(map[string]models.Track, len(rows))
	for _, t := range rows {
		byID[t.ID] = t
	}

	tracks := make([]models.Track, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("track %s: %w", id, gorm.ErrRecordNotFound)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// PlaylistTracks returns the playlist's tracks in playlist order.
func (s *Service) PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	var playlist models.Playlist
	err := s.db.WithContext(ctx).First(&playlist, "id = ?", playlistID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("playlist %s: %w", playlistID, ErrPlaylistNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("playlist %s: %w", playlistID, err)
	}

	var links []models.PlaylistTrack
	if err := s.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("position ASC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("playlist tracks %s: %w", playlistID, err)
	}

	ids := make([]string, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.TrackID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.TracksByID(ctx, ids)
}

// Search matches free text against title, artist and album. Results come
// back in a stable order (title, then id) so repeated resolutions agree.
func (s *Service) Search(ctx context.Context, query string) ([]models.Track, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var tracks []models.Track
	err := s.db.WithContext(ctx).
		Where("LOWER(title) LIKE ? OR LOWER(artist) LIKE ? OR LOWER(album) LIKE ?", pattern, pattern, pattern).
		Order("title ASC, id ASC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return tracks, nil
}
