/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history records every track start into the database for later
// inspection. It listens on the event bus so the session manager never
// blocks on a database write.
package history

import (
	"context"
	"time"

	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Recorder appends play history rows from now-playing events.
type Recorder struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Recorder {
	return &Recorder{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "history").Logger(),
		now:    time.Now,
	}
}

// Start consumes now-playing events until ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	sub := r.bus.Subscribe(events.EventNowPlaying)
	defer r.bus.Unsubscribe(events.EventNowPlaying, sub)

	r.logger.Info().Msg("history recorder started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("history recorder stopped")
			return
		case payload := <-sub:
			r.record(payload)
		}
	}
}

func (r *Recorder) record(payload events.Payload) {
	trackID, _ := payload["track_id"].(string)
	if trackID == "" {
		return
	}
	title, _ := payload["title"].(string)
	artist, _ := payload["artist"].(string)
	deviceID, _ := payload["device_id"].(string)

	entry := models.PlayHistory{
		ID:        uuid.NewString(),
		TrackID:   trackID,
		Artist:    artist,
		Title:     title,
		DeviceID:  deviceID,
		StartedAt: r.now(),
		Metadata:  map[string]any(payload),
	}
	if err := r.db.Create(&entry).Error; err != nil {
		r.logger.Error().Err(err).Str("track_id", trackID).Msg("failed to record play history")
		return
	}
	r.logger.Debug().Str("track_id", trackID).Str("title", title).Msg("play recorded")
}

// Recent returns the most recent entries, newest first.
func (r *Recorder) Recent(limit int) ([]models.PlayHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.PlayHistory
	if err := r.db.Order("started_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
