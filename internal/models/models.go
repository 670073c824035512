package models

import "time"

// Track is an audio asset in the catalog.
type Track struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	Title      string    `gorm:"index" json:"title"`
	Artist     string    `gorm:"index" json:"artist"`
	Album      string    `gorm:"index" json:"album"`
	Genre      string    `json:"genre,omitempty"`
	Year       int       `json:"year,omitempty"`
	Rating     int       `json:"rating,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Path       string    `json:"-"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
}

// Playlist is an ordered collection of tracks.
type Playlist struct {
	ID        string          `gorm:"type:uuid;primaryKey"`
	Name      string          `gorm:"uniqueIndex"`
	Tracks    []PlaylistTrack `gorm:"foreignKey:PlaylistID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlaylistTrack orders a track within a playlist.
type PlaylistTrack struct {
	PlaylistID string `gorm:"type:uuid;primaryKey"`
	TrackID    string `gorm:"type:uuid;primaryKey"`
	Position   int    `gorm:"index"`
}

// PlayHistory stores completed or started playback events.
type PlayHistory struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TrackID   string `gorm:"type:uuid;index"`
	Artist    string
	Title     string
	DeviceID  string `gorm:"index"`
	StartedAt time.Time
	Metadata  map[string]any `gorm:"serializer:json"`
}
