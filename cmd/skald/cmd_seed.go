/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/db"
	"github.com/friendsincode/skald/internal/models"
)

// Seed flags
var (
	seedFilePath     string
	seedPlaylistName string
	seedDemo         bool
)

// seedFile is the JSON import format accepted by --file.
type seedFile struct {
	Tracks []seedTrack `json:"tracks"`
}

type seedTrack struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	Genre      string `json:"genre,omitempty"`
	Year       int    `json:"year,omitempty"`
	Rating     int    `json:"rating,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Path       string `json:"path,omitempty"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the catalog with tracks and a playlist",
	Long: `Loads tracks into the catalog from a JSON file, or a small built-in demo
set with --demo, and groups them into one playlist.

Examples:
  skald seed --demo
  skald seed --file tracks.json --playlist "Road Trip"`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringVar(&seedFilePath, "file", "", "Path to JSON track list")
	seedCmd.Flags().StringVar(&seedPlaylistName, "playlist", "Seeded", "Name of the playlist to create")
	seedCmd.Flags().BoolVar(&seedDemo, "demo", false, "Seed a built-in demo catalog instead of reading a file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if seedFilePath == "" && !seedDemo {
		return fmt.Errorf("either --file or --demo is required")
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	tracks := demoTracks()
	if seedFilePath != "" {
		tracks, err = readSeedFile(seedFilePath)
		if err != nil {
			return err
		}
	}
	if len(tracks) == 0 {
		return fmt.Errorf("no tracks to seed")
	}

	playlist := models.Playlist{
		ID:   uuid.NewString(),
		Name: seedPlaylistName,
	}

	err = database.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&playlist).Error; err != nil {
			return err
		}
		for i, st := range tracks {
			track := models.Track{
				ID:         uuid.NewString(),
				Title:      st.Title,
				Artist:     st.Artist,
				Album:      st.Album,
				Genre:      st.Genre,
				Year:       st.Year,
				Rating:     st.Rating,
				DurationMS: st.DurationMS,
				Path:       st.Path,
			}
			if err := tx.Create(&track).Error; err != nil {
				return err
			}
			link := models.PlaylistTrack{
				PlaylistID: playlist.ID,
				TrackID:    track.ID,
				Position:   i,
			}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	logger.Info().
		Str("playlist_id", playlist.ID).
		Str("playlist", playlist.Name).
		Int("tracks", len(tracks)).
		Msg("catalog seeded")
	fmt.Printf("seeded %d tracks into playlist %q (%s)\n", len(tracks), playlist.Name, playlist.ID)
	return nil
}

func readSeedFile(path string) ([]seedTrack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var sf seedFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return sf.Tracks, nil
}

func demoTracks() []seedTrack {
	minutes := func(m, s int) int64 {
		return (time.Duration(m)*time.Minute + time.Duration(s)*time.Second).Milliseconds()
	}
	return []seedTrack{
		{Title: "Harbor Lights", Artist: "North Quay", Album: "Tidelines", Genre: "Ambient", Year: 2021, Rating: 4, DurationMS: minutes(4, 12)},
		{Title: "Signal Fire", Artist: "North Quay", Album: "Tidelines", Genre: "Ambient", Year: 2021, Rating: 3, DurationMS: minutes(3, 48)},
		{Title: "Glass Motorway", Artist: "Vera Lux", Album: "Night Driving", Genre: "Synthwave", Year: 2019, Rating: 5, DurationMS: minutes(5, 2)},
		{Title: "Half-Life Heart", Artist: "Vera Lux", Album: "Night Driving", Genre: "Synthwave", Year: 2019, Rating: 4, DurationMS: minutes(3, 33)},
		{Title: "Cold Brew", Artist: "The Percolators", Album: "Second Cup", Genre: "Jazz", Year: 2023, Rating: 4, DurationMS: minutes(6, 10)},
		{Title: "Slow Pour", Artist: "The Percolators", Album: "Second Cup", Genre: "Jazz", Year: 2023, Rating: 2, DurationMS: minutes(4, 45)},
	}
}
