/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/skald/internal/client"
	"github.com/friendsincode/skald/internal/logging"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/session"
)

var (
	logger zerolog.Logger

	serverURL  string
	deviceID   string
	deviceName string
)

var rootCmd = &cobra.Command{
	Use:   "skaldremote",
	Short: "Skald remote - control and observe a Skald server",
	Long:  "skaldremote registers as a device against a Skald server, mirrors the shared playback state, and issues playback commands.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.Setup(os.Getenv("SKALD_ENV"))
		if deviceID == "" {
			deviceID = uuid.NewString()
		}
		if deviceName == "" {
			deviceName = "skaldremote"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "ws://127.0.0.1:8080/ws", "Skald WebSocket URL")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device-id", "", "Device id (random when empty)")
	rootCmd.PersistentFlags().StringVar(&deviceName, "name", "", "Device display name")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(simpleCmd("pause", "Pause playback", func(s *client.Synchronizer) error { return s.Pause() }))
	rootCmd.AddCommand(simpleCmd("resume", "Resume playback", func(s *client.Synchronizer) error { return s.Resume() }))
	rootCmd.AddCommand(simpleCmd("next", "Advance to the next queue entry", func(s *client.Synchronizer) error { return s.Next() }))
	rootCmd.AddCommand(simpleCmd("prev", "Go back to the previous queue entry", func(s *client.Synchronizer) error { return s.Prev() }))
	rootCmd.AddCommand(simpleCmd("shuffle", "Toggle shuffle", func(s *client.Synchronizer) error { return s.ToggleShuffle() }))
	rootCmd.AddCommand(seekCmd)
	rootCmd.AddCommand(sortCmd)
	rootCmd.AddCommand(activateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect dials the server and waits for the initial full snapshot.
func connect(ctx context.Context) (*client.Synchronizer, error) {
	sync := client.New(serverURL, deviceID, deviceName, client.NopRenderer{}, logger)
	if err := sync.Connect(ctx); err != nil {
		return nil, err
	}
	select {
	case <-sync.Updates():
	case <-time.After(5 * time.Second):
		sync.Close()
		return nil, fmt.Errorf("timed out waiting for initial snapshot from %s", serverURL)
	case <-ctx.Done():
		sync.Close()
		return nil, ctx.Err()
	}
	return sync, nil
}

// runOnce connects, runs fn, then waits for the resulting broadcast before
// printing the new state. Errors surface as server error frames in the log.
func runOnce(fn func(*client.Synchronizer) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sync, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sync.Close()

	if err := fn(sync); err != nil {
		return err
	}

	select {
	case sess := <-sync.Updates():
		printSession(sess, sync)
	case <-time.After(3 * time.Second):
		// No broadcast means the command changed nothing or was rejected.
		printSession(sync.Session(), sync)
	}
	return nil
}

func simpleCmd(use, short string, fn func(*client.Synchronizer) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(fn)
		},
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the shared playback state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sync, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sync.Close()

		printSession(sync.Session(), sync)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		for {
			select {
			case <-quit:
				return nil
			case sess := <-sync.Updates():
				printSession(sess, sync)
			}
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current playback state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sync, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sync.Close()
		printSession(sync.Session(), sync)
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List registered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sync, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sync.Close()

		active := sync.Session().ActiveDeviceID
		for _, d := range sync.Devices() {
			marker := " "
			if d.ID == active {
				marker = "*"
			}
			fmt.Printf("%s %s  %s  last seen %s\n", marker, d.ID, d.Name, d.LastSeenAt.Format(time.RFC3339))
		}
		return nil
	},
}

var (
	playPlaylistID string
	playTrackIDs   []string
	playQuery      string
	playTrackID    string
	playIndex      int
	playShuffled   bool
	playTarget     string
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Start playback from a playlist, track list, or search query",
	Long: `Resolves a play context on the server and starts playback on the target
device (this device when --target is omitted).

Examples:
  skaldremote play --playlist <uuid>
  skaldremote play --playlist <uuid> --index 3 --shuffled
  skaldremote play --tracks <uuid>,<uuid>,<uuid> --track <uuid>
  skaldremote play --query "north quay" --target living-room`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pc := queue.PlayContext{Shuffle: playShuffled}
		switch {
		case playPlaylistID != "":
			pc.Type = queue.ContextPlaylist
			pc.PlaylistID = playPlaylistID
		case len(playTrackIDs) > 0:
			pc.Type = queue.ContextTracks
			pc.TrackIDs = playTrackIDs
		case playQuery != "":
			pc.Type = queue.ContextSearch
			pc.Query = playQuery
		default:
			return fmt.Errorf("one of --playlist, --tracks, or --query is required")
		}
		if cmd.Flags().Changed("index") {
			pc.StartIndex = &playIndex
		}
		target := playTarget
		if target == "" {
			target = deviceID
		}
		return runOnce(func(s *client.Synchronizer) error {
			return s.Play(playTrackID, pc, target)
		})
	},
}

func init() {
	playCmd.Flags().StringVar(&playPlaylistID, "playlist", "", "Playlist id to play")
	playCmd.Flags().StringSliceVar(&playTrackIDs, "tracks", nil, "Explicit track id list to play")
	playCmd.Flags().StringVar(&playQuery, "query", "", "Search query to play")
	playCmd.Flags().StringVar(&playTrackID, "track", "", "Track id to start at")
	playCmd.Flags().IntVar(&playIndex, "index", 0, "Queue index to start at (wins over --track)")
	playCmd.Flags().BoolVar(&playShuffled, "shuffled", false, "Shuffle the resolved queue")
	playCmd.Flags().StringVar(&playTarget, "target", "", "Device id to play on (default: this device)")
}

var seekCmd = &cobra.Command{
	Use:   "seek <position-ms>",
	Short: "Seek within the current track",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ms, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[0], err)
		}
		return runOnce(func(s *client.Synchronizer) error { return s.Seek(ms) })
	},
}

var sortCmd = &cobra.Command{
	Use:   "sort <field> [asc|desc]",
	Short: "Sort the queue by a track field",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := queue.SortAsc
		if len(args) == 2 {
			direction = queue.SortDirection(args[1])
		}
		return runOnce(func(s *client.Synchronizer) error { return s.SetSort(args[0], direction) })
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate [device-id]",
	Short: "Make a device the active audio output (this device when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := deviceID
		if len(args) == 1 {
			id = args[0]
		}
		return runOnce(func(s *client.Synchronizer) error { return s.SetActiveDevice(id) })
	},
}

func printSession(sess session.Session, sync *client.Synchronizer) {
	switch sess.State() {
	case session.StateIdle:
		fmt.Println("idle")
	default:
		pos := time.Duration(sync.Position()) * time.Millisecond
		dur := time.Duration(sess.CurrentTrack.DurationMS) * time.Millisecond
		active := sess.ActiveDeviceID
		if active == "" {
			active = "-"
		}
		shuffle := ""
		if sess.ShuffleEnabled {
			shuffle = "  [shuffle]"
		}
		fmt.Printf("%s  %s - %s  %s/%s  (%d/%d)  on %s%s\n",
			sess.State(),
			sess.CurrentTrack.Artist, sess.CurrentTrack.Title,
			pos.Truncate(time.Second), dur.Truncate(time.Second),
			sess.QueueIndex+1, len(sess.Queue),
			active, shuffle)
	}
}
