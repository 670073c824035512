/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/friendsincode/skald/internal/hub"
	"github.com/friendsincode/skald/internal/queue"
	ws "nhooyr.io/websocket"
)

const wsWriteTimeout = 5 * time.Second

// clientFrame is an inbound WebSocket frame.
type clientFrame struct {
	Type     string          `json:"type"` // register | heartbeat | command
	DeviceID string          `json:"device_id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Action   string          `json:"action,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// errorFrame reports a failed command to the issuing connection only.
type errorFrame struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

// wsConn adapts a WebSocket connection to hub.Conn. Writes are serialized
// with a mutex because the hub and the error path both send.
type wsConn struct {
	conn *ws.Conn
	mu   sync.Mutex
}

func (c *wsConn) Send(msg hub.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(raw)
}

func (c *wsConn) sendError(action, message string) {
	raw, err := json.Marshal(errorFrame{Type: "error", Action: action, Message: message})
	if err != nil {
		return
	}
	_ = c.write(raw)
}

func (c *wsConn) write(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, raw)
}

// HandleWebSocket accepts a sync connection. The retained full snapshot is
// sent before any inbound frame is processed; after that the connection
// carries register/heartbeat/command frames inbound and broadcasts outbound.
func (a *API) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	c := &wsConn{conn: conn}
	a.hub.Connect(c)
	defer a.hub.Disconnect(c)

	ctx := r.Context()
	deviceID := ""

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) == ws.StatusNormalClosure {
				conn.Close(ws.StatusNormalClosure, "bye")
				return
			}
			a.logger.Debug().Err(err).Msg("websocket read error")
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			a.logger.Warn().Err(err).Msg("invalid websocket frame")
			continue
		}

		// Any inbound frame counts as liveness for the registered device.
		if deviceID != "" {
			_ = a.manager.HeartbeatDevice(deviceID)
		}

		switch frame.Type {
		case "register":
			if frame.DeviceID == "" {
				c.sendError("register", "device id required")
				continue
			}
			deviceID = frame.DeviceID
			a.manager.RegisterDevice(frame.DeviceID, frame.Name)

		case "heartbeat":
			// Liveness already refreshed above.

		case "command":
			if err := a.dispatchCommand(ctx, deviceID, frame); err != nil {
				a.logger.Warn().Err(err).Str("action", frame.Action).Msg("command failed")
				c.sendError(frame.Action, err.Error())
			}

		default:
			a.logger.Warn().Str("type", frame.Type).Msg("unknown frame type")
		}
	}
}

func (a *API) dispatchCommand(ctx context.Context, deviceID string, frame clientFrame) error {
	switch frame.Action {
	case "play":
		var data struct {
			TrackID        string            `json:"track_id"`
			TargetDeviceID string            `json:"target_device_id,omitempty"`
			Context        queue.PlayContext `json:"context"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return err
		}
		return a.manager.Play(ctx, data.TrackID, data.Context, deviceID, data.TargetDeviceID)

	case "pause":
		return a.manager.Pause()

	case "resume":
		return a.manager.Resume()

	case "next":
		return a.manager.Next()

	case "prev":
		return a.manager.Prev()

	case "seek":
		var data struct {
			PositionMS int64 `json:"position_ms"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return err
		}
		return a.manager.Seek(data.PositionMS)

	case "shuffle":
		return a.manager.ToggleShuffle(ctx)

	case "sort":
		var data struct {
			Field     string              `json:"field"`
			Direction queue.SortDirection `json:"direction"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return err
		}
		return a.manager.SetSort(ctx, data.Field, data.Direction)

	case "set_active":
		var data struct {
			DeviceID string `json:"device_id"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return err
		}
		id := data.DeviceID
		if id == "" {
			id = deviceID
		}
		return a.manager.SetActiveDevice(id)

	default:
		a.logger.Warn().Str("action", frame.Action).Msg("unknown command action")
		return nil
	}
}
