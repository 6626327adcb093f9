// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package websocket

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/changewatch/internal/clients"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// inbound is a client frame before its payload is decoded.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client binds one websocket connection to its session.
type Client struct {
	handler *Handler
	session *clients.Session
	conn    *websocket.Conn
}

func newClient(h *Handler, s *clients.Session, conn *websocket.Conn) *Client {
	return &Client{handler: h, session: s, conn: conn}
}

// ID returns the session id.
func (c *Client) ID() string {
	return c.session.ID
}

// readPump decodes frames until the connection fails or the session closes.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Str("client_id", c.ID()).Msg("unexpected websocket close error")
			}
			return
		}

		if !c.session.AllowMessage() {
			c.replyError("message", "", "RATE_LIMIT_EXCEEDED", "too many messages")
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.replyError("message", "", "VALIDATION_ERROR", "malformed frame")
			continue
		}
		c.handler.dispatch(ctx, c, msg)
	}
}

// writePump writes outbound frames and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case message := <-c.session.Outbound():
			if err := c.write(message); err != nil {
				logging.Debug().Err(err).Str("client_id", c.ID()).Msg("failed to write message")
				c.session.Close()
				return
			}

		case <-c.session.Done():
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				c.session.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.session.Close()
				return
			}
		}
	}
}

func (c *Client) write(msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// reply queues a response frame behind any pushes already buffered.
func (c *Client) reply(msgType string, data interface{}) {
	if err := c.session.Send(models.Message{Type: msgType, Data: data}); err != nil {
		logging.Debug().Err(err).Str("client_id", c.ID()).Str("type", msgType).Msg("Reply dropped")
	}
}

func (c *Client) replyError(op, requestID, code, message string) {
	c.reply(models.ErrorType(op), models.ErrorPayload{RequestID: requestID, Code: code, Message: message})
}
