// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package websocket

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/juju/clock"

	"github.com/tomtom215/changewatch/internal/auth"
	"github.com/tomtom215/changewatch/internal/clients"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/queue"
	"github.com/tomtom215/changewatch/internal/snapshot"
)

const (
	defaultRequestLimit = 50
	maxRequestLimit     = 1000
	disconnectTimeout   = 5 * time.Second
)

// Replayer delivers queued messages to a session and activates it.
type Replayer interface {
	Replay(ctx context.Context, id string) (int, error)
}

// AlertSource lists active alerts.
type AlertSource interface {
	Active() []*models.Alert
}

// MetricsSource reports health counters.
type MetricsSource interface {
	Metrics() models.HealthMetrics
}

// Options are the collaborators of a Handler. Manager and Replayer are required.
type Options struct {
	Manager        *clients.Manager
	Replayer       Replayer
	Queue          queue.Store
	Snapshot       *snapshot.Store
	EventLog       eventlog.Store
	Alerts         AlertSource
	Health         MetricsSource
	AllowedOrigins []string
	Clock          clock.Clock

	// TrustProxyHeaders keys the connection rate limit by forwarded
	// headers. Off, the TCP peer address is used.
	TrustProxyHeaders bool
}

// Handler upgrades /ws requests and serves the client protocol.
type Handler struct {
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler.
func NewHandler(opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	h := &Handler{opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows same-host requests, requests without an Origin
// header and any configured origin. "*" allows everything.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// clientAddr is the address connection attempts are counted against.
func (h *Handler) clientAddr(r *http.Request) string {
	key := httprate.KeyByIP
	if h.opts.TrustProxyHeaders {
		key = httprate.KeyByRealIP
	}
	addr, err := key(r)
	if err != nil || addr == "" {
		return r.RemoteAddr
	}
	return addr
}

// ServeHTTP sets up the connection and blocks until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr := h.clientAddr(r)

	s, err := h.opts.Manager.Connect(r.Context(), clients.ConnectRequest{
		Addr:     addr,
		Token:    auth.TokenFromRequest(r),
		ResumeID: r.URL.Query().Get("client_id"),
	})
	if err != nil {
		var rl *clients.RateLimitError
		if errors.As(err, &rl) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many connection attempts")
			return
		}
		logging.Error().Err(err).Str("addr", addr).Msg("Connection setup failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "connection setup failed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Debug().Err(err).Str("client_id", s.ID).Msg("Websocket upgrade failed")
		h.disconnect(s.ID)
		return
	}

	ctx := r.Context()
	c := newClient(h, s, conn)
	h.start(ctx, c)
	c.readPump(ctx)

	s.Close()
	h.disconnect(s.ID)
}

// start sends the connected frame, starts the writer and replays the queue.
func (h *Handler) start(ctx context.Context, c *Client) {
	s := c.session
	pending := 0
	if h.opts.Queue != nil {
		if n, err := h.opts.Queue.Len(ctx, s.ID); err == nil {
			pending = n
		}
	}
	s.Offer(models.Message{Type: models.MessageTypeConnected, Data: models.ConnectedPayload{
		ClientID:      s.ID,
		Authenticated: s.Authenticated,
		Role:          s.Role,
		Resumed:       s.Resumed,
		Replayed:      pending,
	}})

	go c.writePump()

	if _, err := h.opts.Replayer.Replay(ctx, s.ID); err != nil {
		logging.Warn().Err(err).Str("client_id", s.ID).Msg("Replay failed")
	}
}

func (h *Handler) disconnect(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	h.opts.Manager.Disconnect(ctx, id)
}

// dispatch handles one decoded client frame.
func (h *Handler) dispatch(ctx context.Context, c *Client, msg inbound) {
	switch msg.Type {
	case models.MessageTypeSubscribe:
		h.handleSubscribe(ctx, c, msg.Data)
	case models.MessageTypeUnsubscribe:
		h.handleUnsubscribe(ctx, c, msg.Data)
	case models.MessageTypeRequest:
		h.handleRequest(ctx, c, msg.Data)
	case models.MessageTypePing:
		c.reply(models.MessageTypePong, models.PongPayload{ServerTime: h.opts.Clock.Now().UTC()})
	default:
		c.replyError("message", "", "VALIDATION_ERROR", "unknown message type "+strconv.Quote(msg.Type))
	}
}

func decodeTopics(data json.RawMessage) ([]string, bool) {
	var p models.TopicsPayload
	if len(data) == 0 || json.Unmarshal(data, &p) != nil || len(p.Topics) == 0 {
		return nil, false
	}
	return p.Topics, true
}

func (h *Handler) handleSubscribe(ctx context.Context, c *Client, data json.RawMessage) {
	const op = models.MessageTypeSubscribe
	topics, ok := decodeTopics(data)
	if !ok {
		c.replyError(op, "", "VALIDATION_ERROR", "topics must be a non-empty list")
		return
	}
	accepted, denied, err := h.opts.Manager.Subscribe(ctx, c.ID(), topics)
	if err != nil {
		c.replyError(op, "", models.ErrorCode(err), err.Error())
		return
	}
	if accepted == nil {
		accepted = []string{}
	}
	c.reply(models.MessageTypeSubscribed, models.SubscriptionAck{Topics: accepted, Denied: denied})
	if len(denied) > 0 {
		c.replyError(op, "", "FORBIDDEN", models.ErrTopicDenied.Error())
	}
}

func (h *Handler) handleUnsubscribe(ctx context.Context, c *Client, data json.RawMessage) {
	const op = models.MessageTypeUnsubscribe
	topics, ok := decodeTopics(data)
	if !ok {
		c.replyError(op, "", "VALIDATION_ERROR", "topics must be a non-empty list")
		return
	}
	if err := h.opts.Manager.Unsubscribe(ctx, c.ID(), topics); err != nil {
		c.replyError(op, "", models.ErrorCode(err), err.Error())
		return
	}
	c.reply(models.MessageTypeUnsubscribed, models.SubscriptionAck{Topics: topics})
}

// requestError is answered as request:error with its code.
type requestError struct {
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(msg string) error { return &requestError{code: "VALIDATION_ERROR", message: msg} }

func (h *Handler) handleRequest(ctx context.Context, c *Client, data json.RawMessage) {
	const op = models.MessageTypeRequest
	var req models.RequestPayload
	if len(data) == 0 || json.Unmarshal(data, &req) != nil || req.DataType == "" {
		c.replyError(op, req.RequestID, "VALIDATION_ERROR", "dataType is required")
		return
	}
	if !h.opts.Manager.CanRequest(c.session, req.DataType) {
		c.replyError(op, req.RequestID, "FORBIDDEN", "request type not permitted")
		return
	}

	result, err := h.resolve(ctx, req)
	if err != nil {
		var re *requestError
		if errors.As(err, &re) {
			c.replyError(op, req.RequestID, re.code, re.message)
			return
		}
		logging.Warn().Err(err).Str("client_id", c.ID()).Str("data_type", req.DataType).Msg("Request failed")
		c.replyError(op, req.RequestID, models.ErrorCode(err), err.Error())
		return
	}
	c.reply(models.MessageTypeResponse, models.ResponsePayload{
		RequestID: req.RequestID,
		DataType:  req.DataType,
		Data:      result,
	})
}

// resolve returns the current data for a request.
func (h *Handler) resolve(ctx context.Context, req models.RequestPayload) (interface{}, error) {
	switch req.DataType {
	case "snapshot":
		if h.opts.Snapshot == nil {
			return nil, badRequest("snapshot unavailable")
		}
		cat, err := categoryParam(req.Parameters)
		if err != nil {
			return nil, err
		}
		part := h.opts.Snapshot.Partition(cat)
		if id := stringParam(req.Parameters, "entityId"); id != "" {
			entry, ok := part.Get(id)
			if !ok {
				return nil, &requestError{code: "NOT_FOUND", message: "entity not found"}
			}
			return map[string]snapshot.Entry{id: entry}, nil
		}
		return part.List(), nil

	case "changes":
		if h.opts.EventLog == nil {
			return nil, badRequest("change log unavailable")
		}
		cat, err := categoryParam(req.Parameters)
		if err != nil {
			return nil, err
		}
		return h.opts.EventLog.RecentChanges(ctx, cat, limitParam(req.Parameters))

	case "alerts":
		if h.opts.Alerts == nil {
			return nil, badRequest("alerts unavailable")
		}
		var severity models.Severity
		if s := stringParam(req.Parameters, "severity"); s != "" {
			sev, err := models.ParseSeverity(s)
			if err != nil {
				return nil, badRequest(err.Error())
			}
			severity = sev
		}
		out := []*models.Alert{}
		for _, a := range h.opts.Alerts.Active() {
			if severity == "" || a.Severity == severity {
				out = append(out, a)
			}
		}
		return out, nil

	case "metrics":
		if h.opts.Health == nil {
			return nil, badRequest("metrics unavailable")
		}
		return h.opts.Health.Metrics(), nil

	default:
		return nil, badRequest("unknown dataType " + strconv.Quote(req.DataType))
	}
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func categoryParam(params map[string]interface{}) (models.Category, error) {
	raw := stringParam(params, "category")
	if raw == "" {
		return "", badRequest("category is required")
	}
	cat, err := models.ParseCategory(raw)
	if err != nil {
		return "", badRequest(err.Error())
	}
	return cat, nil
}

// limitParam accepts a JSON number or numeric string.
func limitParam(params map[string]interface{}) int {
	var n int
	switch v := params["limit"].(type) {
	case float64:
		n = int(v)
	case string:
		n, _ = strconv.Atoi(v)
	}
	if n <= 0 {
		return defaultRequestLimit
	}
	if n > maxRequestLimit {
		return maxRequestLimit
	}
	return n
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIResponse{
		Status:   "error",
		Error:    &models.APIError{Code: code, Message: message},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}
