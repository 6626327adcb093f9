// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/changewatch/internal/clients"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/queue"
	"github.com/tomtom215/changewatch/internal/registry"
)

// DefaultDeliveryTimeout bounds each queue write and each blocking replay send.
const DefaultDeliveryTimeout = 2 * time.Second

// Directory is the connection manager as seen by the broadcaster.
type Directory interface {
	Target(id string) (clients.TargetState, *clients.Session)
	DetachedMembers(topics []string) []string
	Activate(id string) error
}

// Result counts the outcome of one publish.
type Result struct {
	Recipients int
	Delivered  int
	Queued     int
	Failed     int
}

// Broadcaster delivers events to topic members.
type Broadcaster struct {
	dir      Directory
	registry *registry.Registry
	queue    queue.Store
	timeout  time.Duration

	// mu serializes publishes against the last step of Replay.
	// Lock order: mu, then the directory.
	mu sync.Mutex
}

// New creates a broadcaster. A zero timeout uses DefaultDeliveryTimeout.
func New(dir Directory, reg *registry.Registry, q queue.Store, timeout time.Duration) *Broadcaster {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Broadcaster{dir: dir, registry: reg, queue: q, timeout: timeout}
}

// ChangeTopics returns the topics a change record is published on.
func ChangeTopics(rec *models.ChangeRecord) []string {
	return []string{rec.Topic(), models.CategoryTopic(rec.Category)}
}

// AlertTopics returns the topics an alert is published on.
func AlertTopics(a *models.Alert) []string {
	topics := make([]string, 0, 5)
	if a.Category != "" {
		topics = append(topics, models.EntityTopic(a.Category, a.EntityID), models.CategoryTopic(a.Category))
	}
	topics = append(topics, models.TopicAlerts, models.PriorityTopic(a.Severity))
	if a.Severity == models.SeverityCritical {
		topics = append(topics, models.RoleTopic("admin"))
	}
	return topics
}

// PublishChange sends a change push for rec.
func (b *Broadcaster) PublishChange(ctx context.Context, rec *models.ChangeRecord) Result {
	msg := models.Message{
		Type: models.MessageTypeChange,
		Data: models.ChangeEvent{Category: rec.Category, Payload: rec},
	}
	return b.Publish(ctx, ChangeTopics(rec), msg)
}

// PublishAlert sends an alert push.
func (b *Broadcaster) PublishAlert(ctx context.Context, a *models.Alert) Result {
	msg := models.Message{
		Type: models.MessageTypeAlert,
		Data: models.AlertEvent{Payload: a},
	}
	return b.Publish(ctx, AlertTopics(a), msg)
}

// PublishAcknowledged tells the alerts topic that a was acknowledged.
func (b *Broadcaster) PublishAcknowledged(ctx context.Context, a *models.Alert) Result {
	msg := models.Message{
		Type: models.MessageTypeAlertAcknowledged,
		Data: models.AlertEvent{Payload: a},
	}
	return b.Publish(ctx, []string{models.TopicAlerts}, msg)
}

// PublishSystem sends a system:update push.
func (b *Broadcaster) PublishSystem(ctx context.Context, m models.HealthMetrics) Result {
	msg := models.Message{
		Type: models.MessageTypeSystemUpdate,
		Data: models.SystemUpdate{Metrics: m},
	}
	return b.Publish(ctx, []string{models.TopicSystem}, msg)
}

// Publish delivers msg once to every member of any of topics.
func (b *Broadcaster) Publish(ctx context.Context, topics []string, msg models.Message) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	recipients, err := b.recipients(ctx, topics)
	if err != nil {
		logging.Warn().Err(err).Str("type", msg.Type).Msg("Failed to resolve recipients")
		return Result{}
	}

	res := Result{Recipients: len(recipients)}
	for _, id := range recipients {
		switch b.deliver(ctx, id, msg) {
		case outcomeDelivered:
			res.Delivered++
		case outcomeQueued:
			res.Queued++
		case outcomeFailed:
			res.Failed++
		}
	}
	return res
}

func (b *Broadcaster) recipients(ctx context.Context, topics []string) ([]string, error) {
	live, err := b.registry.Resolve(ctx, topics)
	if err != nil {
		return nil, err
	}
	detached := b.dir.DetachedMembers(topics)
	if len(detached) == 0 {
		return live, nil
	}
	return mergeSorted(live, detached), nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeQueued
	outcomeFailed
)

func (b *Broadcaster) deliver(ctx context.Context, id string, msg models.Message) outcome {
	state, s := b.dir.Target(id)
	switch state {
	case clients.TargetActive:
		if s.Offer(msg) {
			metrics.RecordDelivery(msg.Type, false)
			return outcomeDelivered
		}
		reason := "closed"
		if !s.Closed() {
			reason = "buffer_full"
			// A consumer that cannot keep up is disconnected; it can resume
			// and replay from its queue.
			s.Close()
		}
		metrics.DeliveryErrors.WithLabelValues(reason).Inc()
		logging.Warn().
			Err(models.NewOpError(models.ErrDelivery, "publish", id, errors.New(reason))).
			Str("client_id", id).
			Str("type", msg.Type).
			Msg("Live delivery failed, queueing")
		return b.enqueue(ctx, id, msg)
	case clients.TargetPending, clients.TargetDetached:
		return b.enqueue(ctx, id, msg)
	default:
		return outcomeSkipped
	}
}

func (b *Broadcaster) enqueue(ctx context.Context, id string, msg models.Message) outcome {
	qctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.queue.Enqueue(qctx, id, msg); err != nil {
		metrics.DeliveryErrors.WithLabelValues("queue").Inc()
		logging.Warn().
			Err(models.NewOpError(models.ErrDelivery, "enqueue", id, err)).
			Str("client_id", id).
			Str("type", msg.Type).
			Msg("Failed to queue message")
		return outcomeFailed
	}
	metrics.RecordDelivery(msg.Type, true)
	return outcomeQueued
}

// Replay delivers the queued messages of a pending session in enqueue
// order and then activates it. It returns how many messages were replayed.
func (b *Broadcaster) Replay(ctx context.Context, id string) (int, error) {
	state, s := b.dir.Target(id)
	if s == nil || (state != clients.TargetPending && state != clients.TargetActive) {
		return 0, models.ErrSessionClosed
	}

	replayed := 0
	for {
		batch, err := b.drain(ctx, id)
		if err != nil {
			return replayed, err
		}
		if len(batch) == 0 {
			break
		}
		n, err := b.sendAll(ctx, s, batch)
		replayed += n
		if err != nil {
			b.requeue(ctx, id, batch[n:])
			return replayed, err
		}
	}

	// Anything published since the last drain is queued behind the lock.
	b.mu.Lock()
	defer b.mu.Unlock()

	batch, err := b.drain(ctx, id)
	if err != nil {
		return replayed, err
	}
	n, err := b.sendAll(ctx, s, batch)
	replayed += n
	if err != nil {
		b.requeueLocked(ctx, id, batch[n:])
		return replayed, err
	}

	if err := b.dir.Activate(id); err != nil {
		return replayed, err
	}
	metrics.MessagesReplayed.Add(float64(replayed))
	if replayed > 0 {
		logging.Info().Str("client_id", id).Int("replayed", replayed).Msg("Replayed queued messages")
	}
	return replayed, nil
}

func (b *Broadcaster) drain(ctx context.Context, id string) ([]models.QueuedMessage, error) {
	qctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	batch, err := b.queue.Drain(qctx, id)
	if err != nil {
		return nil, models.NewOpError(models.ErrDelivery, "drain", id, err)
	}
	return batch, nil
}

func (b *Broadcaster) sendAll(ctx context.Context, s *clients.Session, batch []models.QueuedMessage) (int, error) {
	for i, entry := range batch {
		sctx, cancel := context.WithTimeout(ctx, b.timeout)
		err := s.SendWait(sctx, entry.Payload)
		cancel()
		if err != nil {
			return i, err
		}
	}
	return len(batch), nil
}

// requeue puts undelivered messages back ahead of anything queued since.
func (b *Broadcaster) requeue(ctx context.Context, id string, rest []models.QueuedMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requeueLocked(ctx, id, rest)
}

func (b *Broadcaster) requeueLocked(ctx context.Context, id string, rest []models.QueuedMessage) {
	if len(rest) == 0 {
		return
	}
	qctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.queue.Requeue(qctx, id, rest); err != nil {
		metrics.DeliveryErrors.WithLabelValues("queue").Add(float64(len(rest)))
		logging.Warn().
			Err(models.NewOpError(models.ErrDelivery, "requeue", id, err)).
			Str("client_id", id).
			Int("messages", len(rest)).
			Msg("Failed to requeue undelivered messages")
	}
}

// mergeSorted unions two sorted, duplicate-free id lists.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
