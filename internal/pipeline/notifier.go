// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package pipeline

import (
	"context"

	"github.com/tomtom215/changewatch/internal/broadcast"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// AlertPublisher pushes alerts to subscribers.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, a *models.Alert) broadcast.Result
	PublishAcknowledged(ctx context.Context, a *models.Alert) broadcast.Result
}

// AlertNotifier sends raised alerts to subscribers and to the mirror.
type AlertNotifier struct {
	publisher AlertPublisher
	mirror    Mirror
}

// NewAlertNotifier creates a notifier. mirror may be nil.
func NewAlertNotifier(publisher AlertPublisher, mirror Mirror) *AlertNotifier {
	return &AlertNotifier{publisher: publisher, mirror: mirror}
}

// PublishAlert implements alerting.Notifier.
func (n *AlertNotifier) PublishAlert(ctx context.Context, a *models.Alert) broadcast.Result {
	res := n.publisher.PublishAlert(ctx, a)
	if n.mirror != nil {
		err := n.mirror.PublishAlert(ctx, a)
		metrics.RecordMirror("alert", err)
		if err != nil {
			logging.Warn().Err(err).Str("alert_id", a.ID).Msg("Failed to mirror alert")
		}
	}
	return res
}

// PublishAcknowledged implements alerting.Notifier.
func (n *AlertNotifier) PublishAcknowledged(ctx context.Context, a *models.Alert) broadcast.Result {
	return n.publisher.PublishAcknowledged(ctx, a)
}
