// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestRecordUpstreamQuery(t *testing.T) {
	before := testutil.ToFloat64(UpstreamQueryErrors.WithLabelValues("inventory"))

	RecordUpstreamQuery("inventory", 10*time.Millisecond, nil)
	if got := testutil.ToFloat64(UpstreamQueryErrors.WithLabelValues("inventory")); got != before {
		t.Errorf("successful query should not count an error: %v -> %v", before, got)
	}

	RecordUpstreamQuery("inventory", 5*time.Second, errors.New("timeout"))
	if got := testutil.ToFloat64(UpstreamQueryErrors.WithLabelValues("inventory")); got != before+1 {
		t.Errorf("errors = %v, want %v", got, before+1)
	}
}

func TestRecordDetectionCycle(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		result string
	}{
		{"ok", nil, "ok"},
		{"error", errors.New("query failed"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DetectionCycles.WithLabelValues("orders", tt.result)
			before := testutil.ToFloat64(c)
			RecordDetectionCycle("orders", time.Millisecond, tt.err)
			if got := testutil.ToFloat64(c); got != before+1 {
				t.Errorf("cycles{%s} = %v, want %v", tt.result, got, before+1)
			}
		})
	}

	skipped := DetectionCycles.WithLabelValues("orders", "skipped")
	before := testutil.ToFloat64(skipped)
	RecordDetectionSkipped("orders")
	if got := testutil.ToFloat64(skipped); got != before+1 {
		t.Errorf("skipped = %v, want %v", got, before+1)
	}
}

func TestRecordDelivery(t *testing.T) {
	live := MessagesDelivered.WithLabelValues("change")
	queued := MessagesQueued.WithLabelValues("change")
	liveBefore, queuedBefore := testutil.ToFloat64(live), testutil.ToFloat64(queued)

	RecordDelivery("change", false)
	RecordDelivery("change", true)
	RecordDelivery("change", true)

	if got := testutil.ToFloat64(live); got != liveBefore+1 {
		t.Errorf("delivered = %v, want %v", got, liveBefore+1)
	}
	if got := testutil.ToFloat64(queued); got != queuedBefore+2 {
		t.Errorf("queued = %v, want %v", got, queuedBefore+2)
	}
}

func TestRecordEventLogWrite(t *testing.T) {
	failed := EventLogWrites.WithLabelValues("alert", "error")
	before := testutil.ToFloat64(failed)
	RecordEventLogWrite("alert", errors.New("disk full"))
	RecordEventLogWrite("alert", nil)
	if got := testutil.ToFloat64(failed); got != before+1 {
		t.Errorf("alert write errors = %v, want %v", got, before+1)
	}
}

func TestGaugesWritable(t *testing.T) {
	ConnectionsActive.Set(3)
	var m io_prometheus_client.Metric
	if err := ConnectionsActive.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 3 {
		t.Errorf("connections_active = %v, want 3", got)
	}
	ConnectionsActive.Set(0)
}

func TestRecordMirror(t *testing.T) {
	ok := MirrorPublished.WithLabelValues("change")
	fail := MirrorErrors.WithLabelValues("change")
	okBefore, failBefore := testutil.ToFloat64(ok), testutil.ToFloat64(fail)

	RecordMirror("change", nil)
	RecordMirror("change", errors.New("nats down"))

	if testutil.ToFloat64(ok) != okBefore+1 || testutil.ToFloat64(fail) != failBefore+1 {
		t.Error("mirror counters did not advance")
	}
}
