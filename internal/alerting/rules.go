// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package alerting

import (
	"fmt"

	"github.com/tomtom215/changewatch/internal/detection"
	"github.com/tomtom215/changewatch/internal/models"
)

// candidate is an alert a rule wants to raise.
type candidate struct {
	Type     models.AlertType
	Category models.Category
	EntityID string
	Title    string
	Message  string
	Data     map[string]interface{}
}

// failedStatuses end an order unsuccessfully.
var failedStatuses = map[string]bool{"failed": true, "cancelled": true}

// changeRules returns the candidates raised by rec under thresholds.
func changeRules(rec *models.ChangeRecord, th map[models.AlertType]models.Threshold) []candidate {
	switch rec.Category {
	case models.CategoryInventory:
		return inventoryRules(rec, th)
	case models.CategoryOrders:
		return orderRules(rec, th)
	case models.CategoryActivity:
		return activityRules(rec, th)
	default:
		return nil
	}
}

func inventoryRules(rec *models.ChangeRecord, th map[models.AlertType]models.Threshold) []candidate {
	qty, ok := detection.Number(rec.NewValue, "quantity")
	if !ok {
		return nil
	}
	out, hasOut := th[models.AlertOutOfStock]
	low, hasLow := th[models.AlertLowStock]
	data := map[string]interface{}{"quantity": qty, "changeId": rec.ID}
	name := displayName(rec)

	switch {
	case hasOut && qty <= out.Value:
		data["threshold"] = out.Value
		return []candidate{{
			Type:     models.AlertOutOfStock,
			Category: rec.Category,
			EntityID: rec.EntityID,
			Title:    "Out of stock",
			Message:  fmt.Sprintf("%s is out of stock (quantity %v)", name, qty),
			Data:     data,
		}}
	case hasLow && qty <= low.Value:
		data["threshold"] = low.Value
		return []candidate{{
			Type:     models.AlertLowStock,
			Category: rec.Category,
			EntityID: rec.EntityID,
			Title:    "Low stock",
			Message:  fmt.Sprintf("%s is low on stock (quantity %v, threshold %v)", name, qty, low.Value),
			Data:     data,
		}}
	}
	return nil
}

func orderRules(rec *models.ChangeRecord, th map[models.AlertType]models.Threshold) []candidate {
	var out []candidate

	if t, ok := th[models.AlertHighValueOrder]; ok && rec.ChangeType == models.ChangeInitial {
		if total, ok := detection.Number(rec.NewValue, "total"); ok && total >= t.Value {
			out = append(out, candidate{
				Type:     models.AlertHighValueOrder,
				Category: rec.Category,
				EntityID: rec.EntityID,
				Title:    "High value order",
				Message:  fmt.Sprintf("Order %s totals %v", rec.EntityID, total),
				Data:     map[string]interface{}{"total": total, "threshold": t.Value, "changeId": rec.ID},
			})
		}
	}

	if _, ok := th[models.AlertOrderFailed]; ok && rec.ChangeType == models.ChangeTransition {
		status, _ := rec.NewValue["status"].(string)
		if failedStatuses[status] {
			out = append(out, candidate{
				Type:     models.AlertOrderFailed,
				Category: rec.Category,
				EntityID: rec.EntityID,
				Title:    "Order " + status,
				Message:  fmt.Sprintf("Order %s moved to %s", rec.EntityID, status),
				Data:     map[string]interface{}{"status": status, "previous": rec.OldValue["status"], "changeId": rec.ID},
			})
		}
	}
	return out
}

func activityRules(rec *models.ChangeRecord, th map[models.AlertType]models.Threshold) []candidate {
	t, ok := th[models.AlertActivitySpike]
	if !ok || rec.ChangeType != models.ChangeIncrease {
		return nil
	}
	newCount, ok1 := detection.Number(rec.NewValue, "count")
	oldCount, ok2 := detection.Number(rec.OldValue, "count")
	if !ok1 || !ok2 {
		return nil
	}
	delta := newCount - oldCount
	if delta < t.Value {
		return nil
	}
	return []candidate{{
		Type:     models.AlertActivitySpike,
		Category: rec.Category,
		EntityID: rec.EntityID,
		Title:    "Activity spike",
		Message:  fmt.Sprintf("Activity on %s rose by %v to %v", rec.EntityID, delta, newCount),
		Data:     map[string]interface{}{"delta": delta, "count": newCount, "threshold": t.Value, "changeId": rec.ID},
	}}
}

// healthRules returns the candidates raised by a health snapshot.
func healthRules(m models.HealthMetrics, th map[models.AlertType]models.Threshold, minQueries int64) []candidate {
	var out []candidate
	base := func(t models.AlertType, title, msg string, data map[string]interface{}) candidate {
		return candidate{
			Type:     t,
			Category: models.CategorySystem,
			EntityID: models.HealthEntity,
			Title:    title,
			Message:  msg,
			Data:     data,
		}
	}

	if t, ok := th[models.AlertSlowQuery]; ok && m.AverageQueryTime > t.Value {
		out = append(out, base(models.AlertSlowQuery, "Slow upstream queries",
			fmt.Sprintf("Average query time %.1fms exceeds %vms", m.AverageQueryTime, t.Value),
			map[string]interface{}{"averageQueryTime": m.AverageQueryTime, "threshold": t.Value}))
	}

	if t, ok := th[models.AlertHighErrorRate]; ok && m.QueriesExecuted >= minQueries {
		if rate := m.ErrorRate(); rate > t.Value {
			out = append(out, base(models.AlertHighErrorRate, "High upstream error rate",
				fmt.Sprintf("%d of %d queries failed", m.ErrorsOccurred, m.QueriesExecuted),
				map[string]interface{}{"errorRate": rate, "threshold": t.Value}))
		}
	}

	if _, ok := th[models.AlertConnectionFailure]; ok && m.Status != models.StatusHealthy {
		out = append(out, base(models.AlertConnectionFailure, "Upstream connection failure",
			fmt.Sprintf("Upstream status is %s", m.Status),
			map[string]interface{}{"status": string(m.Status)}))
	}
	return out
}

func displayName(rec *models.ChangeRecord) string {
	if name, ok := rec.NewValue["name"].(string); ok && name != "" {
		return fmt.Sprintf("%s (%s)", name, rec.EntityID)
	}
	return rec.EntityID
}
