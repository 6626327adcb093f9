// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package config

import (
	"fmt"
	"strings"

	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/validation"
)

// minJWTSecretLength is the shortest HMAC secret accepted.
const minJWTSecretLength = 32

// Validate checks struct constraints first, then the cross-field rules
// validator tags cannot express.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	if err := c.validateRetention(); err != nil {
		return err
	}

	if err := c.validateThresholds(); err != nil {
		return err
	}

	if err := c.validateDetectors(); err != nil {
		return err
	}

	return c.validateSecurity()
}

// validateQueue requires a Redis address for the redis backend.
func (c *Config) validateQueue() error {
	if c.Queue.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required when QUEUE_BACKEND=redis")
	}
	return nil
}

// validateRetention keeps acknowledged alerts at least as long as changes.
func (c *Config) validateRetention() error {
	if c.Retention.AcknowledgedAlerts < c.Retention.Changes {
		return fmt.Errorf("retention.acknowledged_alerts (%v) must be >= retention.changes (%v)",
			c.Retention.AcknowledgedAlerts, c.Retention.Changes)
	}
	return nil
}

// validateThresholds rejects unknown alert types and inverted stock bands.
func (c *Config) validateThresholds() error {
	known := make(map[string]bool, len(models.AllAlertTypes))
	for _, t := range models.AllAlertTypes {
		known[string(t)] = true
	}
	for name := range c.Alerts.Thresholds {
		if !known[name] {
			return fmt.Errorf("alerts.thresholds: unknown alert type %q", name)
		}
	}

	low, lowOK := c.Alerts.Thresholds[string(models.AlertLowStock)]
	out, outOK := c.Alerts.Thresholds[string(models.AlertOutOfStock)]
	if lowOK && outOK && low.Threshold < out.Threshold {
		return fmt.Errorf("alerts.thresholds: low_stock (%v) must be >= out_of_stock (%v)", low.Threshold, out.Threshold)
	}
	return nil
}

// validateDetectors requires at least one enabled detector.
func (c *Config) validateDetectors() error {
	for _, cat := range models.AllCategories {
		if c.Detectors.For(cat).Enabled {
			return nil
		}
	}
	return fmt.Errorf("at least one detector must be enabled")
}

// validateSecurity checks the JWT secret when tokens are in use.
// An empty secret disables token verification: every connection is anonymous.
func (c *Config) validateSecurity() error {
	if c.Security.JWTSecret == "" {
		if c.Security.AdminAuth {
			return fmt.Errorf("JWT_SECRET is required when ADMIN_AUTH=true")
		}
		return nil
	}
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if c.IsProduction() && containsPlaceholder(c.Security.JWTSecret) {
		return fmt.Errorf("JWT_SECRET contains a placeholder value")
	}
	return nil
}

// placeholderPatterns indicate a value copied from an example file.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
	"EXAMPLE",
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
