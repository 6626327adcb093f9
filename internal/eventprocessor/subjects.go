// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package eventprocessor

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/models"
)

// ErrNATSUnavailable is returned by NewMirror in builds without -tags=nats.
var ErrNATSUnavailable = errors.New("NATS mirror not available: build with -tags=nats")

// ErrMirrorNotReady is returned by publishes before Start completes.
var ErrMirrorNotReady = errors.New("NATS mirror not started")

// MirrorConfig is the runtime form of config.NATSConfig.
type MirrorConfig struct {
	URL            string
	EmbeddedServer bool
	Host           string
	Port           int
	StoreDir       string
	SubjectPrefix  string
	StreamName     string
	MaxAge         time.Duration
	DuplicateWin   time.Duration
	ConnectTimeout time.Duration
}

// MirrorConfigFrom derives the mirror settings. Host and port of the
// embedded server come from the client URL.
func MirrorConfigFrom(cfg config.NATSConfig) MirrorConfig {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "changewatch"
	}
	mc := MirrorConfig{
		URL:            cfg.URL,
		EmbeddedServer: cfg.EmbeddedServer,
		Host:           "127.0.0.1",
		Port:           4222,
		StoreDir:       cfg.StoreDir,
		SubjectPrefix:  prefix,
		StreamName:     streamName(prefix),
		MaxAge:         24 * time.Hour,
		DuplicateWin:   2 * time.Minute,
		ConnectTimeout: 10 * time.Second,
	}
	if u, err := url.Parse(cfg.URL); err == nil && u.Hostname() != "" {
		mc.Host = u.Hostname()
		if p, err := strconv.Atoi(u.Port()); err == nil {
			mc.Port = p
		}
	}
	return mc
}

// ChangeSubject is the subject of a change record.
func (c MirrorConfig) ChangeSubject(cat models.Category) string {
	return c.SubjectPrefix + ".changes." + string(cat)
}

// AlertSubject is the subject of an alert.
func (c MirrorConfig) AlertSubject(sev models.Severity) string {
	return c.SubjectPrefix + ".alerts." + string(sev)
}

// StreamSubjects are captured by the mirror stream.
func (c MirrorConfig) StreamSubjects() []string {
	return []string{c.SubjectPrefix + ".>"}
}

// streamName maps "changewatch.prod" to "CHANGEWATCH_PROD"; stream names
// may not contain dots.
func streamName(prefix string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(prefix))
}
