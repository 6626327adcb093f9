// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// request is one unit of work for the owner goroutine.
type request struct {
	fn   func(s *state)
	done chan struct{}
}

type set map[string]struct{}

// state is only touched by the goroutine running Serve.
type state struct {
	members     map[string]set // topic -> connection ids
	topics      map[string]set // connection id -> topics
	memberships int
}

// Stats is a point-in-time view of registry size.
type Stats struct {
	Topics      int `json:"topics"`
	Connections int `json:"connections"`
	Memberships int `json:"memberships"`
}

// Registry is the subscription registry.
type Registry struct {
	requests chan request
	stopped  chan struct{}
	stopOnce sync.Once
	st       state
}

// New creates a registry. Call Serve to start its owner goroutine.
func New() *Registry {
	return &Registry{
		requests: make(chan request),
		stopped:  make(chan struct{}),
		st: state{
			members: make(map[string]set),
			topics:  make(map[string]set),
		},
	}
}

// Serve implements suture.Service.
func (r *Registry) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.stopOnce.Do(func() { close(r.stopped) })
			logging.Info().
				Str("component", "subscription-registry").
				Int("topics", len(r.st.members)).
				Int("memberships", r.st.memberships).
				Msg("Subscription registry stopped")
			return ctx.Err()
		case req := <-r.requests:
			req.fn(&r.st)
			close(req.done)
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (r *Registry) String() string {
	return "subscription-registry"
}

// do runs fn on the owner goroutine and waits for it.
func (r *Registry) do(ctx context.Context, fn func(s *state)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case r.requests <- req:
	case <-r.stopped:
		return models.ErrRegistryStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe adds the connection to every topic.
func (r *Registry) Subscribe(ctx context.Context, connID string, topics ...string) error {
	return r.do(ctx, func(s *state) {
		for _, t := range topics {
			s.add(connID, t)
		}
		metrics.SubscriptionsActive.Set(float64(s.memberships))
	})
}

// Unsubscribe removes the connection from every topic.
func (r *Registry) Unsubscribe(ctx context.Context, connID string, topics ...string) error {
	return r.do(ctx, func(s *state) {
		for _, t := range topics {
			s.remove(connID, t)
		}
		metrics.SubscriptionsActive.Set(float64(s.memberships))
	})
}

// MembersOf returns the sorted connection ids subscribed to topic.
func (r *Registry) MembersOf(ctx context.Context, topic string) ([]string, error) {
	var out []string
	err := r.do(ctx, func(s *state) {
		out = sortedKeys(s.members[topic])
	})
	return out, err
}

// Resolve returns the sorted union of the members of topics.
// Each connection appears once however many of the topics it joined.
func (r *Registry) Resolve(ctx context.Context, topics []string) ([]string, error) {
	var out []string
	err := r.do(ctx, func(s *state) {
		union := make(set)
		for _, t := range topics {
			for id := range s.members[t] {
				union[id] = struct{}{}
			}
		}
		out = sortedKeys(union)
	})
	return out, err
}

// TopicsOf returns the sorted topics a connection belongs to.
func (r *Registry) TopicsOf(ctx context.Context, connID string) ([]string, error) {
	var out []string
	err := r.do(ctx, func(s *state) {
		out = sortedKeys(s.topics[connID])
	})
	return out, err
}

// Release removes the connection from all of its topics and returns them.
func (r *Registry) Release(ctx context.Context, connID string) ([]string, error) {
	var out []string
	err := r.do(ctx, func(s *state) {
		out = sortedKeys(s.topics[connID])
		for _, t := range out {
			s.remove(connID, t)
		}
		metrics.SubscriptionsActive.Set(float64(s.memberships))
	})
	return out, err
}

// Stats returns the registry size.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := r.do(ctx, func(s *state) {
		st = Stats{Topics: len(s.members), Connections: len(s.topics), Memberships: s.memberships}
	})
	return st, err
}

func (s *state) add(connID, topic string) {
	if _, ok := s.members[topic][connID]; ok {
		return
	}
	if s.members[topic] == nil {
		s.members[topic] = make(set)
	}
	if s.topics[connID] == nil {
		s.topics[connID] = make(set)
	}
	s.members[topic][connID] = struct{}{}
	s.topics[connID][topic] = struct{}{}
	s.memberships++
}

func (s *state) remove(connID, topic string) {
	if _, ok := s.members[topic][connID]; !ok {
		return
	}
	delete(s.members[topic], connID)
	if len(s.members[topic]) == 0 {
		delete(s.members, topic)
	}
	delete(s.topics[connID], topic)
	if len(s.topics[connID]) == 0 {
		delete(s.topics, connID)
	}
	s.memberships--
}

func sortedKeys(m set) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
