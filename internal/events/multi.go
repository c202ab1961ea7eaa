package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiPublisher fans every event out to a set of publishers.
// Delivery to one sink does not depend on the others succeeding.
type MultiPublisher struct {
	mu    sync.RWMutex
	sinks []Publisher
}

// NewMultiPublisher creates a MultiPublisher over the given sinks. Nil sinks are skipped.
func NewMultiPublisher(sinks ...Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add registers another sink.
func (m *MultiPublisher) Add(p Publisher) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, p)
	m.mu.Unlock()
}

// Len returns the number of sinks.
func (m *MultiPublisher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

// Publish forwards the event to every sink and joins their errors.
func (m *MultiPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	m.mu.RLock()
	sinks := append([]Publisher(nil), m.sinks...)
	m.mu.RUnlock()

	var errs []error
	for i, s := range sinks {
		if err := s.Publish(ctx, routingKey, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiPublisher) Close() error {
	m.mu.Lock()
	sinks := m.sinks
	m.sinks = nil
	m.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Publisher = (*MultiPublisher)(nil)
