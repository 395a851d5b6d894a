package fanout

import (
	"context"
	"sync"
)

// Memory is an in-process Bus for tests and single-server deployments.
// Handlers run synchronously on the publisher's goroutine.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

// NewMemory returns an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]Handler)}
}

// Publish delivers payload to every handler subscribed to channel.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.subs[channel]))
	for _, h := range m.subs[channel] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// Subscribe registers handler for channel.
func (m *Memory) Subscribe(_ context.Context, channel string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]Handler)
	}
	id := m.nextID
	m.nextID++
	m.subs[channel][id] = handler
	return &memorySubscription{bus: m, channel: channel, id: id}, nil
}

// Close drops every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = make(map[string]map[int]Handler)
	m.closed = true
	return nil
}

type memorySubscription struct {
	bus     *Memory
	channel string
	id      int
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.channel], s.id)
	return nil
}
