package channels

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coopco/relaybot/internal/cron"
)

// Manager routes outbound sends to named channels and remembers the most
// recently active route so deliveries addressed to "last" have a target.
type Manager struct {
	mu       sync.Mutex
	channels map[string]Channel
	last     *cron.Route
}

func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// AddChannel creates and registers a channel from config.
func (m *Manager) AddChannel(name string, cfgJSON json.RawMessage) error {
	factory, ok := GetFactory(name)
	if !ok {
		return fmt.Errorf("no factory registered for channel %q", name)
	}
	ch, err := factory(cfgJSON)
	if err != nil {
		return fmt.Errorf("failed to create channel %q: %w", name, err)
	}
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()
	return nil
}

// Send dispatches a message to the named channel.
func (m *Manager) Send(channel, to, text string, opts cron.SendOptions) error {
	m.mu.Lock()
	ch, ok := m.channels[channel]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	return ch.Send(to, text, opts)
}

// RecordRoute updates the "last" route. The host gateway calls this on every
// inbound message it handles.
func (m *Manager) RecordRoute(r cron.Route) {
	if r.Channel == "" || r.To == "" {
		return
	}
	m.mu.Lock()
	m.last = &r
	m.mu.Unlock()
}

// Last returns the most recently recorded route, if any.
func (m *Manager) Last() (cron.Route, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return cron.Route{}, false
	}
	return *m.last, true
}

// Names returns the names of all configured channels.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
