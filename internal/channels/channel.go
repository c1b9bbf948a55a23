package channels

import (
	"encoding/json"

	"github.com/coopco/relaybot/internal/cron"
)

// Channel is the interface all outbound chat platform adapters implement.
// Adapters are send-only: inbound traffic is the host gateway's concern.
type Channel interface {
	Name() string
	Send(to, text string, opts cron.SendOptions) error
}

// Factory creates a Channel from its JSON config block.
type Factory func(cfg json.RawMessage) (Channel, error)

var registry = map[string]Factory{}

// Register adds a channel factory to the registry.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// GetFactory returns the factory for a channel name.
func GetFactory(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// RegisteredNames returns all registered channel names.
func RegisteredNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
