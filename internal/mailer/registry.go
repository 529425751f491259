package mailer

import (
	"fmt"
	"sync"
)

// Registry holds the available mail providers keyed by name.
type Registry struct {
	mu      sync.RWMutex
	senders map[ProviderName]Sender
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[ProviderName]Sender)}
}

// Register adds a provider, replacing any existing one with the same name.
func (r *Registry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Type()] = s
}

// Get returns the provider registered under name.
func (r *Registry) Get(name ProviderName) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[name]
	if !ok {
		return nil, fmt.Errorf("mail provider %q not registered", name)
	}
	return s, nil
}
