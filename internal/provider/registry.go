package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Settings configures a provider instance.
type Settings struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Factory builds a provider from settings.
type Factory func(Settings) (Provider, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register makes a provider factory available under name.
// Registering the same name again replaces the factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	factories[strings.ToLower(name)] = f
}

// New builds the provider registered under name.
func New(name string, s Settings) (Provider, error) {
	mu.RLock()
	f, ok := factories[strings.ToLower(name)]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %s)", name, strings.Join(List(), ", "))
	}
	return f(s)
}

// List returns the names of all registered providers.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears all registered factories (for testing).
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	factories = make(map[string]Factory)
}
