package runtime

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/mmr-tortoise/flotilla/internal/logger"
)

// Options carries backend connection settings from the configuration.
type Options struct {
	// DockerHost overrides DOCKER_HOST and socket detection.
	DockerHost string

	// PodmanBinary is the podman executable name or path.
	PodmanBinary string

	// Progress receives pull and build output.
	Progress io.Writer

	Logger logger.Logger
}

// Factory opens a backend.
type Factory func(opts Options) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. It panics if name is
// registered twice, mirroring database/sql.Register.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("runtime: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("runtime: Register called twice for backend " + name)
	}
	registry[name] = factory
}

// Open creates the adapter registered under name.
func Open(name string, opts Options) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown runtime backend %q (available: %s)", name, strings.Join(Backends(), ", "))
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	return factory(opts)
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
