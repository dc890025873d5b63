// Package plugins maps the backend and telemetry transport names used in the
// configuration to their constructors.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/dispatchsync/config"
	"github.com/kilianp07/dispatchsync/core/backend"
	"github.com/kilianp07/dispatchsync/core/logger"
	"github.com/kilianp07/dispatchsync/core/telemetry"
	"github.com/kilianp07/dispatchsync/infra/mqtt"
)

// Env is what a factory may draw on. MQTT connects the shared broker session
// on first use.
type Env struct {
	Config *config.Config
	Log    logger.Logger
	MQTT   func() (*mqtt.Client, error)
}

// Transport is an open telemetry transport.
type Transport struct {
	Source telemetry.Source
	Writer telemetry.Writer
	// Close releases the transport; nil when there is nothing to release.
	Close func() error
}

// BackendFactory builds the REST backend implementation.
type BackendFactory func(env Env) (backend.Backend, error)

// TransportFactory opens a telemetry transport.
type TransportFactory func(ctx context.Context, env Env) (Transport, error)

var (
	mu         sync.RWMutex
	backends   = map[string]BackendFactory{}
	transports = map[string]TransportFactory{}
)

func RegisterBackend(name string, f BackendFactory) {
	mu.Lock()
	defer mu.Unlock()
	backends[name] = f
}

func RegisterTransport(name string, f TransportFactory) {
	mu.Lock()
	defer mu.Unlock()
	transports[name] = f
}

// NewBackend builds the backend named by env.Config.Backend.Mode.
func NewBackend(env Env) (backend.Backend, error) {
	name := env.Config.Backend.Mode
	mu.RLock()
	f, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (known: %v)", name, names(backends))
	}
	return f(env)
}

// OpenTransport opens the transport named by env.Config.Telemetry.Transport.
func OpenTransport(ctx context.Context, env Env) (Transport, error) {
	name := env.Config.Telemetry.Transport
	mu.RLock()
	f, ok := transports[name]
	mu.RUnlock()
	if !ok {
		return Transport{}, fmt.Errorf("unknown telemetry transport %q (known: %v)", name, names(transports))
	}
	return f(ctx, env)
}

func names[F any](m map[string]F) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
