package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownDatabase is returned for keys that were never registered.
var ErrUnknownDatabase = errors.New("unknown database key")

// NamedConfig pairs a registered key with its config.
type NamedConfig struct {
	Key    string `json:"key"`
	Config Config `json:"config"`
}

// Registry maps database keys to configs and holds at most one live adapter per key.
type Registry struct {
	mu       sync.Mutex
	configs  map[string]Config
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		configs:  make(map[string]Config),
		adapters: make(map[string]Adapter),
	}
}

// Register records cfg under key. Re-registering an identical config keeps the live adapter;
// a changed config drops it so the next lookup builds a fresh one.
func (r *Registry) Register(key string, cfg Config) error {
	if key == "" {
		return errors.New("database key is required")
	}
	if !Supported(cfg.Type) {
		return fmt.Errorf("unsupported database type: %q", cfg.Type)
	}

	r.mu.Lock()
	old, exists := r.configs[key]
	if exists && old == cfg {
		r.mu.Unlock()
		return nil
	}
	stale := r.adapters[key]
	delete(r.adapters, key)
	r.configs[key] = cfg
	r.mu.Unlock()

	if stale != nil {
		if err := stale.Disconnect(context.Background()); err != nil {
			log.Warn().Err(err).Str("db_key", key).Msg("failed to disconnect replaced adapter")
		}
	}
	return nil
}

// RegisterAdapter installs a ready-made adapter under key.
func (r *Registry) RegisterAdapter(key string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[key] = Config{Type: a.Type(), Name: key}
	r.adapters[key] = a
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.configs[key]
	return ok
}

// Config returns the config registered under key.
func (r *Registry) Config(key string) (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[key]
	return cfg, ok
}

// Adapter returns the adapter for key, instantiating it on first use.
func (r *Registry) Adapter(key string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[key]; ok {
		return a, nil
	}
	cfg, ok := r.configs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, key)
	}
	a, err := newAdapter(cfg)
	if err != nil {
		return nil, err
	}
	r.adapters[key] = a
	return a, nil
}

// Connect connects the adapter for key.
func (r *Registry) Connect(ctx context.Context, key string) error {
	a, err := r.Adapter(key)
	if err != nil {
		return err
	}
	return a.Connect(ctx)
}

// Disconnect disconnects the adapter for key, if one was instantiated.
func (r *Registry) Disconnect(ctx context.Context, key string) error {
	r.mu.Lock()
	a, ok := r.adapters[key]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return a.Disconnect(ctx)
}

// DisconnectAll disconnects every live adapter concurrently and returns the first error.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.Lock()
	live := make(map[string]Adapter, len(r.adapters))
	for k, a := range r.adapters {
		live[k] = a
	}
	r.mu.Unlock()

	var g errgroup.Group
	for key, a := range live {
		g.Go(func() error {
			if err := a.Disconnect(ctx); err != nil {
				return fmt.Errorf("disconnect %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Configs lists registered configs ordered by key.
func (r *Registry) Configs() []NamedConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NamedConfig, 0, len(r.configs))
	for k, c := range r.configs {
		out = append(out, NamedConfig{Key: k, Config: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
