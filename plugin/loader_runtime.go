package plugin

import (
	"context"
	"fmt"
	"sync"
)

// RuntimeLoader resolves plugins registered in process memory. Three
// sub-strategies are keyed per id: a direct plugin instance, a factory
// invoked on each load, or a zero-argument constructor. Factory products
// can optionally be cached in a capacity-limited FIFO cache.
type RuntimeLoader struct {
	mu           sync.RWMutex
	instances    map[string]Plugin
	factories    map[string]Factory
	constructors map[string]func() Plugin

	cacheInstances bool
	cacheCapacity  int
	cache          map[string]Plugin
	cacheOrder     []string

	logger Logger
}

// RuntimeLoaderOption configures a RuntimeLoader.
type RuntimeLoaderOption func(*RuntimeLoader)

// WithInstanceCache caches factory-built plugins, evicting in FIFO order
// once capacity entries are cached.
func WithInstanceCache(capacity int) RuntimeLoaderOption {
	return func(l *RuntimeLoader) {
		l.cacheInstances = true
		l.cacheCapacity = capacity
	}
}

// WithRuntimeLogger sets the loader's logger.
func WithRuntimeLogger(logger Logger) RuntimeLoaderOption {
	return func(l *RuntimeLoader) { l.logger = logger }
}

// NewRuntimeLoader creates an empty runtime loader.
func NewRuntimeLoader(opts ...RuntimeLoaderOption) *RuntimeLoader {
	l := &RuntimeLoader{
		instances:    make(map[string]Plugin),
		factories:    make(map[string]Factory),
		constructors: make(map[string]func() Plugin),
		cache:        make(map[string]Plugin),
		logger:       NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements Loader.
func (l *RuntimeLoader) Name() string { return "runtime" }

// RegisterInstance binds a ready plugin instance to its id. The instance
// is validated on registration.
func (l *RuntimeLoader) RegisterInstance(p Plugin) error {
	if err := validateInstance("", p); err != nil {
		return NewError(CodePluginRegistrationFailed, "instance rejected").
			WithPlugin(pluginID(p)).WithCause(err)
	}
	l.mu.Lock()
	l.instances[p.ID()] = p
	l.mu.Unlock()
	return nil
}

// RegisterFactory binds a factory to an id. Each load invokes the factory
// unless the instance cache holds a previous product.
func (l *RuntimeLoader) RegisterFactory(id string, factory Factory) error {
	if id == "" || factory == nil {
		return NewError(CodePluginRegistrationFailed, "factory registration requires an id and a factory")
	}
	l.mu.Lock()
	l.factories[id] = factory
	l.mu.Unlock()
	return nil
}

// RegisterConstructor binds a zero-argument constructor to an id.
func (l *RuntimeLoader) RegisterConstructor(id string, construct func() Plugin) error {
	if id == "" || construct == nil {
		return NewError(CodePluginRegistrationFailed, "constructor registration requires an id and a constructor")
	}
	l.mu.Lock()
	l.constructors[id] = construct
	l.mu.Unlock()
	return nil
}

// CanLoad implements Loader.
func (l *RuntimeLoader) CanLoad(id string, _ Config) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.instances[id]; ok {
		return true
	}
	if _, ok := l.factories[id]; ok {
		return true
	}
	_, ok := l.constructors[id]
	return ok
}

// Load implements Loader. Strategy precedence: instance, factory,
// constructor.
func (l *RuntimeLoader) Load(_ context.Context, id string, cfg Config) (Plugin, error) {
	l.mu.RLock()
	instance, hasInstance := l.instances[id]
	factory, hasFactory := l.factories[id]
	construct, hasConstructor := l.constructors[id]
	cached, hasCached := l.cache[id]
	l.mu.RUnlock()

	switch {
	case hasInstance:
		return instance, nil

	case hasFactory:
		if l.cacheInstances && hasCached {
			return cached, nil
		}
		p, err := factory(cfg)
		if err != nil {
			return nil, NewError(CodePluginLoadFailed,
				fmt.Sprintf("factory for %s failed", id)).WithPlugin(id).WithCause(err)
		}
		if err := validateInstance(id, p); err != nil {
			return nil, err
		}
		if l.cacheInstances {
			l.cachePut(id, p)
		}
		return p, nil

	case hasConstructor:
		p := construct()
		if err := validateInstance(id, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, NewError(CodePluginNotFound,
		fmt.Sprintf("no runtime registration for %s", id)).WithPlugin(id)
}

// cachePut stores a factory product, evicting the oldest entry at
// capacity.
func (l *RuntimeLoader) cachePut(id string, p Plugin) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.cache[id]; !exists {
		if l.cacheCapacity > 0 && len(l.cacheOrder) >= l.cacheCapacity {
			oldest := l.cacheOrder[0]
			l.cacheOrder = l.cacheOrder[1:]
			delete(l.cache, oldest)
			l.logger.Debug("Runtime loader cache eviction", "plugin", oldest)
		}
		l.cacheOrder = append(l.cacheOrder, id)
	}
	l.cache[id] = p
}

// ClearCache drops every cached factory product.
func (l *RuntimeLoader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]Plugin)
	l.cacheOrder = nil
	l.mu.Unlock()
}

func pluginID(p Plugin) string {
	if p == nil {
		return ""
	}
	return p.ID()
}
