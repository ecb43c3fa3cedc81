package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"
	"sync"
	"unicode"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// defaultExtensions is the resolution order when none is configured.
var defaultExtensions = []string{".so", ".json", ".yaml", ".yml", ".toml"}

// FilesystemLoader resolves plugin ids against a base directory. For each
// candidate extension it probes base/<id>.<ext>, base/<id>/index.<ext> and
// base/<id>/<id>.<ext>, in that order.
//
// Shared objects (.so) are opened with the standard plugin package: the
// loader selects the symbol Plugin, then the id in exported camel form
// (cache-warmer becomes CacheWarmer), then a NewPlugin constructor. Descriptor files (.json/.yaml/.toml)
// come in two flavors: a factory descriptor carries a "factory" field
// naming a factory registered on the loader, while a plain instance
// descriptor is deserialized into a declarative plugin.
//
// The optional module cache is keyed by the canonicalized absolute path
// and invalidated by ClearCache or, when WatchBase is enabled, by
// filesystem change notifications.
type FilesystemLoader struct {
	base       string
	extensions []string
	logger     Logger

	mu        sync.Mutex
	factories map[string]Factory

	cacheEnabled bool
	cache        map[string]Plugin

	watcher *fsnotify.Watcher
	watchWG sync.WaitGroup
}

// FilesystemLoaderOption configures a FilesystemLoader.
type FilesystemLoaderOption func(*FilesystemLoader)

// WithExtensions replaces the probed extension list.
func WithExtensions(exts ...string) FilesystemLoaderOption {
	return func(l *FilesystemLoader) { l.extensions = exts }
}

// WithModuleCache caches loaded plugins by resolved absolute path.
func WithModuleCache() FilesystemLoaderOption {
	return func(l *FilesystemLoader) { l.cacheEnabled = true }
}

// WithFilesystemLogger sets the loader's logger.
func WithFilesystemLogger(logger Logger) FilesystemLoaderOption {
	return func(l *FilesystemLoader) { l.logger = logger }
}

// NewFilesystemLoader creates a loader rooted at base.
func NewFilesystemLoader(base string, opts ...FilesystemLoaderOption) *FilesystemLoader {
	l := &FilesystemLoader{
		base:       base,
		extensions: defaultExtensions,
		factories:  make(map[string]Factory),
		cache:      make(map[string]Plugin),
		logger:     NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements Loader.
func (l *FilesystemLoader) Name() string { return "filesystem" }

// RegisterFactory binds a named factory for factory descriptors to invoke.
func (l *FilesystemLoader) RegisterFactory(name string, factory Factory) error {
	if name == "" || factory == nil {
		return NewError(CodePluginRegistrationFailed, "factory registration requires a name and a factory")
	}
	l.mu.Lock()
	l.factories[name] = factory
	l.mu.Unlock()
	return nil
}

// CanLoad implements Loader.
func (l *FilesystemLoader) CanLoad(id string, _ Config) bool {
	_, err := l.resolve(id)
	return err == nil
}

// Load implements Loader.
func (l *FilesystemLoader) Load(_ context.Context, id string, cfg Config) (Plugin, error) {
	path, err := l.resolve(id)
	if err != nil {
		return nil, err
	}

	if l.cacheEnabled {
		l.mu.Lock()
		cached, ok := l.cache[path]
		l.mu.Unlock()
		if ok {
			return cached, nil
		}
	}

	var p Plugin
	switch strings.ToLower(filepath.Ext(path)) {
	case ".so":
		p, err = l.loadShared(path, id)
	case ".json", ".yaml", ".yml", ".toml":
		p, err = l.loadDescriptor(path, id, cfg)
	default:
		err = NewError(CodePluginLoadFailed,
			fmt.Sprintf("unsupported plugin file %s", path)).WithPlugin(id)
	}
	if err != nil {
		return nil, err
	}
	if err := validateInstance(id, p); err != nil {
		return nil, err
	}

	if l.cacheEnabled {
		l.mu.Lock()
		l.cache[path] = p
		l.mu.Unlock()
	}
	l.logger.Debug("Plugin loaded from filesystem", "plugin", id, "path", path)
	return p, nil
}

// resolve finds the first existing candidate file for the id and returns
// its canonical absolute path.
func (l *FilesystemLoader) resolve(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return "", NewError(CodeInvalidConfiguration,
			fmt.Sprintf("plugin id %q is not a valid file stem", id)).WithPlugin(id)
	}
	for _, ext := range l.extensions {
		candidates := []string{
			filepath.Join(l.base, id+ext),
			filepath.Join(l.base, id, "index"+ext),
			filepath.Join(l.base, id, id+ext),
		}
		for _, candidate := range candidates {
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return "", NewError(CodePluginLoadFailed,
					fmt.Sprintf("resolving %s", candidate)).WithPlugin(id).WithCause(err)
			}
			return filepath.Clean(abs), nil
		}
	}
	return "", NewError(CodePluginNotFound,
		fmt.Sprintf("no plugin file for %s under %s", id, l.base)).WithPlugin(id)
}

// loadShared opens a Go shared object and picks the plugin out of its
// exported symbols.
func (l *FilesystemLoader) loadShared(path, id string) (Plugin, error) {
	mod, err := goplugin.Open(path)
	if err != nil {
		return nil, NewError(CodePluginLoadFailed,
			fmt.Sprintf("opening %s", path)).WithPlugin(id).WithCause(err)
	}

	for _, symbol := range []string{"Plugin", exportedName(id), "NewPlugin"} {
		sym, err := mod.Lookup(symbol)
		if err != nil {
			continue
		}
		if p, ok := asPlugin(sym); ok {
			return p, nil
		}
	}
	return nil, NewError(CodePluginLoadFailed,
		fmt.Sprintf("%s exports no usable plugin symbol", path)).WithPlugin(id)
}

// asPlugin coerces a looked-up symbol into a plugin: a Plugin value, a
// pointer to one, or a constructor returning one.
func asPlugin(sym interface{}) (Plugin, bool) {
	switch v := sym.(type) {
	case Plugin:
		return v, true
	case *Plugin:
		if v != nil && *v != nil {
			return *v, true
		}
	case func() Plugin:
		return v(), true
	case func() (Plugin, error):
		p, err := v()
		if err == nil {
			return p, true
		}
	}
	return nil, false
}

// loadDescriptor parses a descriptor file and dispatches on the factory
// field.
func (l *FilesystemLoader) loadDescriptor(path, id string, cfg Config) (Plugin, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(CodePluginLoadFailed,
			fmt.Sprintf("reading %s", path)).WithPlugin(id).WithCause(err)
	}

	var generic map[string]interface{}
	if err := unmarshalByExt(path, raw, &generic); err != nil {
		return nil, NewError(CodePluginLoadFailed,
			fmt.Sprintf("parsing %s", path)).WithPlugin(id).WithCause(err)
	}

	if factoryName, ok := generic["factory"].(string); ok && factoryName != "" {
		return l.invokeFactory(factoryName, id, cfg, generic)
	}

	var spec DeclarativeSpec
	if err := unmarshalByExt(path, raw, &spec); err != nil {
		return nil, NewError(CodePluginLoadFailed,
			fmt.Sprintf("parsing %s", path)).WithPlugin(id).WithCause(err)
	}
	if spec.ID == "" {
		spec.ID = id
	}
	return NewDeclarative(spec), nil
}

// invokeFactory runs a registered factory named by a factory descriptor.
// The descriptor's config block is merged under the plugin config when the
// config carries none of its own.
func (l *FilesystemLoader) invokeFactory(name, id string, cfg Config, descriptor map[string]interface{}) (Plugin, error) {
	l.mu.Lock()
	factory, ok := l.factories[name]
	l.mu.Unlock()
	if !ok {
		return nil, NewError(CodePluginLoadFailed,
			fmt.Sprintf("descriptor names unregistered factory %q", name)).WithPlugin(id)
	}
	if cfg.Extra == nil {
		if extra, ok := descriptor["config"].(map[string]interface{}); ok {
			cfg.Extra = extra
		}
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, NewError(CodePluginLoadFailed,
			fmt.Sprintf("factory %q failed", name)).WithPlugin(id).WithCause(err)
	}
	return p, nil
}

// unmarshalByExt decodes raw into out using the codec the extension names.
func unmarshalByExt(path string, raw []byte, out interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(raw, out)
	case ".yaml", ".yml":
		return yaml.Unmarshal(raw, out)
	case ".toml":
		return toml.Unmarshal(raw, out)
	default:
		return fmt.Errorf("no codec for %s", path)
	}
}

// exportedName turns a plugin id into the exported symbol form: first rune
// upper-cased, separators dropped.
func exportedName(id string) string {
	var b strings.Builder
	upper := true
	for _, r := range id {
		if r == '-' || r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ClearCache drops every cached module.
func (l *FilesystemLoader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]Plugin)
	l.mu.Unlock()
}

// WatchBase starts invalidating cached modules when files under the base
// directory change. No-op when the cache is disabled.
func (l *FilesystemLoader) WatchBase() error {
	if !l.cacheEnabled {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting loader watcher: %w", err)
	}
	if err := watcher.Add(l.base); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", l.base, err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	l.watchWG.Add(1)
	go func() {
		defer l.watchWG.Done()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
					continue
				}
				abs, err := filepath.Abs(event.Name)
				if err != nil {
					continue
				}
				abs = filepath.Clean(abs)
				l.mu.Lock()
				if _, cached := l.cache[abs]; cached {
					delete(l.cache, abs)
					l.logger.Debug("Cached plugin invalidated", "path", abs)
				}
				l.mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("Loader watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the base directory watcher, if running.
func (l *FilesystemLoader) Close() error {
	l.mu.Lock()
	watcher := l.watcher
	l.watcher = nil
	l.mu.Unlock()
	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	l.watchWG.Wait()
	return err
}
