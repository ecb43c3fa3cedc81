package plugin

import (
	"fmt"
	"sync"
)

// LoadInfo is the registry's record of one loaded plugin: its config, the
// instance the loader produced, and the merged dependency list (config
// dependencies plus metadata dependencies, deduplicated in order).
type LoadInfo struct {
	Config       Config
	Plugin       Plugin
	Dependencies []string
}

// NewLoadInfo builds the record, merging config and metadata dependencies.
func NewLoadInfo(cfg Config, p Plugin) *LoadInfo {
	seen := make(map[string]struct{})
	merged := make([]string, 0, len(cfg.Dependencies))
	for _, dep := range cfg.Dependencies {
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		merged = append(merged, dep)
	}
	for _, dep := range p.Metadata().Dependencies {
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		merged = append(merged, dep)
	}
	return &LoadInfo{Config: cfg, Plugin: p, Dependencies: merged}
}

// Registry is the indexed store of loaded plugins. The primary index maps
// id to the load record; secondary indices group ids by state and by type
// and are kept in sync on register, unregister and state updates.
// Register, Unregister, Get, Info and UpdateState are O(1) amortized; the
// id listings copy their ids into a fresh slice.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*LoadInfo
	byState map[State]map[string]struct{}
	byType  map[Type]map[string]struct{}
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*LoadInfo),
		byState: make(map[State]map[string]struct{}),
		byType:  make(map[Type]map[string]struct{}),
	}
}

// Register stores a load record, replacing any record under the same id.
// A replaced record is first removed from both secondary indices.
func (r *Registry) Register(info *LoadInfo) error {
	if info == nil || info.Plugin == nil {
		return NewError(CodePluginRegistrationFailed, "plugin is nil")
	}
	id := info.Plugin.ID()
	if id == "" {
		return NewError(CodePluginRegistrationFailed, "plugin id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.plugins[id]; ok {
		r.dropFromIndices(id, existing)
	}
	r.plugins[id] = info
	addTo(r.byState, info.Plugin.State(), id)
	addTo(r.byType, info.Config.EffectiveType(), id)
	return nil
}

// Unregister removes the record for the id.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.plugins[id]
	if !ok {
		return NewError(CodePluginNotFound, fmt.Sprintf("plugin %s is not registered", id)).WithPlugin(id)
	}
	r.dropFromIndices(id, info)
	delete(r.plugins, id)
	return nil
}

// Get returns the plugin registered under the id.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return info.Plugin, true
}

// Info returns the full load record for the id.
func (r *Registry) Info(id string) (*LoadInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.plugins[id]
	return info, ok
}

// UpdateState moves the id between state buckets. The from state must match
// the bucket the id currently sits in.
func (r *Registry) UpdateState(id string, from, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[id]; !ok {
		return NewError(CodePluginNotFound, fmt.Sprintf("plugin %s is not registered", id)).WithPlugin(id)
	}
	bucket := r.byState[from]
	if bucket == nil {
		return NewError(CodeInvalidStateTransition,
			fmt.Sprintf("plugin %s is not in state %s", id, from)).WithPlugin(id)
	}
	if _, ok := bucket[id]; !ok {
		return NewError(CodeInvalidStateTransition,
			fmt.Sprintf("plugin %s is not in state %s", id, from)).WithPlugin(id)
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(r.byState, from)
	}
	addTo(r.byState, to, id)
	return nil
}

// IDsByState returns a snapshot of the ids currently in the state.
func (r *Registry) IDsByState(state State) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keysOf(r.byState[state])
}

// IDsByType returns a snapshot of the ids registered under the type.
func (r *Registry) IDsByType(t Type) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keysOf(r.byType[t])
}

// IDs returns a snapshot of every registered id.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Clear drops every record and index.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.plugins = make(map[string]*LoadInfo)
	r.byState = make(map[State]map[string]struct{})
	r.byType = make(map[Type]map[string]struct{})
	r.mu.Unlock()
}

// Lookup returns a read-only view for handing to plugins during
// initialization.
func (r *Registry) Lookup() Lookup { return registryLookup{r} }

type registryLookup struct{ r *Registry }

func (l registryLookup) GetPlugin(id string) (Plugin, bool) { return l.r.Get(id) }

// addTo inserts id into the bucket for key, creating it on demand. Caller
// holds r.mu.
func addTo[K comparable](index map[K]map[string]struct{}, key K, id string) {
	bucket := index[key]
	if bucket == nil {
		bucket = make(map[string]struct{})
		index[key] = bucket
	}
	bucket[id] = struct{}{}
}

// dropFromIndices removes id from both secondary indices. Caller holds r.mu.
func (r *Registry) dropFromIndices(id string, info *LoadInfo) {
	state := info.Plugin.State()
	if bucket := r.byState[state]; bucket != nil {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(r.byState, state)
		}
	} else {
		// The plugin may have advanced state since registration without an
		// UpdateState call; sweep all buckets.
		for s, bucket := range r.byState {
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(r.byState, s)
			}
		}
	}
	t := info.Config.EffectiveType()
	if bucket := r.byType[t]; bucket != nil {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(r.byType, t)
		}
	}
}

func keysOf(bucket map[string]struct{}) []string {
	out := make([]string, 0, len(bucket))
	for id := range bucket {
		out = append(out, id)
	}
	return out
}
