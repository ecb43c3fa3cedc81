package plugin

import (
	"fmt"
	"sort"
	"strings"
)

// Resolution is the resolver's output: a dependency-respecting startup
// order and its exact reverse for shutdown.
type Resolution struct {
	StartupOrder  []string
	ShutdownOrder []string
	Total         int
}

// Resolver computes plugin ordering with Kahn's topological sort. An edge
// A -> B means "A depends on B", so B always precedes A in the startup
// order. When several plugins are ready at once the tie is broken by type
// rank (system before library before user), then by descending priority,
// then by id, making the result deterministic for identical inputs.
type Resolver struct {
	logger Logger
}

// NewResolver creates a resolver.
func NewResolver(logger Logger) *Resolver {
	if logger == nil {
		logger = NopLogger()
	}
	return &Resolver{logger: logger}
}

// Resolve orders the enabled configs. It fails with MissingDependencies
// when a dependency id is absent from the config set, and with
// CircularDependency naming the involved ids when the graph has a cycle.
func (r *Resolver) Resolve(configs []Config) (*Resolution, error) {
	byID := make(map[string]Config, len(configs))
	for _, cfg := range configs {
		byID[cfg.ID] = cfg
	}

	// Missing dependencies are reported all at once as "A -> B" pairs.
	var missing []string
	for _, cfg := range configs {
		for _, dep := range cfg.Dependencies {
			if _, ok := byID[dep]; !ok {
				missing = append(missing, fmt.Sprintf("%s -> %s", cfg.ID, dep))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, NewError(CodeMissingDependencies,
			fmt.Sprintf("unresolved dependencies: %s", strings.Join(missing, ", "))).
			WithDependencies(missing)
	}

	// In-degree of a plugin is its dependency count; dependents[b] lists
	// the plugins waiting on b.
	inDegree := make(map[string]int, len(configs))
	dependents := make(map[string][]string, len(configs))
	for _, cfg := range configs {
		inDegree[cfg.ID] = len(cfg.Dependencies)
		for _, dep := range cfg.Dependencies {
			dependents[dep] = append(dependents[dep], cfg.ID)
		}
	}

	ready := make([]string, 0, len(configs))
	for _, cfg := range configs {
		if inDegree[cfg.ID] == 0 {
			ready = append(ready, cfg.ID)
		}
	}

	less := func(a, b string) bool {
		ca, cb := byID[a], byID[b]
		ra, rb := ca.EffectiveType().rank(), cb.EffectiveType().rank()
		if ra != rb {
			return ra < rb
		}
		if ca.Priority != cb.Priority {
			return ca.Priority > cb.Priority
		}
		return a < b
	}

	order := make([]string, 0, len(configs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(configs) {
		// Everything not ordered sits on a cycle (or depends on one).
		var involved []string
		for id, degree := range inDegree {
			if degree > 0 {
				involved = append(involved, id)
			}
		}
		sort.Strings(involved)
		return nil, NewError(CodeCircularDependency,
			fmt.Sprintf("dependency cycle involving: %s", strings.Join(involved, ", "))).
			WithResolutionChain(involved)
	}

	shutdown := make([]string, len(order))
	for i, id := range order {
		shutdown[len(order)-1-i] = id
	}

	r.logger.Debug("Plugin order resolved", "startup", order)
	return &Resolution{StartupOrder: order, ShutdownOrder: shutdown, Total: len(order)}, nil
}
