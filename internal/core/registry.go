package core

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	kinds   = make(map[string]KindDefinition)
	kindsMu sync.RWMutex
)

// Register makes a kind available to the service. Kinds register from
// init functions, so a duplicate key or a definition without columns or
// pipeline is a programming error and panics.
func Register(def KindDefinition) {
	key := def.Info.Key
	if key == "" || def.NewPipeline == nil || len(def.Columns) == 0 {
		panic(fmt.Sprintf("incomplete kind definition: %q", key))
	}
	if len(def.Info.Columns) == 0 {
		def.Info.Columns = make([]string, 0, len(def.Columns))
		for _, col := range def.Columns {
			def.Info.Columns = append(def.Info.Columns, col.Name)
		}
	}

	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, dup := kinds[key]; dup {
		panic(fmt.Sprintf("kind already registered: %s", key))
	}
	kinds[key] = def
}

// Get looks up a kind by key.
func Get(key string) (KindDefinition, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	def, ok := kinds[key]
	return def, ok
}

// All returns every kind ordered by group, then key.
func All() []KindDefinition {
	return selectKinds(func(KindDefinition) bool { return true })
}

// ByGroup returns the kinds of group ordered by key.
func ByGroup(group string) []KindDefinition {
	return selectKinds(func(def KindDefinition) bool { return def.Info.Group == group })
}

func selectKinds(keep func(KindDefinition) bool) []KindDefinition {
	kindsMu.RLock()
	out := make([]KindDefinition, 0, len(kinds))
	for _, def := range kinds {
		if keep(def) {
			out = append(out, def)
		}
	}
	kindsMu.RUnlock()

	slices.SortFunc(out, func(a, b KindDefinition) int {
		return cmp.Or(cmp.Compare(a.Info.Group, b.Info.Group), cmp.Compare(a.Info.Key, b.Info.Key))
	})
	return out
}

// Groups returns the distinct group names in order.
func Groups() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	seen := make(map[string]struct{}, len(kinds))
	for _, def := range kinds {
		seen[def.Info.Group] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// KindCount returns the number of registered kinds.
func KindCount() int {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	return len(kinds)
}

// Clear forgets every kind. Tests use it to start from an empty registry.
func Clear() {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	clear(kinds)
}
