package learning

import (
	"slices"
	"sync"

	"github.com/signalsfoundry/fabric-controller/model"
)

// Registry owns one Table per switch. Tables are created on first use.
type Registry struct {
	opts options

	mu     sync.RWMutex
	tables map[model.SwitchID]*Table
}

// NewRegistry creates an empty registry. opts apply to every table.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:   buildOptions(opts),
		tables: make(map[model.SwitchID]*Table),
	}
}

// Table returns the table for sw, creating it if needed.
func (r *Registry) Table(sw model.SwitchID) *Table {
	r.mu.RLock()
	t, ok := r.tables[sw]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tables[sw]; ok {
		return t
	}
	t = newTable(sw, r.opts)
	r.tables[sw] = t
	return t
}

// Lookup returns the table for sw without creating one.
func (r *Registry) Lookup(sw model.SwitchID) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[sw]
	return t, ok
}

// Drop forgets everything learned at sw.
func (r *Registry) Drop(sw model.SwitchID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, sw)
}

// Switches returns the switches with a table, ascending.
func (r *Registry) Switches() []model.SwitchID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.SwitchID, 0, len(r.tables))
	for sw := range r.tables {
		out = append(out, sw)
	}
	slices.Sort(out)
	return out
}
