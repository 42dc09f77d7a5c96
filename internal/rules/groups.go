package rules

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/signalsfoundry/fabric-controller/model"
)

// GroupKey identifies a multi-path group: the switch, the flow's source and
// destination, and the inbound port the group serves at that switch.
type GroupKey struct {
	Switch model.SwitchID
	Src    netip.Addr
	Dst    netip.Addr
	InPort model.PortNo
}

// GroupTable hands out group ids that stay stable for a key across
// re-installations. Ids are allocated per switch starting at 1.
type GroupTable struct {
	mu   sync.Mutex
	ids  map[GroupKey]uint32
	next map[model.SwitchID]uint32
}

// NewGroupTable creates an empty table.
func NewGroupTable() *GroupTable {
	return &GroupTable{
		ids:  make(map[GroupKey]uint32),
		next: make(map[model.SwitchID]uint32),
	}
}

// Register returns the id for key. When key already has an id the same id
// comes back wrapped in model.ErrDuplicateGroup, telling the caller to
// modify the group instead of adding it.
func (t *GroupTable) Register(key GroupKey) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.ids[key]; ok {
		return id, fmt.Errorf("%w: switch %s %s->%s in_port %s is group %d",
			model.ErrDuplicateGroup, key.Switch, key.Src, key.Dst, key.InPort, id)
	}
	t.next[key.Switch]++
	id := t.next[key.Switch]
	t.ids[key] = id
	return id, nil
}

// Lookup returns the id for key if one was registered.
func (t *GroupTable) Lookup(key GroupKey) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[key]
	return id, ok
}

// ForgetSwitch drops every id of sw. A reconnecting switch starts with an
// empty group table.
func (t *GroupTable) ForgetSwitch(sw model.SwitchID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.ids {
		if k.Switch == sw {
			delete(t.ids, k)
		}
	}
	delete(t.next, sw)
}

// Len returns the number of registered groups.
func (t *GroupTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
