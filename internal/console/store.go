// Package console holds the console side state of the instance list and
// the reducer that applies InstanceDispatch messages to it.
//
// A Store is safe for concurrent use. Readers take a Snapshot, which holds
// read-only views that later dispatches never modify.
package console

import (
	"fmt"
	"sync"

	"evalgo.org/nimbus/models"
)

// DefaultPageCount is the page size used until a sync says otherwise.
const DefaultPageCount = 50

// Listener is called after a dispatch has been applied.
type Listener func(dispatch models.InstanceDispatch)

// Snapshot is a point in time copy of the store state.
type Snapshot struct {
	Instances models.InstancesRo
	Nodes     models.InstancesNodeRo
	Filter    *models.Filter
	Page      int
	PageCount int
	Count     int
	Changed   uint64
}

// Pages returns the number of pages of the current listing.
func (s Snapshot) Pages() int {
	return models.Pages(s.Count, s.PageCount)
}

// Store holds the instance page, the per-node lists and the list
// parameters, and applies dispatches to them.
type Store struct {
	mu sync.RWMutex

	instances models.Instances
	nodes     models.InstancesNode
	filter    *models.Filter
	page      int
	pageCount int
	count     int
	changed   uint64

	listeners    map[int]Listener
	nextListener int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		instances: models.Instances{},
		nodes:     models.InstancesNode{},
		pageCount: DefaultPageCount,
		listeners: make(map[int]Listener),
	}
}

// Dispatch applies a dispatch message. Unknown types return
// ErrUnknownAction and leave the state untouched, as do messages missing a
// field their type requires. Listeners are called after the state changed.
func (s *Store) Dispatch(dispatch models.InstanceDispatch) error {
	action, ok := dispatch.Action()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, dispatch.Type)
	}

	var data models.DispatchData
	if dispatch.Data != nil {
		data = dispatch.Data.Clone()
	}

	s.mu.Lock()
	var err error
	switch action {
	case models.ActionSync:
		s.sync(data)
	case models.ActionSyncNode:
		err = s.syncNode(data)
	case models.ActionTraverse:
		err = s.traverse(data)
	case models.ActionFilter:
		s.setFilter(data)
	case models.ActionChange:
		s.change(data)
	}
	listeners := s.listenerList()
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	for _, l := range listeners {
		l(dispatch)
	}
	return nil
}

func (s *Store) sync(data models.DispatchData) {
	s.instances = data.Instances
	if s.instances == nil {
		s.instances = models.Instances{}
	}
	if data.Page != nil {
		s.page = *data.Page
	}
	if data.PageCount != nil {
		s.pageCount = *data.PageCount
	}
	if data.Count != nil {
		s.count = *data.Count
	} else {
		s.count = len(s.instances)
	}
	if data.Filter != nil {
		s.filter = data.Filter
	}
}

func (s *Store) syncNode(data models.DispatchData) error {
	if data.Node == nil {
		return fmt.Errorf("%w: node", ErrMissingField)
	}
	instances := data.Instances
	if instances == nil {
		instances = models.Instances{}
	}
	s.nodes[*data.Node] = instances
	return nil
}

func (s *Store) traverse(data models.DispatchData) error {
	if data.Page == nil {
		return fmt.Errorf("%w: page", ErrMissingField)
	}
	if data.PageCount != nil && *data.PageCount > 0 {
		s.pageCount = *data.PageCount
	}

	page := max(*data.Page, 0)
	if s.count > 0 && s.pageCount > 0 {
		page = min(page, models.LastPage(s.count, s.pageCount))
	}
	s.page = page
	return nil
}

func (s *Store) setFilter(data models.DispatchData) {
	if data.Filter == nil || data.Filter.IsEmpty() {
		s.filter = nil
	} else {
		s.filter = data.Filter
	}
	s.page = 0
}

func (s *Store) change(data models.DispatchData) {
	s.changed++

	if data.Instance == nil {
		return
	}
	id := data.Instance.ID
	if id == "" && data.ID != nil {
		id = *data.ID
	}
	if id == "" {
		return
	}

	update := *data.Instance
	apply := func(inst *models.Instance) {
		inst.Merge(update)
		// derive the status when the update only carries the states
		if update.Status == nil && (update.State != nil || update.VMState != nil) {
			inst.RefreshStatus()
		}
	}

	for i := range s.instances {
		if s.instances[i].ID == id {
			apply(&s.instances[i])
		}
	}
	for _, list := range s.nodes {
		for i := range list {
			if list[i].ID == id {
				apply(&list[i])
			}
		}
	}
}

// Subscribe registers a listener and returns a function removing it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// listenerList returns the listeners in registration order. Callers hold mu.
func (s *Store) listenerList() []Listener {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextListener; id++ {
		if l, ok := s.listeners[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Instances: s.instances.Ro(),
		Nodes:     s.nodes.Ro(),
		Page:      s.page,
		PageCount: s.pageCount,
		Count:     s.count,
		Changed:   s.changed,
	}
	if s.filter != nil {
		f := models.Filter{Name: cloneString(s.filter.Name)}
		snap.Filter = &f
	}
	return snap
}

// Filter returns the current filter, or an empty filter when none is set.
func (s *Store) Filter() models.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.filter == nil {
		return models.Filter{}
	}
	return models.Filter{Name: cloneString(s.filter.Name)}
}

// Position returns the current page and page size.
func (s *Store) Position() (page, pageCount int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page, s.pageCount
}

// Nodes returns the nodes that have a synced instance list.
func (s *Store) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes.Nodes()
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Dispatches returns the dispatches that rebuild this snapshot on an empty
// store: an instance.filter when a filter is set, an instance.sync for the
// page and one instance.sync_node per node.
func (s Snapshot) Dispatches() []models.InstanceDispatch {
	out := make([]models.InstanceDispatch, 0, 2+s.Nodes.Len())

	if s.Filter != nil {
		f := models.Filter{Name: cloneString(s.Filter.Name)}
		out = append(out, models.NewDispatch(models.ActionFilter, &models.DispatchData{Filter: &f}))
	}

	out = append(out, models.NewDispatch(models.ActionSync, &models.DispatchData{
		Instances: s.Instances.Instances(),
		Page:      models.Int(s.Page),
		PageCount: models.Int(s.PageCount),
		Count:     models.Int(s.Count),
	}))

	for node, list := range s.Nodes.All() {
		out = append(out, models.SyncNodeDispatch(node, list.Instances()))
	}
	return out
}
