package console

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/nimbus/models"
)

type pageRequest struct {
	page      int
	pageCount int
	filter    string
}

type fakeSource struct {
	mu       sync.Mutex
	all      models.Instances
	nodes    models.InstancesNode
	requests []pageRequest
	err      error
}

func (f *fakeSource) Page(_ context.Context, pageNum, pageCount int, filter models.Filter) (*models.DispatchData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := ""
	if filter.Name != nil {
		name = *filter.Name
	}
	f.requests = append(f.requests, pageRequest{page: pageNum, pageCount: pageCount, filter: name})
	if f.err != nil {
		return nil, f.err
	}

	matched := f.all.Filter(filter)
	skip := models.PageSkip(pageNum, pageCount, len(matched))
	end := min(skip+pageCount, len(matched))
	return &models.DispatchData{
		Instances: matched[skip:end].Clone(),
		Page:      models.Int(pageNum),
		PageCount: models.Int(pageCount),
		Count:     models.Int(len(matched)),
	}, nil
}

func (f *fakeSource) ListNodeInstances(_ context.Context, node string) (models.Instances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.nodes[node].Clone(), nil
}

func (f *fakeSource) setName(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.all {
		if f.all[i].ID == id {
			f.all[i].Name = models.String(name)
		}
	}
}

func (f *fakeSource) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type chanEvents struct {
	ch chan models.InstanceDispatch
}

func (c *chanEvents) Events(context.Context) (<-chan models.InstanceDispatch, error) {
	return c.ch, nil
}

// dialEvents hands out a new stream on every Events call, like a client
// that reconnects to the server.
type dialEvents struct {
	mu      sync.Mutex
	streams []chan models.InstanceDispatch
	err     error
}

func (d *dialEvents) Events(context.Context) (<-chan models.InstanceDispatch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := make(chan models.InstanceDispatch)
	d.streams = append(d.streams, ch)
	return ch, nil
}

func (d *dialEvents) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func (d *dialEvents) stream(i int) chan models.InstanceDispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

func (d *dialEvents) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type memoryCache struct {
	mu         sync.Mutex
	dispatches []models.InstanceDispatch
	saves      int
}

func (m *memoryCache) Save(dispatches []models.InstanceDispatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = dispatches
	m.saves++
	return nil
}

func (m *memoryCache) Load() ([]models.InstanceDispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatches, nil
}

func newFakeSource() *fakeSource {
	all := models.Instances{
		{ID: "1", Name: models.String("web-1"), Node: models.String("n1")},
		{ID: "2", Name: models.String("web-2"), Node: models.String("n1")},
		{ID: "3", Name: models.String("db-1"), Node: models.String("n2")},
	}
	return &fakeSource{
		all:   all,
		nodes: models.GroupByNode(all),
	}
}

func TestSyncer_Sync(t *testing.T) {
	source := newFakeSource()
	store := NewStore()
	var applied []string
	syncer := NewSyncer(store, source, WithAppliedHook(func(typ string) { applied = append(applied, typ) }))

	require.NoError(t, store.Dispatch(models.NewDispatch(models.ActionFilter, &models.DispatchData{
		Filter: &models.Filter{Name: models.String("web")},
	})))
	require.NoError(t, syncer.Sync(context.Background()))

	snap := store.Snapshot()
	assert.Equal(t, []string{"1", "2"}, snap.Instances.Instances().IDs())
	assert.Equal(t, 2, snap.Count)
	require.NotNil(t, snap.Filter)
	assert.Equal(t, "web", *snap.Filter.Name)
	assert.Equal(t, []pageRequest{{page: 0, pageCount: DefaultPageCount, filter: "web"}}, source.requests)
	assert.Equal(t, []string{"instance.sync"}, applied)
}

func TestSyncer_SyncError(t *testing.T) {
	source := newFakeSource()
	source.err = errors.New("connection refused")
	store := NewStore()
	require.NoError(t, store.Dispatch(syncDispatch(page("keep"), nil, nil, nil)))

	err := NewSyncer(store, source).Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, []string{"keep"}, store.Snapshot().Instances.Instances().IDs())
}

func TestSyncer_SyncNodes(t *testing.T) {
	source := newFakeSource()
	store := NewStore()
	syncer := NewSyncer(store, source)

	require.NoError(t, syncer.SyncNode(context.Background(), "n1"))
	require.NoError(t, syncer.SyncNode(context.Background(), "empty"))

	source.nodes["n1"] = source.nodes["n1"][:1]
	require.NoError(t, syncer.SyncNodes(context.Background()))

	snap := store.Snapshot()
	list, ok := snap.Nodes.Get("n1")
	require.True(t, ok)
	assert.Equal(t, []string{"1"}, list.Instances().IDs())

	list, ok = snap.Nodes.Get("empty")
	require.True(t, ok)
	assert.Equal(t, 0, list.Len())
}

func TestSyncer_RestoreAndSave(t *testing.T) {
	cache := &memoryCache{}
	store := NewStore()
	require.NoError(t, store.Dispatch(syncDispatch(page("a"), models.Int(0), models.Int(5), models.Int(1))))
	require.NoError(t, store.Dispatch(models.SyncNodeDispatch("n1", page("a"))))

	require.NoError(t, NewSyncer(store, newFakeSource(), WithCache(cache)).Save())
	assert.Equal(t, 1, cache.saves)

	restored := NewStore()
	require.NoError(t, NewSyncer(restored, newFakeSource(), WithCache(cache)).Restore())
	assert.Equal(t, []string{"a"}, restored.Snapshot().Instances.Instances().IDs())
	assert.Equal(t, 5, restored.Snapshot().PageCount)
	assert.Equal(t, []string{"n1"}, restored.Nodes())

	// no cache configured is not an error
	assert.NoError(t, NewSyncer(NewStore(), newFakeSource()).Restore())
	assert.NoError(t, NewSyncer(NewStore(), newFakeSource()).Save())
}

func TestSyncer_Run(t *testing.T) {
	source := newFakeSource()
	store := NewStore()
	events := &chanEvents{ch: make(chan models.InstanceDispatch)}
	cache := &memoryCache{}
	syncer := NewSyncer(store, source, WithEvents(events), WithCache(cache))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.Snapshot().Count == 3
	}, 2*time.Second, 10*time.Millisecond)

	// a change event triggers a page refetch
	source.setName("3", "db-renamed")
	events.ch <- models.ChangeDispatch("3", &models.Instance{ID: "3", State: models.String(models.StateStop)})

	require.Eventually(t, func() bool {
		inst, ok := store.Snapshot().Instances.Find("3")
		return ok && inst.GetName() == "db-renamed"
	}, 2*time.Second, 10*time.Millisecond)

	// a sync_node event carrying instances is applied as is
	events.ch <- models.SyncNodeDispatch("n9", page("z"))
	require.Eventually(t, func() bool {
		list, ok := store.Snapshot().Nodes.Get("n9")
		return ok && list.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// filtering through the store triggers a refetch
	before := source.requestCount()
	require.NoError(t, store.Dispatch(models.NewDispatch(models.ActionFilter, &models.DispatchData{
		Filter: &models.Filter{Name: models.String("db")},
	})))
	require.Eventually(t, func() bool {
		return source.requestCount() > before && store.Snapshot().Count == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// state is cached on shutdown
	cached, err := cache.Load()
	require.NoError(t, err)
	assert.NotEmpty(t, cached)
}

func TestSyncer_RunPeriodicResync(t *testing.T) {
	source := newFakeSource()
	store := NewStore()
	syncer := NewSyncer(store, source, WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = syncer.Run(ctx) }()

	require.Eventually(t, func() bool {
		return source.requestCount() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSyncer_RunAfterRestore(t *testing.T) {
	cache := &memoryCache{dispatches: []models.InstanceDispatch{
		syncDispatch(page("1"), models.Int(0), models.Int(5), models.Int(3)),
	}}
	source := newFakeSource()
	store := NewStore()
	syncer := NewSyncer(store, source, WithCache(cache))

	require.NoError(t, syncer.Restore())
	require.NoError(t, store.Dispatch(models.NewDispatch(models.ActionTraverse, &models.DispatchData{
		Page:      models.Int(1),
		PageCount: models.Int(2),
	})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = syncer.Run(ctx) }()

	// the position set after Restore is kept
	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.requests) > 0
	}, 2*time.Second, 10*time.Millisecond)

	source.mu.Lock()
	first := source.requests[0]
	source.mu.Unlock()
	assert.Equal(t, pageRequest{page: 1, pageCount: 2}, first)
}

func TestSyncer_RunReconnectsEventStream(t *testing.T) {
	source := newFakeSource()
	store := NewStore()
	events := &dialEvents{}
	syncer := NewSyncer(store, source,
		WithEvents(events),
		WithReconnectInterval(5*time.Millisecond, 20*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = syncer.Run(ctx) }()

	require.Eventually(t, func() bool { return events.dials() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return store.Snapshot().Count == 3 }, 2*time.Second, 5*time.Millisecond)

	// the server goes away and refuses the first attempts
	events.fail(errors.New("connection refused"))
	source.setName("3", "db-renamed")
	close(events.stream(0))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, events.dials())
	events.fail(nil)

	// the stream is reopened and the page fetched again
	require.Eventually(t, func() bool { return events.dials() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		inst, ok := store.Snapshot().Instances.Find("3")
		return ok && inst.GetName() == "db-renamed"
	}, 2*time.Second, 5*time.Millisecond)

	// events on the new stream are handled
	events.stream(1) <- models.SyncNodeDispatch("n9", page("z"))
	require.Eventually(t, func() bool {
		list, ok := store.Snapshot().Nodes.Get("n9")
		return ok && list.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
}
