package console

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"evalgo.org/nimbus/internal/logging"
	"evalgo.org/nimbus/models"
)

// Source fetches instance data from the API server.
type Source interface {
	// Page returns one page of the instance list as sync data.
	Page(ctx context.Context, page, pageCount int, filter models.Filter) (*models.DispatchData, error)

	// ListNodeInstances returns every instance on a node.
	ListNodeInstances(ctx context.Context, node string) (models.Instances, error)
}

// EventSource delivers dispatches published by the server. The channel is
// closed when the stream ends.
type EventSource interface {
	Events(ctx context.Context) (<-chan models.InstanceDispatch, error)
}

// Cache persists the dispatches that rebuild a store.
type Cache interface {
	Save(dispatches []models.InstanceDispatch) error
	Load() ([]models.InstanceDispatch, error)
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithEvents sets the event stream that triggers resyncs.
func WithEvents(events EventSource) SyncerOption {
	return func(s *Syncer) { s.events = events }
}

// WithCache sets the snapshot cache.
func WithCache(cache Cache) SyncerOption {
	return func(s *Syncer) { s.cache = cache }
}

// WithInterval sets the periodic full resync interval. Zero disables it.
func WithInterval(d time.Duration) SyncerOption {
	return func(s *Syncer) { s.interval = d }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) SyncerOption {
	return func(s *Syncer) { s.log = logger }
}

// WithReconnectInterval sets the first and the longest wait between
// attempts to reopen a closed event stream.
func WithReconnectInterval(initial, max time.Duration) SyncerOption {
	return func(s *Syncer) {
		s.reconnectInitial = initial
		s.reconnectMax = max
	}
}

// WithAppliedHook sets a function called with the type of every dispatch
// the syncer applies to the store.
func WithAppliedHook(fn func(actionType string)) SyncerOption {
	return func(s *Syncer) { s.applied = fn }
}

// Syncer keeps a Store in line with the server: it loads pages and node
// lists from a Source and reacts to server events.
type Syncer struct {
	store    *Store
	source   Source
	events   EventSource
	cache    Cache
	interval time.Duration
	log      logrus.FieldLogger
	applied  func(string)
	restored bool

	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

// NewSyncer creates a syncer for store.
func NewSyncer(store *Store, source Source, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		store:            store,
		source:           source,
		log:              logging.Discard(),
		reconnectInitial: time.Second,
		reconnectMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "console-syncer")
	return s
}

func (s *Syncer) dispatch(d models.InstanceDispatch) error {
	if err := s.store.Dispatch(d); err != nil {
		return err
	}
	if s.applied != nil {
		s.applied(d.Type)
	}
	return nil
}

// Sync fetches the current page using the store's filter and position and
// applies it as an instance.sync dispatch.
func (s *Syncer) Sync(ctx context.Context) error {
	page, pageCount := s.store.Position()
	filter := s.store.Filter()

	data, err := s.source.Page(ctx, page, pageCount, filter)
	if err != nil {
		return fmt.Errorf("failed to fetch instances: %w", err)
	}
	if data == nil {
		data = &models.DispatchData{Instances: models.Instances{}}
	}
	if data.Filter == nil && !filter.IsEmpty() {
		data.Filter = &filter
	}

	return s.dispatch(models.NewDispatch(models.ActionSync, data))
}

// SyncNode fetches the instances of node and applies them as an
// instance.sync_node dispatch.
func (s *Syncer) SyncNode(ctx context.Context, node string) error {
	instances, err := s.source.ListNodeInstances(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to fetch instances of node %s: %w", node, err)
	}
	return s.dispatch(models.SyncNodeDispatch(node, instances))
}

// SyncNodes refreshes every node the store already tracks.
func (s *Syncer) SyncNodes(ctx context.Context) error {
	for _, node := range s.store.Nodes() {
		if err := s.SyncNode(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// Restore applies the dispatches stored in the cache, if any. Run skips
// the cache once Restore has been called.
func (s *Syncer) Restore() error {
	s.restored = true
	if s.cache == nil {
		return nil
	}
	dispatches, err := s.cache.Load()
	if err != nil {
		return fmt.Errorf("failed to load snapshot cache: %w", err)
	}
	for _, d := range dispatches {
		if err := s.store.Dispatch(d); err != nil {
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}
	}
	s.log.Debugf("restored %d cached dispatches", len(dispatches))
	return nil
}

// Save writes the current store state to the cache, if any.
func (s *Syncer) Save() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Save(s.store.Snapshot().Dispatches())
}

// Run restores the cache (unless Restore was called), performs an initial
// sync and then keeps the store up to date until ctx is done. Filter and
// traverse dispatches applied to the store by other code trigger a page
// refetch. A closed event stream is reopened with exponential backoff and
// followed by a full resync.
func (s *Syncer) Run(ctx context.Context) error {
	if !s.restored {
		if err := s.Restore(); err != nil {
			s.log.WithError(err).Warn("ignoring snapshot cache")
		}
	}

	s.resync(ctx)

	retry := s.newBackOff()
	var (
		events    <-chan models.InstanceDispatch
		reconnect <-chan time.Time
	)
	if s.events != nil {
		ch, err := s.events.Events(ctx)
		if err != nil {
			s.log.WithError(err).Warn("event stream unavailable")
			reconnect = time.After(retry.NextBackOff())
		} else {
			events = ch
		}
	}

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	refetch := make(chan struct{}, 1)
	unsubscribe := s.store.Subscribe(func(d models.InstanceDispatch) {
		switch models.ActionType(d.Type) {
		case models.ActionFilter, models.ActionTraverse:
			select {
			case refetch <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			if err := s.Save(); err != nil {
				s.log.WithError(err).Warn("failed to save snapshot cache")
			}
			return nil

		case d, ok := <-events:
			if !ok {
				events = nil
				wait := retry.NextBackOff()
				s.log.WithField("retry_in", wait.String()).Warn("event stream closed")
				reconnect = time.After(wait)
				continue
			}
			s.handleEvent(ctx, d)

		case <-reconnect:
			reconnect = nil
			ch, err := s.events.Events(ctx)
			if err != nil {
				wait := retry.NextBackOff()
				s.log.WithError(err).WithField("retry_in", wait.String()).Warn("failed to reopen event stream")
				reconnect = time.After(wait)
				continue
			}
			events = ch
			retry.Reset()
			s.log.Info("event stream reopened")
			// events published while the stream was down are lost
			s.resync(ctx)

		case <-refetch:
			if err := s.Sync(ctx); err != nil {
				s.log.WithError(err).Warn("sync failed")
			}

		case <-tick:
			s.resync(ctx)
		}
	}
}

func (s *Syncer) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.reconnectInitial
	b.MaxInterval = s.reconnectMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// resync refreshes the page and every tracked node and saves the cache.
func (s *Syncer) resync(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		s.log.WithError(err).Warn("sync failed")
		return
	}
	if err := s.SyncNodes(ctx); err != nil {
		s.log.WithError(err).Warn("node sync failed")
	}
	if err := s.Save(); err != nil {
		s.log.WithError(err).Warn("failed to save snapshot cache")
	}
}

// handleEvent applies a server event and refetches what it invalidated.
func (s *Syncer) handleEvent(ctx context.Context, d models.InstanceDispatch) {
	log := s.log.WithField("type", d.Type)

	switch models.ActionType(d.Type) {
	case models.ActionChange:
		if err := s.dispatch(d); err != nil {
			log.WithError(err).Warn("failed to apply change")
		}
		if err := s.Sync(ctx); err != nil {
			log.WithError(err).Warn("sync after change failed")
		}

	case models.ActionSyncNode:
		if d.Data == nil || d.Data.Node == nil {
			log.Warn("sync_node event without node")
			return
		}
		node := *d.Data.Node
		if d.Data.Instances != nil {
			if err := s.dispatch(d); err != nil {
				log.WithError(err).Warn("failed to apply node sync")
			}
			return
		}
		if err := s.SyncNode(ctx, node); err != nil {
			log.WithError(err).Warn("node sync failed")
		}

	default:
		log.Debug("ignoring event")
	}
}
