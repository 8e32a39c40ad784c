// Package storage provides the storage layer for Nimbus using CouchDB.
// This package wraps the eve.evalgo.org/db library to provide instance
// specific functionality: instance documents, their auxiliary info, per-node
// views and the changes feed.
package storage

import (
	"errors"
	"fmt"

	"eve.evalgo.org/db"
	"github.com/sirupsen/logrus"

	"evalgo.org/nimbus/internal/config"
	"evalgo.org/nimbus/internal/logging"
)

// Design document and view names.
const (
	designName = "nimbus"

	viewInstancesByNode     = "instances_by_node"
	viewInstanceCountByNode = "instance_count_by_node"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// Storage provides the main storage interface for Nimbus.
// It wraps the CouchDB service from eve library and provides
// type-safe operations for instance records.
type Storage struct {
	service *db.CouchDBService
	config  *config.Config
	log     logrus.FieldLogger
}

// New creates a new Storage instance from the application configuration.
// It initializes the CouchDB connection and ensures the database exists.
func New(cfg *config.Config, logger logrus.FieldLogger) (*Storage, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	couchConfig := db.CouchDBConfig{
		URL:             cfg.CouchDB.URL,
		Database:        cfg.CouchDB.Database,
		Username:        cfg.CouchDB.Username,
		Password:        cfg.CouchDB.Password,
		CreateIfMissing: true,
	}

	service, err := db.NewCouchDBServiceFromConfig(couchConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB service: %w", err)
	}

	storage := &Storage{
		service: service,
		config:  cfg,
		log:     logger.WithField("component", "storage"),
	}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return storage, nil
}

// initializeSchema creates indexes and views needed for instance queries.
func (s *Storage) initializeSchema() error {
	indexes := []db.Index{
		{
			Name:   "instances-node",
			Fields: []string{"@type", "node"},
			Type:   "json",
		},
		{
			Name:   "instances-name",
			Fields: []string{"@type", "name"},
			Type:   "json",
		},
	}

	for _, index := range indexes {
		if err := s.service.CreateIndex(index); err != nil {
			// index might already exist
			s.log.WithError(err).Warnf("failed to create index %s", index.Name)
		}
	}

	if err := s.createViews(); err != nil {
		return fmt.Errorf("failed to create views: %w", err)
	}

	return nil
}

// createViews creates the CouchDB MapReduce views used for node queries.
func (s *Storage) createViews() error {
	designDoc := db.DesignDoc{
		ID:       "_design/" + designName,
		Language: "javascript",
		Views: map[string]db.View{
			// instances_by_node - all instances on a node
			viewInstancesByNode: {
				Map: `function(doc) {
					if (doc['@type'] === '` + DocumentType + `') {
						emit(doc.node || '', null);
					}
				}`,
			},
			// instance_count_by_node - instance count per node
			viewInstanceCountByNode: {
				Map: `function(doc) {
					if (doc['@type'] === '` + DocumentType + `') {
						emit(doc.node || '', 1);
					}
				}`,
				Reduce: "_sum",
			},
		},
	}

	return s.service.CreateDesignDoc(designDoc)
}

// Close closes the storage connection.
func (s *Storage) Close() error {
	return s.service.Close()
}

// GetDatabaseInfo returns metadata about the backing database.
func (s *Storage) GetDatabaseInfo() (*db.DatabaseInfo, error) {
	return s.service.GetDatabaseInfo()
}

// mapError converts CouchDB not found errors into ErrNotFound.
func mapError(err error, id string) error {
	if err == nil {
		return nil
	}
	var couchErr *db.CouchDBError
	if errors.As(err, &couchErr) && couchErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// isConflict reports whether err is a CouchDB revision conflict.
func isConflict(err error) bool {
	var couchErr *db.CouchDBError
	return errors.As(err, &couchErr) && couchErr.IsConflict()
}
