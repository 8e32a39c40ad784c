//go:build integration

package storage

import (
	"context"
	"testing"

	evetesting "eve.evalgo.org/containers/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/nimbus/internal/config"
	"evalgo.org/nimbus/internal/logging"
	"evalgo.org/nimbus/models"
)

// TestCouchDBIntegration runs the storage operations against a CouchDB
// container started with testcontainers.
func TestCouchDBIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()

	couchURL, cleanup, err := evetesting.SetupCouchDB(ctx, t, nil)
	require.NoError(t, err, "Failed to start CouchDB container")
	defer cleanup()

	cfg := &config.Config{
		CouchDB: config.CouchDBConfig{
			URL:      couchURL,
			Database: "nimbus_test",
			Username: "admin",
			Password: "password",
		},
	}

	store, err := New(cfg, logging.Discard())
	require.NoError(t, err, "Failed to initialize storage")
	defer store.Close()

	t.Run("instance CRUD", func(t *testing.T) {
		inst := &models.Instance{
			ID:           "it-1",
			Name:         models.String("web-01"),
			Node:         models.String("node-a"),
			Memory:       models.Int(1024),
			NetworkRoles: []string{},
		}
		require.NoError(t, store.SaveInstance(inst))

		got, err := store.GetInstance("it-1")
		require.NoError(t, err)
		assert.Equal(t, "web-01", got.GetName())
		assert.NotNil(t, got.NetworkRoles)

		got.State = models.String(models.StateStop)
		require.NoError(t, store.SaveInstance(got))

		updated, err := store.GetInstance("it-1")
		require.NoError(t, err)
		assert.Equal(t, models.StateStop, updated.GetState())

		require.NoError(t, store.DeleteInstance("it-1"))
		_, err = store.GetInstance("it-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.DeleteInstance("it-1"), ErrNotFound)
	})

	t.Run("listing and grouping", func(t *testing.T) {
		for _, inst := range []models.Instance{
			{ID: "it-2", Name: models.String("Web-02"), Node: models.String("node-a")},
			{ID: "it-3", Name: models.String("db-01"), Node: models.String("node-b")},
			{ID: "it-4", Name: models.String("web-03"), Node: models.String("node-b")},
		} {
			inst := inst
			require.NoError(t, store.SaveInstance(&inst))
		}

		all, err := store.ListInstances(models.Filter{})
		require.NoError(t, err)
		// byte order: upper case sorts first
		assert.Equal(t, []string{"it-2", "it-3", "it-4"}, all.IDs())

		web, err := store.ListInstances(models.Filter{Name: models.String("WEB")})
		require.NoError(t, err)
		assert.Equal(t, []string{"it-2", "it-4"}, web.IDs())

		nodeB, err := store.GetInstancesByNode("node-b")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"it-3", "it-4"}, nodeB.IDs())

		grouped, err := store.GroupInstancesByNode()
		require.NoError(t, err)
		assert.Equal(t, []string{"node-a", "node-b"}, grouped.Nodes())

		count, err := store.CountInstances()
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		byNode, err := store.CountInstancesByNode()
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"node-a": 1, "node-b": 2}, byNode)
	})

	t.Run("info", func(t *testing.T) {
		info, err := store.GetInfo("it-2")
		require.NoError(t, err)
		assert.Equal(t, "it-2", *info.Instance)
		assert.Nil(t, info.Disks)

		require.NoError(t, store.SaveInfo("it-2", models.Info{Disks: []string{"disk-1"}, FirewallRules: []string{}}))
		info, err = store.GetInfo("it-2")
		require.NoError(t, err)
		assert.Equal(t, []string{"disk-1"}, info.Disks)
		assert.NotNil(t, info.FirewallRules)

		assert.ErrorIs(t, store.SaveInfo("missing", models.Info{}), ErrNotFound)
	})

	t.Run("changes", func(t *testing.T) {
		dispatches, seq, err := store.GetChangesSince("0", 100)
		require.NoError(t, err)
		assert.NotEmpty(t, seq)
		require.NotEmpty(t, dispatches)
		for _, d := range dispatches {
			assert.Equal(t, string(models.ActionChange), d.Type)
		}
	})
}
