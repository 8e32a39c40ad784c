package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/nimbus/internal/console"
	"evalgo.org/nimbus/internal/logging"
	"evalgo.org/nimbus/models"
)

var (
	_ console.Source      = (*Client)(nil)
	_ console.EventSource = (*Client)(nil)
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListInstances(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/instances", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		gotQuery = r.URL.RawQuery

		writeJSON(w, http.StatusOK, models.DispatchData{
			Instances: models.Instances{{ID: "i-3"}},
			Page:      models.Int(1),
			PageCount: models.Int(2),
			Count:     models.Int(3),
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("secret"), WithLogger(logging.Discard()))
	data, err := c.Page(context.Background(), 1, 2, models.Filter{Name: models.String("web")})
	require.NoError(t, err)

	assert.Equal(t, "name=web&page=1&pageCount=2", gotQuery)
	assert.Equal(t, []string{"i-3"}, data.Instances.IDs())
	assert.Equal(t, 3, *data.Count)
}

func TestGetInstance_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/instances/missing", r.URL.Path)
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"code":    404,
			"message": "Instance not found",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(logging.Discard()))
	_, err := c.GetInstance(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Instance not found", apiErr.Message)
}

func TestCreateAndUpdateInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get(HeaderAPIKey))

		var inst models.Instance
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inst))

		switch r.Method {
		case http.MethodPost:
			inst.ID = "generated"
			writeJSON(w, http.StatusCreated, inst)
		case http.MethodPut:
			assert.Equal(t, "/api/v1/instances/generated", r.URL.Path)
			inst.ID = "generated"
			inst.Name = models.String("renamed")
			writeJSON(w, http.StatusOK, inst)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithAPIKey("key-1"), WithLogger(logging.Discard()))
	ctx := context.Background()

	created, err := c.CreateInstance(ctx, models.Instance{Name: models.String("web")})
	require.NoError(t, err)
	assert.Equal(t, "generated", created.ID)

	updated, err := c.UpdateInstance(ctx, created.ID, models.Instance{State: models.String("stop")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.GetName())
	assert.Equal(t, "stop", updated.GetState())
}

func TestDeleteInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(logging.Discard()))
	assert.NoError(t, c.DeleteInstance(context.Background(), "i-1"))
}

func TestValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"code":         400,
			"message":      "Validation failed",
			"field_errors": map[string]string{"memory": "memory cannot be negative"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(logging.Discard()))
	_, err := c.CreateInstance(context.Background(), models.Instance{Memory: models.Int(-1)})

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.FieldErrors, "memory")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/nodes":
			writeJSON(w, http.StatusOK, models.InstancesNode{
				"node-a": {{ID: "1"}},
				"node-b": {},
			})
		case "/api/v1/nodes/node-a/instances":
			writeJSON(w, http.StatusOK, models.SyncNodeDispatch("node-a", models.Instances{{ID: "1"}}).Data)
		case "/api/v1/nodes/empty/instances":
			writeJSON(w, http.StatusOK, models.DispatchData{Node: models.String("empty")})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(logging.Discard()))
	ctx := context.Background()

	nodes, err := c.ListNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a", "node-b"}, nodes.Nodes())

	list, err := c.ListNodeInstances(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, list.IDs())

	list, err = c.ListNodeInstances(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestGetInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/instances/i-1/info", r.URL.Path)
		writeJSON(w, http.StatusOK, models.Info{Instance: models.String("i-1"), Disks: []string{}})
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(logging.Discard()))
	info, err := c.GetInfo(context.Background(), "i-1")
	require.NoError(t, err)
	assert.NotNil(t, info.Disks)
	assert.Nil(t, info.FirewallRules)
}

func TestEventsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "http://localhost:8080", want: "ws://localhost:8080/api/v1/ws/events"},
		{base: "https://nimbus.example.com/", want: "wss://nimbus.example.com/api/v1/ws/events"},
		{base: "http://proxy/nimbus", want: "ws://proxy/nimbus/api/v1/ws/events"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := New(tt.base).eventsURL()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ws/events", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_ = conn.WriteJSON(models.ChangeDispatch("i-1", &models.Instance{ID: "i-1"}))
		_ = conn.WriteJSON(models.SyncNodeDispatch("node-a", nil))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := New(srv.URL, WithToken("secret"), WithLogger(logging.Discard()))
	events, err := c.Events(ctx)
	require.NoError(t, err)

	var got []models.InstanceDispatch
	for d := range events {
		got = append(got, d)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "instance.change", got[0].Type)
	assert.Equal(t, "i-1", got[0].Data.Instance.ID)
	assert.Equal(t, "instance.sync_node", got[1].Type)
	assert.Equal(t, "node-a", *got[1].Data.Node)
}

func TestEvents_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(logging.Discard()))
	_, err := c.Events(context.Background())

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
