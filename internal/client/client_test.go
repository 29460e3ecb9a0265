package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseAndStatus(t *testing.T) {
	var lastKind string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/lock/16384/acquire":
			var body struct {
				Kind string `json:"kind"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			lastKind = body.Kind
			_ = json.NewEncoder(w).Encode(AcquireResponse{DBID: 16384, Kind: body.Kind, Acquired: true})
		case r.Method == http.MethodGet && r.URL.Path == "/lock/16384":
			_ = json.NewEncoder(w).Encode(StatusResponse{DBID: 16384, Held: 1, Kind: lastKind})
		case r.Method == http.MethodPost && r.URL.Path == "/lock/16384/release":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	ctx := t.Context()

	resp, err := c.Acquire(ctx, 16384, "ddl_lock")
	require.NoError(t, err)
	require.True(t, resp.Acquired)

	status, err := c.Status(ctx, 16384)
	require.NoError(t, err)
	require.Equal(t, uint32(1), status.Held)
	require.Equal(t, "ddl_lock", status.Kind)

	require.NoError(t, c.Release(ctx, 16384))
}

func TestStatusMissingDatabaseReturnsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.Status(t.Context(), 1)
	require.ErrorIs(t, err, ErrNoLockState)
}

func TestAcquireSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "held by another node"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.Acquire(t.Context(), 1, "ddl_lock")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestClusterJoinAndLeave(t *testing.T) {
	var joined, left bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/cluster/nodes":
			joined = true
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete && r.URL.Path == "/cluster/nodes/3":
			left = true
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/cluster/nodes":
			_ = json.NewEncoder(w).Encode(map[string]any{"nodes": []Node{{ID: "n1", Address: "a:1", Alive: true}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	ctx := t.Context()

	require.NoError(t, c.JoinCluster(ctx, 3, 1, 16384, "node3:8080"))
	require.True(t, joined)

	nodes, err := c.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	require.NoError(t, c.LeaveCluster(ctx, 3))
	require.True(t, left)
}
