package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"distributed-ddlock/internal/coordinator"
	"distributed-ddlock/internal/journal"
	"distributed-ddlock/internal/lock"
	"distributed-ddlock/internal/peers"
	"distributed-ddlock/internal/transport"
)

const testDBID = 16384

func newTestRouter(t *testing.T) (*gin.Engine, *coordinator.Coordinator, lock.NodeID) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	self := lock.NodeID{SysID: 1, Timeline: 1, DBID: testDBID}
	other := lock.NodeID{SysID: 2, Timeline: 1, DBID: testDBID}

	bus := transport.NewBus()
	tp := transport.NewMemory(bus, self)
	otherTP := transport.NewMemory(bus, other)

	pr := peers.NewRegistry([]peers.Peer{{ID: other, Address: "peer:1"}})

	cfg := coordinator.DefaultConfig()
	cfg.PermitDDLLocking = true
	cfg.MaxDatabases = 4

	c := coordinator.New(cfg, self, journal.NewMemory(), pr, nil, zerolog.Nop())
	_, err := c.RegisterDatabase(testDBID, tp)
	require.NoError(t, err)

	// The peer runs its own Coordinator so an acquire from self receives
	// the CONFIRM it waits for.
	peer := coordinator.New(cfg, other, journal.NewMemory(), peers.NewRegistry([]peers.Peer{{ID: self}}), nil, zerolog.Nop())
	_, err = peer.RegisterDatabase(testDBID, otherTP)
	require.NoError(t, err)

	ctx := t.Context()
	go tp.Run(ctx)
	go otherTP.Run(ctx)
	require.NoError(t, c.Startup(ctx, testDBID))
	require.NoError(t, peer.Startup(ctx, testDBID))

	r := gin.New()
	NewHandler(c, pr, self).Register(r)
	return r, c, self
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r, _, self := newTestRouter(t)
	w := doJSON(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, self.String(), body["node_id"])
}

func TestAcquireAndStatusEndpoints(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/lock/16384/acquire", map[string]string{"kind": "ddl_lock"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/lock/16384", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Equal(t, float64(1), snap["held"])
	require.Equal(t, "ddl_lock", snap["kind"])

	w = doJSON(r, http.MethodPost, "/lock/16384/release", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAcquireRejectsUnknownKind(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(r, http.MethodPost, "/lock/16384/acquire", map[string]string{"kind": "bogus"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusUnknownDatabaseIsNotFound(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(r, http.MethodGet, "/lock/99999", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestClusterNodesRoundTrip(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/cluster/nodes", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Nodes []map[string]any `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Nodes, 1)

	w = doJSON(r, http.MethodPost, "/cluster/nodes", map[string]any{
		"sysid": 3, "timeline": 1, "dbid": testDBID, "address": "node3:8080",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/cluster/nodes/3", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/cluster/nodes/404", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
