// Package client provides a thin Go SDK over a single ddlockd node's admin
// HTTP surface. It hides request construction and JSON decoding behind a
// handful of calls (Acquire, Release, Status, JoinCluster, LeaveCluster) and
// implements none of the interlock logic itself — that lives entirely on
// the server the client talks to.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client talks to one ddlockd node over its admin HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client against baseURL, e.g. "http://localhost:8080". A
// zero timeout falls back to 10s; callers that need no timeout should pass
// a context with its own deadline instead of relying on this default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// AcquireResponse is returned after a successful acquire.
type AcquireResponse struct {
	DBID     uint32 `json:"dbid"`
	Kind     string `json:"kind"`
	Acquired bool   `json:"acquired"`
}

// StatusResponse mirrors the coordinator's lock.Snapshot as seen over HTTP.
type StatusResponse struct {
	DBID             uint32    `json:"dbid"`
	PeerCount        int       `json:"peer_count"`
	Ready            bool      `json:"ready"`
	Held             uint32    `json:"held"`
	Holder           string    `json:"holder"`
	Kind             string    `json:"kind"`
	AcquireConfirmed uint32    `json:"acquire_confirmed"`
	AcquireDeclined  uint32    `json:"acquire_declined"`
	WaiterCount      int       `json:"waiter_count"`
	AcquiredAt       time.Time `json:"acquired_at"`
}

// Node describes one member of the cluster as returned by /cluster/nodes.
type Node struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Alive   bool   `json:"alive"`
}

// Acquire requests kind ("ddl_lock" or "write_lock") on dbid.
func (c *Client) Acquire(ctx context.Context, dbid uint32, kind string) (*AcquireResponse, error) {
	body, _ := json.Marshal(map[string]string{"kind": kind})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/lock/%d/acquire", c.baseURL, dbid), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acquire request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result AcquireResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Release drops whatever lock the node currently holds on dbid.
func (c *Client) Release(ctx context.Context, dbid uint32) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/lock/%d/release", c.baseURL, dbid), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("release request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Status fetches the current lock snapshot for dbid.
func (c *Client) Status(ctx context.Context, dbid uint32) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/lock/%d", c.baseURL, dbid), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoLockState
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result StatusResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Nodes lists the cluster membership as this node sees it.
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/cluster/nodes", c.baseURL), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nodes request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result struct {
		Nodes []Node `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// JoinCluster registers a peer node by sysid/timeline/dbid and address.
func (c *Client) JoinCluster(ctx context.Context, sysid uint64, timeline, dbid uint32, address string) error {
	body, _ := json.Marshal(map[string]any{
		"sysid": sysid, "timeline": timeline, "dbid": dbid, "address": address,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/cluster/nodes", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// LeaveCluster removes the peer identified by sysid.
func (c *Client) LeaveCluster(ctx context.Context, sysid uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/cluster/nodes/%s", c.baseURL, strconv.FormatUint(sysid, 10)), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// ErrNoLockState is returned when the server has never registered the
// requested database.
var ErrNoLockState = fmt.Errorf("no lock state for that database")

// APIError carries the HTTP status and message body from a failed call.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
