// Package api wires up the Gin HTTP router that lets an operator (or a
// session proxy that isn't itself embedding the Coordinator) drive
// acquire/release and inspect lock state over HTTP.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"distributed-ddlock/internal/coordinator"
	"distributed-ddlock/internal/lock"
	"distributed-ddlock/internal/peers"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	coord  *coordinator.Coordinator
	peers  *peers.Registry
	selfID lock.NodeID
}

// NewHandler creates a Handler.
func NewHandler(c *coordinator.Coordinator, p *peers.Registry, self lock.NodeID) *Handler {
	return &Handler{coord: c, peers: p, selfID: self}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)

	lockGroup := r.Group("/lock")
	lockGroup.POST("/:dbid/acquire", h.Acquire)
	lockGroup.POST("/:dbid/release", h.Release)
	lockGroup.GET("/:dbid", h.Status)

	clusterGroup := r.Group("/cluster")
	clusterGroup.GET("/nodes", h.ListNodes)
	clusterGroup.POST("/nodes", h.JoinNode)
	clusterGroup.DELETE("/nodes/:sysid", h.LeaveNode)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"node_id": h.selfID.String(),
		"peers":   h.peers.Count(),
	})
}

func parseDBID(c *gin.Context) (uint32, bool) {
	v, err := strconv.ParseUint(c.Param("dbid"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dbid"})
		return 0, false
	}
	return uint32(v), true
}

// Acquire handles POST /lock/:dbid/acquire
// Body: {"kind": "ddl_lock" | "write_lock"}
func (h *Handler) Acquire(c *gin.Context) {
	dbid, ok := parseDBID(c)
	if !ok {
		return
	}

	var body struct {
		Kind string `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, ok := lock.ParseKind(body.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be ddl_lock or write_lock"})
		return
	}

	if err := h.coord.Acquire(c.Request.Context(), dbid, kind); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dbid": dbid, "kind": kind.String(), "acquired": true})
}

// Release handles POST /lock/:dbid/release
func (h *Handler) Release(c *gin.Context) {
	dbid, ok := parseDBID(c)
	if !ok {
		return
	}
	if err := h.coord.ReleaseOnEnd(c.Request.Context(), dbid); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dbid": dbid, "released": true})
}

// Status handles GET /lock/:dbid
func (h *Handler) Status(c *gin.Context) {
	dbid, ok := parseDBID(c)
	if !ok {
		return
	}
	snap, ok := h.coord.Snapshot(dbid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no lock state for that database"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dbid":              snap.DBID,
		"peer_count":        snap.PeerCount,
		"ready":             snap.Ready,
		"held":              snap.Held,
		"holder":            snap.Holder.String(),
		"kind":              snap.Kind.String(),
		"acquire_confirmed": snap.AcquireConfirmed,
		"acquire_declined":  snap.AcquireDeclined,
		"waiter_count":      snap.WaiterCount,
		"acquired_at":       snap.AcquiredAt,
	})
}

func (h *Handler) ListNodes(c *gin.Context) {
	all := h.peers.All()
	out := make([]gin.H, 0, len(all))
	for _, p := range all {
		out = append(out, gin.H{"id": p.ID.String(), "address": p.Address, "alive": p.Alive})
	}
	c.JSON(http.StatusOK, gin.H{"nodes": out})
}

func (h *Handler) JoinNode(c *gin.Context) {
	var body struct {
		SysID    uint64 `json:"sysid" binding:"required"`
		Timeline uint32 `json:"timeline"`
		DBID     uint32 `json:"dbid"`
		Address  string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := lock.NodeID{SysID: body.SysID, Timeline: body.Timeline, DBID: body.DBID}
	if err := h.peers.Join(peers.Peer{ID: id, Address: body.Address}); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": id.String()})
}

func (h *Handler) LeaveNode(c *gin.Context) {
	sysid, err := strconv.ParseUint(c.Param("sysid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sysid"})
		return
	}
	for _, p := range h.peers.All() {
		if p.ID.SysID == sysid {
			if err := h.peers.Leave(p.ID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"left": p.ID.String()})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
}

func statusFor(err error) int {
	switch err.(type) {
	case coordinator.ErrLockUnavailable:
		return http.StatusConflict
	case coordinator.ErrNotReady:
		return http.StatusServiceUnavailable
	case coordinator.ErrPermissionDenied:
		return http.StatusForbidden
	case lock.ErrConfigLimit:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
