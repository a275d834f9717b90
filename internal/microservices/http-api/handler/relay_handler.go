package handler

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"chatrelay/internal/microservices/http-api/dto"
	relay "chatrelay/internal/microservices/udp-relay"
	"chatrelay/internal/transport/udp"

	"github.com/gin-gonic/gin"
)

// RelayService is the part of the relay server the admin API needs
type RelayService interface {
	Addr() netip.AddrPort
	Peers(ctx context.Context) ([]netip.AddrPort, error)
	Announce(ctx context.Context, text string) (int, error)
	Stats() relay.Stats
}

type RelayHandler struct {
	svc        RelayService
	instanceID string
	startedAt  time.Time
}

func NewRelayHandler(svc RelayService, instanceID string) *RelayHandler {
	return &RelayHandler{
		svc:        svc,
		instanceID: instanceID,
		startedAt:  time.Now(),
	}
}

func (h *RelayHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/peers", h.GetPeers)
	rg.GET("/stats", h.GetStats)
	rg.POST("/announce", h.Announce)
}

// Health reports that the admin API is up and which relay it fronts
func (h *RelayHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:     "ok",
		InstanceID: h.instanceID,
		RelayAddr:  h.svc.Addr().String(),
		StartedAt:  h.startedAt,
		Uptime:     time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// GetPeers returns the registered peers in first-seen order
func (h *RelayHandler) GetPeers(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	peers, err := h.svc.Peers(ctx)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := dto.PeersResponse{Peers: make([]string, 0, len(peers)), Total: len(peers)}
	for _, p := range peers {
		resp.Peers = append(resp.Peers, p.String())
	}
	c.JSON(http.StatusOK, resp)
}

// GetStats returns the relay counters
func (h *RelayHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

// Announce broadcasts a message from the relay itself to every peer
func (h *RelayHandler) Announce(c *gin.Context) {
	var req dto.AnnounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	delivered, err := h.svc.Announce(ctx, req.Message)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.AnnounceResponse{
		Message:   "announcement sent",
		Delivered: delivered,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, udp.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrServerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
