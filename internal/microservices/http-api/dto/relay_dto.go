package dto

import "time"

// AnnounceRequest is the body of POST /api/v1/relay/announce
type AnnounceRequest struct {
	Message string `json:"message" binding:"required"`
}

// AnnounceResponse reports how many peers the announcement reached
type AnnounceResponse struct {
	Message   string `json:"message"`
	Delivered int    `json:"delivered"`
}

// PeersResponse lists registered peers in the order they first spoke
type PeersResponse struct {
	Peers []string `json:"peers"`
	Total int      `json:"total"`
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Status     string    `json:"status"`
	InstanceID string    `json:"instance_id"`
	RelayAddr  string    `json:"relay_addr"`
	StartedAt  time.Time `json:"started_at"`
	Uptime     string    `json:"uptime"`
}
