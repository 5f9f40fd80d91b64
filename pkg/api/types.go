package api

import (
	"peerd/pkg/bird"
	"peerd/pkg/model"
)

// PeerView is a peer as shown by /api/v1/zones.
type PeerView struct {
	Name   string          `json:"name"`
	Route  model.RouteKind `json:"route"`
	Ifname string          `json:"ifname,omitempty"`
}

// ZoneView is a zone as shown by /api/v1/zones. Busy zones have no peers listed.
type ZoneView struct {
	Name        string          `json:"name"`
	BirdEnabled bool            `json:"birdEnabled"`
	Busy        bool            `json:"busy,omitempty"`
	Peers       []PeerView      `json:"peers,omitempty"`
	Bird        *model.ZoneBird `json:"bird,omitempty"`
}

// RenderResponse is the dry-run output of /api/v1/render.
type RenderResponse struct {
	Deferred bool     `json:"deferred"`
	BusyZone string   `json:"busyZone,omitempty"`
	Peers    int      `json:"peers"`
	Skipped  []string `json:"skipped,omitempty"`
	Config   string   `json:"config,omitempty"`
}

// StatusResponse is returned by /api/v1/status.
type StatusResponse struct {
	Version string      `json:"version"`
	Bird    bird.Status `json:"bird"`
	Enabled bool        `json:"enabled"`
}

// WSMessage is the envelope of every websocket frame.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}
