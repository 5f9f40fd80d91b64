package store

import (
	"context"
	"errors"

	"peerd/pkg/model"
)

// ErrNotFound is returned when a peer does not exist.
var ErrNotFound = errors.New("peer not found")

// PeerSource publishes the peers of every zone.
// ListPeers returns zone name -> peers; zones absent from the map have no peers.
type PeerSource interface {
	ListPeers(ctx context.Context) (map[string][]model.PeerInfo, error)
}

// PeerStore is a PeerSource that can also be written to.
type PeerStore interface {
	PeerSource
	PutPeer(ctx context.Context, zone string, p model.PeerInfo) error
	DeletePeer(ctx context.Context, zone, name string) error
}
