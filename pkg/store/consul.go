package store

import (
	"peerd/pkg/consul"
)

// NewConsulStore creates a Consul-backed peer store.
func NewConsulStore(addr, token, prefix string) (PeerStore, error) {
	return consul.NewStore(addr, token, prefix)
}
