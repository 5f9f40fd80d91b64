package store

import (
	"context"
	"sort"
	"sync"

	"peerd/pkg/model"
)

// MemoryStore keeps peers in memory. It is seeded from the static peers of
// the zone configs.
type MemoryStore struct {
	mu    sync.RWMutex
	zones map[string]map[string]model.PeerInfo
}

func NewMemoryStore(zones []model.ZoneConfig) *MemoryStore {
	m := &MemoryStore{}
	m.Replace(zones)
	return m
}

// Replace discards all peers and reseeds from zones, e.g. after a config reload.
func (m *MemoryStore) Replace(zones []model.ZoneConfig) {
	seeded := make(map[string]map[string]model.PeerInfo, len(zones))
	for _, z := range zones {
		for _, p := range z.Peers {
			if seeded[z.Name] == nil {
				seeded[z.Name] = make(map[string]model.PeerInfo)
			}
			seeded[z.Name][p.Name] = p
		}
	}
	m.mu.Lock()
	m.zones = seeded
	m.mu.Unlock()
}

func (m *MemoryStore) ListPeers(_ context.Context) (map[string][]model.PeerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]model.PeerInfo, len(m.zones))
	for zone, peers := range m.zones {
		list := make([]model.PeerInfo, 0, len(peers))
		for _, p := range peers {
			list = append(list, p)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		out[zone] = list
	}
	return out, nil
}

func (m *MemoryStore) PutPeer(_ context.Context, zone string, p model.PeerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(zone, p)
	return nil
}

func (m *MemoryStore) put(zone string, p model.PeerInfo) {
	if m.zones[zone] == nil {
		m.zones[zone] = make(map[string]model.PeerInfo)
	}
	m.zones[zone][p.Name] = p
}

func (m *MemoryStore) DeletePeer(_ context.Context, zone, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[zone][name]; !ok {
		return ErrNotFound
	}
	delete(m.zones[zone], name)
	return nil
}
