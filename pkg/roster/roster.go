package roster

import (
	"context"
	"sort"
	"sync"

	"peerd/pkg/model"
)

// Tunnel is the handle of a peer's point-to-point interface.
// Ifname returns "" with a nil error when no interface is up yet.
type Tunnel interface {
	Ifname(ctx context.Context) (string, error)
}

// TunnelFactory builds the tunnel handle for a peer joining a zone.
type TunnelFactory func(zone model.ZoneConfig, info model.PeerInfo) Tunnel

// Peer is a member of a zone.
type Peer struct {
	Info model.PeerInfo
	Tun  Tunnel
}

// Zone owns its peers behind a mutex. Readers that must not stall use TryPeers.
type Zone struct {
	Name string
	Conf model.ZoneConfig

	mu     sync.Mutex
	peers  []*Peer
	newTun TunnelFactory
}

// NewZone creates an empty zone.
func NewZone(conf model.ZoneConfig, newTun TunnelFactory) *Zone {
	return &Zone{Name: conf.Name, Conf: conf, newTun: newTun}
}

// TryPeers acquires the peer lock without waiting. On success the caller
// must invoke release when done with the returned slice.
func (z *Zone) TryPeers() (peers []*Peer, release func(), ok bool) {
	if !z.mu.TryLock() {
		return nil, nil, false
	}
	return z.peers, z.mu.Unlock, true
}

// Lock blocks until the peer lock is held and returns its release func.
func (z *Zone) Lock() func() {
	z.mu.Lock()
	return z.mu.Unlock
}

// Sync makes the zone's peers match infos: unknown peers join at the end,
// missing peers leave, changed peers are updated in place.
// Returns true if anything changed.
func (z *Zone) Sync(infos []model.PeerInfo) bool {
	z.mu.Lock()
	defer z.mu.Unlock()

	want := make(map[string]model.PeerInfo, len(infos))
	for _, info := range infos {
		want[info.Name] = info
	}
	changed := false
	kept := z.peers[:0]
	for _, p := range z.peers {
		info, ok := want[p.Info.Name]
		if !ok {
			changed = true
			continue
		}
		if !p.Info.Equal(info) {
			p.Info = info
			changed = true
		}
		delete(want, p.Info.Name)
		kept = append(kept, p)
	}
	// clear the tail so dropped peers can be collected
	for i := len(kept); i < len(z.peers); i++ {
		z.peers[i] = nil
	}
	z.peers = kept

	joined := make([]string, 0, len(want))
	for name := range want {
		joined = append(joined, name)
	}
	sort.Strings(joined)
	for _, name := range joined {
		z.peers = append(z.peers, z.newPeer(want[name]))
		changed = true
	}
	return changed
}

func (z *Zone) newPeer(info model.PeerInfo) *Peer {
	p := &Peer{Info: info}
	if z.newTun != nil {
		p.Tun = z.newTun(z.Conf, info)
	}
	return p
}

// Roster is the set of zones known to the daemon.
type Roster struct {
	zones []*Zone
	index map[string]*Zone
}

// New builds a roster with one zone per config entry, in config order.
func New(confs []model.ZoneConfig, newTun TunnelFactory) *Roster {
	r := &Roster{index: make(map[string]*Zone, len(confs))}
	for _, c := range confs {
		z := NewZone(c, newTun)
		r.zones = append(r.zones, z)
		r.index[c.Name] = z
	}
	return r
}

// Zones returns all zones in config order.
func (r *Roster) Zones() []*Zone {
	return r.zones
}

// Zone looks up a zone by name.
func (r *Roster) Zone(name string) (*Zone, bool) {
	z, ok := r.index[name]
	return z, ok
}
