package consul

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"peerd/pkg/model"
)

// DefaultPrefix is the KV prefix under which zones are published:
// <prefix><zone>/peers/<name> -> JSON PeerInfo.
const DefaultPrefix = "peerd/zones/"

// Store is a Consul KV backed peer store.
type Store struct {
	cli    *consulapi.Client
	prefix string
}

func NewStore(addr, token, prefix string) (*Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if token != "" {
		cfg.Token = token
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Store{cli: cli, prefix: prefix}, nil
}

func (s *Store) peerKey(zone, name string) string {
	return s.prefix + zone + "/peers/" + name
}

func (s *Store) ListPeers(ctx context.Context) (map[string][]model.PeerInfo, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	pairs, _, err := s.cli.KV().List(s.prefix, q)
	if err != nil {
		return nil, fmt.Errorf("consul list %s: %w", s.prefix, err)
	}
	return decodePairs(s.prefix, pairs), nil
}

func (s *Store) PutPeer(ctx context.Context, zone string, p model.PeerInfo) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	w := (&consulapi.WriteOptions{}).WithContext(ctx)
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: s.peerKey(zone, p.Name), Value: b}, w)
	return err
}

func (s *Store) DeletePeer(ctx context.Context, zone, name string) error {
	w := (&consulapi.WriteOptions{}).WithContext(ctx)
	_, err := s.cli.KV().Delete(s.peerKey(zone, name), w)
	return err
}

// Watch runs blocking queries on the prefix and calls onChange with every new
// snapshot until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(map[string][]model.PeerInfo)) {
	q := &consulapi.QueryOptions{}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pairs, meta, err := s.cli.KV().List(s.prefix, q.WithContext(ctx))
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if meta.LastIndex < q.WaitIndex {
			// index went backwards, start over
			q.WaitIndex = 0
			continue
		}
		if meta.LastIndex == q.WaitIndex {
			continue
		}
		q.WaitIndex = meta.LastIndex
		onChange(decodePairs(s.prefix, pairs))
	}
}

// decodePairs groups peer entries by zone. Keys that do not match the layout
// and values that do not decode are ignored.
func decodePairs(prefix string, pairs consulapi.KVPairs) map[string][]model.PeerInfo {
	out := make(map[string][]model.PeerInfo)
	for _, p := range pairs {
		rest := strings.TrimPrefix(p.Key, prefix)
		parts := strings.Split(rest, "/")
		if len(parts) != 3 || parts[1] != "peers" || parts[0] == "" || parts[2] == "" {
			continue
		}
		var info model.PeerInfo
		if err := json.Unmarshal(p.Value, &info); err != nil {
			continue
		}
		if info.Name == "" {
			info.Name = parts[2]
		}
		out[parts[0]] = append(out[parts[0]], info)
	}
	return out
}
