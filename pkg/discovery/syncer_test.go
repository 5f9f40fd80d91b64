package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"peerd/pkg/model"
	"peerd/pkg/roster"
	"peerd/pkg/store"
)

type countingUpdater struct{ n int }

func (c *countingUpdater) Update(context.Context) error {
	c.n++
	return nil
}

func TestSyncOnce(t *testing.T) {
	ctx := context.Background()
	zones := []model.ZoneConfig{{Name: "edge", Peers: []model.PeerInfo{{Name: "alice"}}}}
	src := store.NewMemoryStore(zones)
	up := &countingUpdater{}
	s := &Syncer{Roster: roster.New(zones, nil), Source: src, Updater: up, Logger: zaptest.NewLogger(t)}

	require.NoError(t, s.SyncOnce(ctx))
	assert.Equal(t, 1, up.n)

	require.NoError(t, s.SyncOnce(ctx))
	assert.Equal(t, 1, up.n, "no change, no update")

	require.NoError(t, src.PutPeer(ctx, "edge", model.PeerInfo{Name: "bob"}))
	require.NoError(t, src.PutPeer(ctx, "elsewhere", model.PeerInfo{Name: "zed"}))
	require.NoError(t, s.SyncOnce(ctx))
	assert.Equal(t, 2, up.n)

	z, _ := s.Roster.Zone("edge")
	peers, release, ok := z.TryPeers()
	require.True(t, ok)
	defer release()
	assert.Len(t, peers, 2)
}

func TestApplyRemovesMissingZonePeers(t *testing.T) {
	r := roster.New([]model.ZoneConfig{{Name: "edge"}}, nil)
	s := &Syncer{Roster: r}
	changed, err := s.Apply(context.Background(), map[string][]model.PeerInfo{"edge": {{Name: "alice"}}})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Apply(context.Background(), map[string][]model.PeerInfo{})
	require.NoError(t, err)
	assert.True(t, changed)
	z, _ := r.Zone("edge")
	peers, release, ok := z.TryPeers()
	require.True(t, ok)
	defer release()
	assert.Empty(t, peers)
}
