package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"peerd/pkg/model"
	"peerd/pkg/roster"
	"peerd/pkg/store"
)

// Updater is triggered after every roster change.
type Updater interface {
	Update(ctx context.Context) error
}

// Syncer mirrors a peer source into the roster.
type Syncer struct {
	Roster  *roster.Roster
	Source  store.PeerSource
	Updater Updater
	Logger  *zap.Logger
}

// Apply installs a snapshot and triggers an update if any zone changed.
// Peers of zones unknown to the roster are ignored.
func (s *Syncer) Apply(ctx context.Context, snapshot map[string][]model.PeerInfo) (bool, error) {
	logger := s.logger()
	for name := range snapshot {
		if _, ok := s.Roster.Zone(name); !ok {
			logger.Debug("ignoring peers of unknown zone", zap.String("zone", name))
		}
	}
	changed := false
	for _, z := range s.Roster.Zones() {
		if z.Sync(snapshot[z.Name]) {
			logger.Info("zone peers changed", zap.String("zone", z.Name), zap.Int("peers", len(snapshot[z.Name])))
			changed = true
		}
	}
	if !changed || s.Updater == nil {
		return changed, nil
	}
	return true, s.Updater.Update(ctx)
}

// SyncOnce lists the source and applies the result.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	snapshot, err := s.Source.ListPeers(ctx)
	if err != nil {
		return err
	}
	_, err = s.Apply(ctx, snapshot)
	return err
}

// Poll syncs every interval until ctx is done.
func (s *Syncer) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger().Error("peer sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Syncer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
