package tunnel

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"peerd/pkg/roster"
)

// Watcher polls WireGuard devices and calls OnChange whenever the set of
// devices belonging to the roster's zones changes.
type Watcher struct {
	Devices  DeviceLister
	Roster   *roster.Roster
	Interval time.Duration
	OnChange func()
	Logger   *zap.Logger

	last []string
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		w.Poll()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll checks the devices once.
func (w *Watcher) Poll() {
	devs, err := w.Devices.Devices()
	if err != nil {
		w.Logger.Warn("list wireguard devices failed", zap.Error(err))
		return
	}
	prefixes := w.prefixes()
	var names []string
	for _, d := range devs {
		if hasAnyPrefix(d.Name, prefixes) {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	if equalStrings(names, w.last) {
		return
	}
	w.last = names
	w.reportUnknown(names)
	if w.OnChange != nil {
		w.OnChange()
	}
}

func (w *Watcher) prefixes() []string {
	var out []string
	for _, z := range w.Roster.Zones() {
		if z.Conf.InterfacePrefix != "" {
			out = append(out, z.Conf.InterfacePrefix)
		}
	}
	return out
}

// reportUnknown logs devices with a zone prefix that no peer maps to.
// Busy zones are skipped for this round.
func (w *Watcher) reportUnknown(names []string) {
	known := map[string]bool{}
	for _, z := range w.Roster.Zones() {
		if z.Conf.InterfacePrefix == "" {
			continue
		}
		peers, release, ok := z.TryPeers()
		if !ok {
			return
		}
		for _, p := range peers {
			known[InterfaceName(z.Conf.InterfacePrefix, p.Info.Name)] = true
		}
		release()
	}
	for _, n := range names {
		if !known[n] {
			w.Logger.Info("unknown wireguard interface", zap.String("ifname", n))
		}
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
