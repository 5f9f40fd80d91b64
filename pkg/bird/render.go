package bird

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"peerd/pkg/model"
	"peerd/pkg/roster"
)

// Header is the first line of every generated file.
const Header = "# generated by peerd"

const defaultIfnameTimeout = time.Second

// RenderOptions tunes Render.
type RenderOptions struct {
	// Strict aborts the render on the first peer with malformed bgp_* props.
	// Otherwise such peers are skipped and reported in Rendering.Skipped.
	Strict bool
	// IfnameTimeout bounds each tunnel interface lookup.
	IfnameTimeout time.Duration
	Logger        *zap.Logger
}

// Rendering is the result of Render. When Deferred is set, a zone's peers were
// busy and Text is empty; the caller is expected to retry later.
type Rendering struct {
	Text     string
	Deferred bool
	BusyZone string
	Peers    int
	Skipped  []string
}

// Render builds the BIRD configuration for all BIRD-enabled zones.
// It never waits on a zone's peer lock. A ctx cancelled while rendering is an
// error: interface lookups may have failed because of it.
func Render(ctx context.Context, zones []*roster.Zone, opts RenderOptions) (Rendering, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lines := []string{Header}
	var res Rendering
	for _, zone := range zones {
		zb := zone.Conf.Bird
		if zb == nil {
			continue
		}
		peers, release, ok := zone.TryPeers()
		if !ok {
			return Rendering{Deferred: true, BusyZone: zone.Name}, nil
		}
		zoneLines, skipped, err := renderZone(ctx, zb, peers, opts, logger.With(zap.String("zone", zone.Name)))
		release()
		if err != nil {
			return Rendering{}, fmt.Errorf("zone %s: %w", zone.Name, err)
		}
		lines = append(lines, zoneLines...)
		res.Peers += len(zoneLines)
		res.Skipped = append(res.Skipped, skipped...)
	}
	if err := ctx.Err(); err != nil {
		return Rendering{}, fmt.Errorf("render interrupted: %w", err)
	}
	res.Text = strings.Join(lines, "\n")
	return res, nil
}

func renderZone(ctx context.Context, zb *model.ZoneBird, peers []*roster.Peer, opts RenderOptions, logger *zap.Logger) (lines, skipped []string, err error) {
	for _, peer := range peers {
		if peer.Info.Route != model.RouteBIRD {
			continue
		}
		desc, err := NewDescriptor(peer.Info.Props)
		if err != nil {
			if opts.Strict {
				return nil, nil, fmt.Errorf("peer %s: %w", peer.Info.Name, err)
			}
			logger.Warn("skipping peer with invalid bgp properties",
				zap.String("peer", peer.Info.Name), zap.Error(err))
			skipped = append(skipped, peer.Info.Name)
			continue
		}
		lines = append(lines, ProtocolLine(zb, peer.Info.Name, desc, ifname(ctx, peer, opts.IfnameTimeout)))
	}
	return lines, skipped, nil
}

// ProtocolLine renders one "protocol bgp" statement. Empty port and interface
// clauses collapse to nothing.
func ProtocolLine(zb *model.ZoneBird, peerName string, d Descriptor, ifname string) string {
	port := ""
	if d.HasPort {
		port = fmt.Sprintf(" port %d ", d.Port)
	}
	iface := ""
	if ifname != "" {
		iface = fmt.Sprintf("interface '%s';", ifname)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "protocol bgp %s%s from %s { neighbor %s %s as %d; %s };",
		zb.ProtocolPrefix, peerName, zb.BGPTemplate, d.Endpoint, port, d.NeighborAS, iface)
	return b.String()
}

// ifname resolves the tunnel interface best effort; any failure yields "".
func ifname(ctx context.Context, peer *roster.Peer, timeout time.Duration) string {
	if peer.Tun == nil {
		return ""
	}
	if timeout <= 0 {
		timeout = defaultIfnameTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	name, err := peer.Tun.Ifname(ctx)
	if err != nil {
		return ""
	}
	return name
}
