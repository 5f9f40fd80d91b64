package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"peerd/pkg/model"
	"peerd/pkg/roster"
)

// maxIfnameLen is IFNAMSIZ minus the terminating NUL.
const maxIfnameLen = 15

// DeviceLister is the subset of *wgctrl.Client used here.
type DeviceLister interface {
	Device(name string) (*wgtypes.Device, error)
	Devices() ([]*wgtypes.Device, error)
}

// InterfaceName derives the tunnel interface name of a peer.
func InterfaceName(prefix, peer string) string {
	name := prefix + peer
	if len(name) > maxIfnameLen {
		name = name[:maxIfnameLen]
	}
	return name
}

// Handle resolves a peer's WireGuard interface.
type Handle struct {
	name string
	devs DeviceLister
}

// Ifname returns the interface name if the device exists, "" otherwise.
func (h *Handle) Ifname(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if h.devs == nil {
		return "", nil
	}
	if _, err := h.devs.Device(h.name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("lookup device %s: %w", h.name, err)
	}
	return h.name, nil
}

// Factory returns a roster.TunnelFactory that creates handles over devs.
// Zones without an interface prefix get no tunnel handle.
func Factory(devs DeviceLister) roster.TunnelFactory {
	return func(zone model.ZoneConfig, info model.PeerInfo) roster.Tunnel {
		if zone.InterfacePrefix == "" {
			return nil
		}
		return &Handle{name: InterfaceName(zone.InterfacePrefix, info.Name), devs: devs}
	}
}
