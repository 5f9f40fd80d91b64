package tunnel

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"peerd/pkg/model"
	"peerd/pkg/roster"
)

type fakeDevices struct {
	mu    sync.Mutex
	names map[string]bool
	err   error
}

func (f *fakeDevices) set(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = map[string]bool{}
	for _, n := range names {
		f.names[n] = true
	}
}

func (f *fakeDevices) Device(name string) (*wgtypes.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if !f.names[name] {
		return nil, os.ErrNotExist
	}
	return &wgtypes.Device{Name: name}, nil
}

func (f *fakeDevices) Devices() ([]*wgtypes.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*wgtypes.Device
	for n := range f.names {
		out = append(out, &wgtypes.Device{Name: n})
	}
	return out, f.err
}

func TestInterfaceName(t *testing.T) {
	assert.Equal(t, "wg-alice", InterfaceName("wg-", "alice"))
	assert.Equal(t, "wg-averyverylon", InterfaceName("wg-", "averyverylongpeername"))
}

func TestHandleIfname(t *testing.T) {
	devs := &fakeDevices{}
	tun := Factory(devs)(model.ZoneConfig{InterfacePrefix: "wg-"}, model.PeerInfo{Name: "alice"})
	require.NotNil(t, tun)

	name, err := tun.Ifname(context.Background())
	require.NoError(t, err)
	assert.Empty(t, name)

	devs.set("wg-alice")
	name, err = tun.Ifname(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wg-alice", name)

	devs.err = errors.New("netlink: permission denied")
	_, err = tun.Ifname(context.Background())
	assert.Error(t, err)

	assert.Nil(t, Factory(devs)(model.ZoneConfig{}, model.PeerInfo{Name: "alice"}))
}

func TestWatcherPoll(t *testing.T) {
	devs := &fakeDevices{}
	r := roster.New([]model.ZoneConfig{{Name: "edge", InterfacePrefix: "wg-"}}, Factory(devs))
	z, _ := r.Zone("edge")
	z.Sync([]model.PeerInfo{{Name: "alice"}})

	changes := 0
	w := &Watcher{Devices: devs, Roster: r, OnChange: func() { changes++ }, Logger: zaptest.NewLogger(t)}

	w.Poll()
	assert.Equal(t, 0, changes, "no devices, nothing changed")

	devs.set("wg-alice", "eth0")
	w.Poll()
	assert.Equal(t, 1, changes)
	w.Poll()
	assert.Equal(t, 1, changes, "same set")

	devs.set("wg-alice", "wg-stale")
	w.Poll()
	assert.Equal(t, 2, changes)
}
