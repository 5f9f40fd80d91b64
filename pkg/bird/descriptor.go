package bird

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"peerd/pkg/model"
)

// ErrDescriptor is wrapped by every descriptor construction failure.
var ErrDescriptor = errors.New("invalid bgp descriptor")

// Descriptor is the BGP neighbor description of a peer. It is comparable with ==.
type Descriptor struct {
	Endpoint   netip.Addr
	Port       uint16
	HasPort    bool
	NeighborAS uint32
}

// NewDescriptor parses the bgp_* properties of a peer.
func NewDescriptor(props map[string]string) (Descriptor, error) {
	var d Descriptor

	raw, ok := props[model.KeyBGPEndpoint]
	if !ok {
		return d, fmt.Errorf("%w: %s is not available", ErrDescriptor, model.KeyBGPEndpoint)
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return d, fmt.Errorf("%w: %s: %v", ErrDescriptor, model.KeyBGPEndpoint, err)
	}
	d.Endpoint = addr

	if raw, ok := props[model.KeyBGPEndpointPort]; ok {
		port, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return d, fmt.Errorf("%w: %s: %v", ErrDescriptor, model.KeyBGPEndpointPort, err)
		}
		d.Port, d.HasPort = uint16(port), true
	}

	raw, ok = props[model.KeyBGPNeighborAS]
	if !ok {
		return d, fmt.Errorf("%w: %s is not available", ErrDescriptor, model.KeyBGPNeighborAS)
	}
	as, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return d, fmt.Errorf("%w: %s: %v", ErrDescriptor, model.KeyBGPNeighborAS, err)
	}
	d.NeighborAS = uint32(as)
	return d, nil
}
