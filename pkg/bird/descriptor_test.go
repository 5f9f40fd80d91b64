package bird

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDescriptor(t *testing.T) {
	tests := map[string]struct {
		props   map[string]string
		want    Descriptor
		wantErr bool
	}{
		"no port": {
			props: map[string]string{"bgp_endpoint": "10.0.0.5", "bgp_neighbor_as": "65000"},
			want:  Descriptor{Endpoint: netip.MustParseAddr("10.0.0.5"), NeighborAS: 65000},
		},
		"with port": {
			props: map[string]string{"bgp_endpoint": "fd00::1", "bgp_endpoint_port": "179", "bgp_neighbor_as": "4200000000"},
			want:  Descriptor{Endpoint: netip.MustParseAddr("fd00::1"), Port: 179, HasPort: true, NeighborAS: 4200000000},
		},
		"missing endpoint": {
			props:   map[string]string{"bgp_neighbor_as": "65000"},
			wantErr: true,
		},
		"missing as": {
			props:   map[string]string{"bgp_endpoint": "10.0.0.5"},
			wantErr: true,
		},
		"malformed address": {
			props:   map[string]string{"bgp_endpoint": "not-an-ip", "bgp_neighbor_as": "65000"},
			wantErr: true,
		},
		"port out of range": {
			props:   map[string]string{"bgp_endpoint": "10.0.0.5", "bgp_endpoint_port": "70000", "bgp_neighbor_as": "65000"},
			wantErr: true,
		},
		"as out of range": {
			props:   map[string]string{"bgp_endpoint": "10.0.0.5", "bgp_neighbor_as": "4294967296"},
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := NewDescriptor(tc.props)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrDescriptor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.True(t, got == tc.want)
		})
	}
}
