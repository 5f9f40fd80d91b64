package model

// RouteKind selects the routing protocol variant a peer participates in.
type RouteKind string

const (
	RouteNone   RouteKind = "none"
	RouteStatic RouteKind = "static"
	RouteBIRD   RouteKind = "bird"
)

// Property keys read from PeerInfo.Props when Route is RouteBIRD.
const (
	KeyBGPEndpoint     = "bgp_endpoint"
	KeyBGPEndpointPort = "bgp_endpoint_port"
	KeyBGPNeighborAS   = "bgp_neighbor_as"
)

// PeerInfo describes a mesh peer as published by discovery.
type PeerInfo struct {
	Name      string            `json:"name" toml:"name"`
	Route     RouteKind         `json:"route,omitempty" toml:"route,omitempty"`
	PublicKey string            `json:"publicKey,omitempty" toml:"public_key,omitempty"`
	Endpoint  string            `json:"endpoint,omitempty" toml:"endpoint,omitempty"`
	Props     map[string]string `json:"props,omitempty" toml:"props,omitempty"`
}

// Equal reports whether two infos describe the same peer state.
func (p PeerInfo) Equal(o PeerInfo) bool {
	if p.Name != o.Name || p.Route != o.Route || p.PublicKey != o.PublicKey || p.Endpoint != o.Endpoint {
		return false
	}
	if len(p.Props) != len(o.Props) {
		return false
	}
	for k, v := range p.Props {
		if ov, ok := o.Props[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
