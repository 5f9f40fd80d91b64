package model

// ZoneBird enables BIRD integration for a zone.
type ZoneBird struct {
	ProtocolPrefix string `toml:"protocol_prefix" json:"protocolPrefix"`
	BGPTemplate    string `toml:"bgp_template" json:"bgpTemplate"`
}

// ZoneConfig is the static configuration of a zone.
type ZoneConfig struct {
	Name            string     `toml:"name" json:"name"`
	InterfacePrefix string     `toml:"interface_prefix,omitempty" json:"interfacePrefix,omitempty"`
	Bird            *ZoneBird  `toml:"bird,omitempty" json:"bird,omitempty"`
	Peers           []PeerInfo `toml:"peers,omitempty" json:"peers,omitempty"` // static peers for the memory source
}
