package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerd/pkg/config"
	"peerd/pkg/model"
	"peerd/pkg/store"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := newLogger(config.Log{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
	_, err := newLogger(config.Log{Level: "loud", Format: "json"})
	assert.Error(t, err)
	_, err = newLogger(config.Log{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestOpenSourceMemory(t *testing.T) {
	cfg := &config.Config{
		Discovery: config.Discovery{Backend: "memory"},
		Zones: []model.ZoneConfig{{
			Name:  "edge",
			Peers: []model.PeerInfo{{Name: "alice", Route: model.RouteBIRD}},
		}},
	}
	src, closeSource, err := openSource(cfg)
	require.NoError(t, err)
	defer closeSource()
	require.IsType(t, &store.MemoryStore{}, src)

	peers, err := src.ListPeers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", peers["edge"][0].Name)
}

func TestSigner(t *testing.T) {
	assert.Nil(t, signer(config.API{}))
	s := signer(config.API{JWTSecret: "k"})
	require.NotNil(t, s)
	tok, err := s.Generate("root", time.Minute)
	require.NoError(t, err)
	_, err = s.Parse(tok)
	assert.NoError(t, err)
}
