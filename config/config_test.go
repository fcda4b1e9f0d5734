package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4c3e/rip-demo-1/overlay"
	"github.com/4c3e/rip-demo-1/server"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "rip.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, overlay.DefaultListen, cfg.Transport.Listen)
	assert.Equal(t, "basename", cfg.Server.Routes)
	assert.Equal(t, 5*time.Second, cfg.Client.Timeout)
}

func TestLoadFile(t *testing.T) {
	p := writeConfig(t, `
transport:
  listen: ":5000"
  peers: ["10.0.0.2:4242", "10.0.0.3:4242"]
  keepalive_interval: 10s
server:
  root: /srv/rip
  routes: tree
  announce_interval: 1m
  watch: true
  rules:
    - pattern: "/private/**"
      policy: list
      allowed: ["0123456789abcdef0123"]
    - pattern: "/drafts/**"
      policy: none
client:
  highlight: true
  path_timeout: 0s
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Transport.Listen)
	assert.Equal(t, []string{"10.0.0.2:4242", "10.0.0.3:4242"}, cfg.Transport.Peers)
	assert.Equal(t, 10*time.Second, cfg.Transport.KeepaliveInterval)
	assert.Equal(t, "/srv/rip", cfg.Server.Root)
	assert.Equal(t, time.Minute, cfg.Server.AnnounceInterval)
	assert.True(t, cfg.Server.Watch)
	assert.True(t, cfg.Client.Highlight)
	assert.Zero(t, cfg.Client.PathTimeout)

	t.Run("unset keys keep defaults", func(t *testing.T) {
		assert.Equal(t, server.DefaultExclude, cfg.Server.Exclude)
		assert.Equal(t, 80, cfg.Client.Width)
		assert.Equal(t, Default().Transport.Known, cfg.Transport.Known)
	})

	t.Run("rules", func(t *testing.T) {
		rules, err := cfg.Server.ServerRules()
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, overlay.AllowList, rules[0].Policy)
		want, _ := overlay.ParseHash("0123456789abcdef0123")
		assert.Equal(t, []overlay.Hash{want}, rules[0].Allowed)
		assert.Equal(t, overlay.AllowNone, rules[1].Policy)
	})

	t.Run("overlay config", func(t *testing.T) {
		oc := cfg.Transport.Overlay(":7000", "")
		assert.Equal(t, ":5000", oc.Listen)
		assert.Equal(t, ":7000", oc.LinkListen)
		assert.Equal(t, cfg.Transport.Known, oc.KnownFile)
	})
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "server: [", "failed to parse config file"},
		{"bad route mode", "server:\n  routes: flat\n", "server.routes"},
		{"bad policy", "server:\n  rules:\n    - pattern: /x\n      policy: some\n", "unknown policy"},
		{"bad hash", "server:\n  rules:\n    - pattern: /x\n      policy: list\n      allowed: [zz]\n", "server.rules[0].allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "rip", "id"), expand("~/rip/id"))
	assert.Equal(t, "/abs", expand("/abs"))
}
