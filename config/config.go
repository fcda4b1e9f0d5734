// Package config loads the optional YAML configuration file. Values from the
// file override the defaults here; command-line flags override both.
//
//	transport:
//	  listen: ":4242"
//	  peers: ["192.168.1.20:4242"]
//	  known: ~/.config/rip/known.json
//	server:
//	  root: ./site
//	  routes: tree
//	  rules:
//	    - pattern: "/private/**"
//	      policy: list
//	      allowed: ["0123456789abcdef0123"]
//	client:
//	  highlight: true
//	  width: 100
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/4c3e/rip-demo-1/browser"
	"github.com/4c3e/rip-demo-1/overlay"
	"github.com/4c3e/rip-demo-1/server"
)

// Config is the whole file.
type Config struct {
	Transport Transport `yaml:"transport"`
	Server    Server    `yaml:"server"`
	Client    Client    `yaml:"client"`
}

// Transport configures the overlay on both sides.
type Transport struct {
	Listen            string        `yaml:"listen"`
	Peers             []string      `yaml:"peers"`
	Group             string        `yaml:"group"`
	Known             string        `yaml:"known"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	StaleTimeout      time.Duration `yaml:"stale_timeout"`
}

// Server configures rip serve.
type Server struct {
	Root             string        `yaml:"root"`
	Identity         string        `yaml:"identity"`
	LinkListen       string        `yaml:"link_listen"`
	Advertise        string        `yaml:"advertise"`
	Routes           string        `yaml:"routes"`
	Exclude          []string      `yaml:"exclude"`
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	Watch            bool          `yaml:"watch"`
	Rules            []Rule        `yaml:"rules"`
}

// Rule restricts the routes matching Pattern. Policy is "all", "none" or
// "list"; Allowed holds the identity hashes a "list" rule lets through.
type Rule struct {
	Pattern string   `yaml:"pattern"`
	Policy  string   `yaml:"policy"`
	Allowed []string `yaml:"allowed"`
}

// Client configures rip browse and rip fetch.
type Client struct {
	// Listen is the client's own UDP address. Defaults to an ephemeral
	// port so a client can run next to a server.
	Listen      string        `yaml:"listen"`
	Identify    string        `yaml:"identify"`
	Highlight   bool          `yaml:"highlight"`
	Width       int           `yaml:"width"`
	Timeout     time.Duration `yaml:"timeout"`
	PathTimeout time.Duration `yaml:"path_timeout"`
	Output      string        `yaml:"output"`
}

// Dir is where rip keeps its identity and known destinations by default.
func Dir() string {
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "rip")
	}
	return ".rip"
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		Transport: Transport{
			Listen: overlay.DefaultListen,
			Known:  filepath.Join(dir, "known.json"),
		},
		Server: Server{
			Root:       ".",
			Identity:   filepath.Join(dir, "identity"),
			LinkListen: ":4243",
			Routes:     string(server.RouteBasename),
			Exclude:    server.DefaultExclude,
		},
		Client: Client{
			Listen:      ":0",
			Width:       80,
			Timeout:     browser.DefaultRequestTimeout,
			PathTimeout: browser.DefaultPathTimeout,
			Output:      "terminal",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if _, err := server.ParseRouteMode(cfg.Server.Routes); err != nil {
		return nil, fmt.Errorf("server.routes: %w", err)
	}
	if _, err := cfg.Server.ServerRules(); err != nil {
		return nil, err
	}
	cfg.Transport.Known = expand(cfg.Transport.Known)
	cfg.Server.Identity = expand(cfg.Server.Identity)
	cfg.Server.Root = expand(cfg.Server.Root)
	cfg.Client.Identify = expand(cfg.Client.Identify)
	return cfg, nil
}

// expand replaces a leading "~/" with the home directory.
func expand(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// Overlay returns the transport configuration. linkListen and advertise
// are only set for servers.
func (t Transport) Overlay(linkListen, advertise string) overlay.Config {
	return overlay.Config{
		Listen:            t.Listen,
		Peers:             t.Peers,
		Group:             t.Group,
		KnownFile:         t.Known,
		LinkListen:        linkListen,
		Advertise:         advertise,
		KeepaliveInterval: t.KeepaliveInterval,
		StaleTimeout:      t.StaleTimeout,
	}
}

var errPolicy = errors.New("unknown policy")

// ServerRules converts the rules to their server form.
func (s Server) ServerRules() ([]server.Rule, error) {
	out := make([]server.Rule, 0, len(s.Rules))
	for i, r := range s.Rules {
		sr := server.Rule{Pattern: r.Pattern}
		switch r.Policy {
		case "", "all":
			sr.Policy = overlay.AllowAll
		case "none":
			sr.Policy = overlay.AllowNone
		case "list":
			sr.Policy = overlay.AllowList
		default:
			return nil, fmt.Errorf("server.rules[%d]: %w %q", i, errPolicy, r.Policy)
		}
		for _, a := range r.Allowed {
			h, err := overlay.ParseHash(a)
			if err != nil {
				return nil, fmt.Errorf("server.rules[%d].allowed: %w", i, err)
			}
			sr.Allowed = append(sr.Allowed, h)
		}
		out = append(out, sr)
	}
	return out, nil
}
