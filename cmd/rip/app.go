package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/urfave/cli/v3"

	"github.com/4c3e/rip-demo-1/browser"
	"github.com/4c3e/rip-demo-1/config"
	"github.com/4c3e/rip-demo-1/overlay"
	"github.com/4c3e/rip-demo-1/render"
	htmlrender "github.com/4c3e/rip-demo-1/render/html"
	jsonrender "github.com/4c3e/rip-demo-1/render/json"
	"github.com/4c3e/rip-demo-1/render/raw"
	"github.com/4c3e/rip-demo-1/render/terminal"
)

// app holds the renderer registry and the merged configuration used by CLI
// commands.
type app struct {
	cfg       *config.Config
	renderers map[string]func() render.Renderer
}

func newApp(cfg *config.Config) *app {
	return &app{
		cfg: cfg,
		renderers: map[string]func() render.Renderer{
			"terminal": func() render.Renderer {
				return &terminal.Renderer{Width: cfg.Client.Width, Highlight: cfg.Client.Highlight}
			},
			"html": func() render.Renderer { return htmlrender.New() },
			"raw":  func() render.Renderer { return raw.Renderer{} },
			"json": func() render.Renderer { return &jsonrender.Renderer{Indent: true} },
		},
	}
}

func (a *app) renderer(name string) (render.Renderer, error) {
	fn, ok := a.renderers[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q", name)
	}
	return fn(), nil
}

func (a *app) formats() []string {
	names := make([]string, 0, len(a.renderers))
	for n := range a.renderers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// loadApp reads --config and applies every flag the user set on top of it.
func loadApp(cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	return newApp(cfg), nil
}

func applyFlags(cmd *cli.Command, cfg *config.Config) {
	str := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}

	str("listen", &cfg.Transport.Listen)
	if cmd.IsSet("listen") {
		cfg.Client.Listen = cfg.Transport.Listen
	}
	str("group", &cfg.Transport.Group)
	str("known", &cfg.Transport.Known)
	if cmd.IsSet("peer") {
		cfg.Transport.Peers = cmd.StringSlice("peer")
	}

	str("root", &cfg.Server.Root)
	str("identity", &cfg.Server.Identity)
	str("link-listen", &cfg.Server.LinkListen)
	str("advertise", &cfg.Server.Advertise)
	str("routes", &cfg.Server.Routes)
	if cmd.IsSet("exclude") {
		cfg.Server.Exclude = cmd.StringSlice("exclude")
	}
	if cmd.IsSet("announce-interval") {
		cfg.Server.AnnounceInterval = cmd.Duration("announce-interval")
	}
	if cmd.IsSet("watch") {
		cfg.Server.Watch = cmd.Bool("watch")
	}

	str("identify", &cfg.Client.Identify)
	str("o", &cfg.Client.Output)
	if cmd.IsSet("highlight") {
		cfg.Client.Highlight = cmd.Bool("highlight")
	}
	if cmd.IsSet("width") {
		cfg.Client.Width = int(cmd.Int("width"))
	}
	if cfg.Client.Width <= 0 {
		cfg.Client.Width = terminalWidth()
	}
	if cmd.IsSet("timeout") {
		cfg.Client.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("path-timeout") {
		cfg.Client.PathTimeout = cmd.Duration("path-timeout")
	}
}

// terminalWidth is the width of stdout when it is a terminal, else 80.
func terminalWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 80
}

// clientTransport starts a transport that only discovers and dials.
func (a *app) clientTransport() (*overlay.Transport, error) {
	oc := a.cfg.Transport.Overlay("", "")
	oc.Listen = a.cfg.Client.Listen
	oc.Logger = log.Default().WithPrefix("overlay")
	return overlay.New(oc)
}

// session starts a client transport and a session on it, proving the
// --identify identity to servers when one is set.
func (a *app) session() (*browser.Session, error) {
	var id *overlay.Identity
	if p := a.cfg.Client.Identify; p != "" {
		var err error
		if id, _, err = overlay.LoadOrCreateIdentity(p); err != nil {
			return nil, fmt.Errorf("identify: %w", err)
		}
	}

	t, err := a.clientTransport()
	if err != nil {
		return nil, err
	}
	s := browser.NewSession(browser.NewNetwork(t))
	s.RequestTimeout = a.cfg.Client.Timeout
	s.PathTimeout = a.cfg.Client.PathTimeout
	s.Identity = id
	return s, nil
}
