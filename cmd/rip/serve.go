package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/4c3e/rip-demo-1/address"
	"github.com/4c3e/rip-demo-1/overlay"
	"github.com/4c3e/rip-demo-1/server"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the files under a directory. Each line on stdin sends an announce.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "root",
				Usage: "Directory to serve",
			},
			&cli.StringFlag{
				Name:  "identity",
				Usage: "Identity key file, created on first run",
			},
			&cli.StringFlag{
				Name:  "link-listen",
				Usage: "TCP address links are accepted on",
			},
			&cli.StringFlag{
				Name:  "advertise",
				Usage: "Link address to put in announces, when it differs from --link-listen",
			},
			&cli.StringFlag{
				Name:  "routes",
				Usage: "Route mode: basename, tree",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Glob of files not to serve (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "announce-interval",
				Usage: "Also announce on this interval",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Rescan the root when files change",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			cfg := a.cfg.Server

			id, created, err := overlay.LoadOrCreateIdentity(cfg.Identity)
			if err != nil {
				return err
			}
			if created {
				log.Info("created identity", "path", cfg.Identity)
			}

			routes, err := server.ParseRouteMode(cfg.Routes)
			if err != nil {
				return err
			}
			rules, err := cfg.ServerRules()
			if err != nil {
				return err
			}

			oc := a.cfg.Transport.Overlay(cfg.LinkListen, cfg.Advertise)
			oc.Logger = log.Default().WithPrefix("overlay")
			t, err := overlay.New(oc)
			if err != nil {
				return err
			}
			defer t.Close()

			dest := overlay.NewDestination(id, overlay.In, address.App, address.ServerAspect)
			srv, err := server.New(server.Config{
				Root:             cfg.Root,
				Routes:           routes,
				Exclude:          cfg.Exclude,
				Rules:            rules,
				AnnounceInterval: cfg.AnnounceInterval,
			}, dest)
			if err != nil {
				return err
			}
			if err := t.Register(dest); err != nil {
				return err
			}

			log.Info("serving",
				"root", srv.Root(),
				"url", address.URL{Destination: dest.Hash(), Path: address.DefaultPath},
				"link", t.LinkAddr(),
			)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.AnnounceLoop(ctx, t, os.Stdin) })
			if cfg.Watch {
				g.Go(func() error { return srv.Watch(ctx) })
			}
			return g.Wait()
		},
	}
}
