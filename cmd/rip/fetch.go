package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/4c3e/rip-demo-1/address"
	"github.com/4c3e/rip-demo-1/core"
	"github.com/4c3e/rip-demo-1/gemtext"
)

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch one page and print it",
		ArgsUsage: "URL",
		Flags: append(clientFlags(),
			&cli.StringFlag{
				Name:  "o",
				Usage: "Output format: terminal, html, raw, json",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("exactly one URL is required")
			}
			u, err := address.Parse(cmd.Args().First())
			if err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			r, err := a.renderer(a.cfg.Client.Output)
			if err != nil {
				return fmt.Errorf("%w (one of %s)", err, strings.Join(a.formats(), ", "))
			}
			s, err := a.session()
			if err != nil {
				return err
			}
			defer s.Shutdown()

			body, err := s.Fetch(ctx, u)
			if err != nil {
				return err
			}
			p, err := gemtext.Parse(u.String(), body)
			if errors.Is(err, gemtext.ErrUnsupportedContentType) && a.cfg.Client.Output == "raw" {
				p = &core.Page{URL: u.String(), Body: body}
			} else if err != nil {
				return err
			}
			if err := r.Render(os.Stdout, p); err != nil {
				return fmt.Errorf("render: %w", err)
			}
			return nil
		},
	}
}
