package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/4c3e/rip-demo-1/address"
	"github.com/4c3e/rip-demo-1/overlay"
)

func identityCmd() *cli.Command {
	return &cli.Command{
		Name:  "identity",
		Usage: "Print an identity and the address of its server destination",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "identity",
				Usage: "Identity key file, created if absent",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			path := a.cfg.Server.Identity
			id, created, err := overlay.LoadOrCreateIdentity(path)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(os.Stderr, "created %s\n", path)
			}

			dest := overlay.NewDestination(id, overlay.In, address.App, address.ServerAspect)
			fmt.Printf("identity     %s\n", id.Hash())
			fmt.Printf("destination  %s\n", dest.Hash())
			fmt.Printf("url          %s\n", address.URL{Destination: dest.Hash(), Path: address.DefaultPath})
			return nil
		},
	}
}
