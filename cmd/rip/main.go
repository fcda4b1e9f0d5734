package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

func main() {
	root := &cli.Command{
		Name:  "rip",
		Usage: "Serve and browse text/gemini pages over an encrypted overlay",
		Description: `
       _
  _ __(_)_ __
 | '_|| | '_ \
 |_|  |_| .__/
        |_|

 Pages addressed by destination, not by host.`,
		Flags: globalFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level, err := log.ParseLevel(cmd.String("log"))
			if err != nil {
				return ctx, err
			}
			log.SetLevel(level)
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			browseCmd(),
			fetchCmd(),
			identityCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "log",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML configuration file",
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "UDP address for announces and path requests",
		},
		&cli.StringSliceFlag{
			Name:  "peer",
			Usage: "UDP address of a peer (repeatable)",
		},
		&cli.StringFlag{
			Name:  "group",
			Usage: "Multicast group for local discovery, e.g. 239.42.42.42:4242",
		},
		&cli.StringFlag{
			Name:  "known",
			Usage: "File that remembers verified destinations",
		},
	}
}
