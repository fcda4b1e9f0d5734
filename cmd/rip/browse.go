package main

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/urfave/cli/v3"

	"github.com/4c3e/rip-demo-1/browser"
)

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "identify",
			Usage: "Identity file to prove to servers, created if absent",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
		},
		&cli.DurationFlag{
			Name:  "path-timeout",
			Usage: "How long to wait for an unknown destination to announce (0 waits forever)",
		},
		&cli.BoolFlag{
			Name:  "highlight",
			Usage: "Highlight preformatted blocks whose alt text names a language",
		},
		&cli.IntFlag{
			Name:  "width",
			Usage: "Wrap column, 0 for the terminal width (default 80)",
		},
	}
}

func browseCmd() *cli.Command {
	return &cli.Command{
		Name:      "browse",
		Usage:     "Browse interactively: a number follows a link, b goes back, q quits",
		ArgsUsage: "[URL]",
		Flags:     clientFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			r, err := a.renderer("terminal")
			if err != nil {
				return err
			}
			s, err := a.session()
			if err != nil {
				return err
			}
			defer s.Shutdown()

			b := browser.New(s, r, os.Stdout)
			b.Prompt = term.IsTerminal(os.Stdin.Fd())
			b.Status = b.Prompt

			if u := cmd.Args().First(); u != "" {
				b.Report(b.Navigate(ctx, u))
			}

			err = b.Run(ctx, os.Stdin)
			var closed *browser.LinkClosedError
			switch {
			case errors.As(err, &closed):
				log.Info("exiting", "reason", closed.Reason)
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			}
			return err
		},
	}
}
