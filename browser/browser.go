// Package browser is the interactive rip client. A Browser reads commands a
// line at a time, fetches pages through a Session and renders them.
//
// Input is one of:
//
//	N                 follow link N of the current page
//	b                 go back one page
//	q                 quit
//	URL               open a rip URL, with or without the rip:// prefix
//	DEST PATH         open PATH on destination DEST
package browser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/4c3e/rip-demo-1/address"
	"github.com/4c3e/rip-demo-1/core"
	"github.com/4c3e/rip-demo-1/gemtext"
	"github.com/4c3e/rip-demo-1/render"
	"github.com/4c3e/rip-demo-1/render/terminal"
)

// DefaultGrace is how long Run waits after an unexpected link close before
// returning.
const DefaultGrace = 1500 * time.Millisecond

const prompt = "> "

var (
	ErrMenuIndex        = errors.New("no such link")
	ErrHistoryUnderflow = errors.New("no previous page")
	ErrQuit             = errors.New("quit")
)

// Browser owns the current page and the history of one session.
type Browser struct {
	Session  *Session
	Renderer render.Renderer
	Out      io.Writer

	// Prompt prints "> " before reading each line.
	Prompt bool
	// Status prints a summary line after each page.
	Status bool
	// Grace is the delay after an unexpected link close.
	Grace time.Duration

	History History

	page   *core.Page
	logger *log.Logger
}

// New creates a Browser rendering to out.
func New(s *Session, r render.Renderer, out io.Writer) *Browser {
	return &Browser{
		Session:  s,
		Renderer: r,
		Out:      out,
		Grace:    DefaultGrace,
		logger:   log.Default().WithPrefix("browser"),
	}
}

// Page returns the page currently shown, or nil.
func (b *Browser) Page() *core.Page { return b.page }

// Navigate opens raw, a URL or a "DEST PATH" pair.
func (b *Browser) Navigate(ctx context.Context, raw string) error {
	u, err := parseInput(raw)
	if err != nil {
		return err
	}
	return b.visit(ctx, u)
}

func parseInput(raw string) (address.URL, error) {
	if f := strings.Fields(raw); len(f) == 2 {
		return address.New(f[0], f[1])
	}
	return address.Parse(raw)
}

// Follow opens link n (1-based) of the current page.
func (b *Browser) Follow(ctx context.Context, n int) error {
	e, ok := b.page.Select(n)
	if !ok {
		return fmt.Errorf("%w: %d", ErrMenuIndex, n)
	}
	u, err := address.Parse(e.URL)
	if err != nil {
		return err
	}
	return b.visit(ctx, u)
}

// Back reopens the previous page. History is left as it was when that
// fails.
func (b *Browser) Back(ctx context.Context) error {
	previous, current, err := b.History.Back()
	if err != nil {
		return err
	}
	u, err := address.Parse(previous)
	if err == nil {
		err = b.visit(ctx, u)
	}
	if err != nil {
		b.History.Restore(previous, current)
		return err
	}
	return nil
}

func (b *Browser) visit(ctx context.Context, u address.URL) error {
	b.logger.Debug("navigate", "url", u)
	body, err := b.Session.Fetch(ctx, u)
	if err != nil {
		return err
	}
	page, err := gemtext.Parse(u.String(), body)
	if err != nil {
		return err
	}
	if err := b.Renderer.Render(b.Out, page); err != nil {
		return fmt.Errorf("render %s: %w", u, err)
	}
	if b.Status {
		terminal.WriteStatus(b.Out, page)
	}
	b.page = page
	b.History.Push(u.String())
	return nil
}

// RunLine executes one line of input. It returns ErrQuit for "q". Commands
// match in either case.
func (b *Browser) RunLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return nil
	case "q":
		return ErrQuit
	case "b":
		return b.Back(ctx)
	}
	if n, err := strconv.Atoi(line); err == nil {
		return b.Follow(ctx, n)
	}
	return b.Navigate(ctx, line)
}

// Report writes err as a notice. It does nothing for nil.
func (b *Browser) Report(err error) {
	if err == nil {
		return
	}
	b.logger.Debug("command failed", "err", err)
	terminal.WriteNotice(b.Out, "%s", err)
}

// Run reads commands from in until quit, end of input, ctx cancellation or
// an unexpected close of the session's link. Only the last returns an
// error other than ctx.Err().
func (b *Browser) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		if b.Prompt {
			fmt.Fprint(b.Out, prompt)
		}
		select {
		case line, ok := <-lines:
			if !ok {
				b.Session.Close()
				return nil
			}
			err := b.RunLine(ctx, line)
			if errors.Is(err, ErrQuit) {
				b.Session.Close()
				return nil
			}
			b.Report(err)
		case err := <-b.Session.Closed():
			b.Report(err)
			if cerr := b.Session.Shutdown(); cerr != nil {
				b.logger.Debug("shutdown", "err", cerr)
			}
			time.Sleep(b.Grace)
			return err
		case <-ctx.Done():
			b.Session.Close()
			return ctx.Err()
		}
	}
}
