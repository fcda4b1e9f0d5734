package terminal

import (
	"fmt"
	"io"
	"strings"

	"github.com/4c3e/rip-demo-1/core"
)

// Status produces a compact one-liner like "rip://…/index.gem  12 lines  3 links".
func Status(p *core.Page) string {
	parts := []string{p.URL}
	parts = append(parts, plural(len(p.Lines), "line"))
	if len(p.Menu) > 0 {
		parts = append(parts, plural(len(p.Menu), "link"))
	}
	return strings.Join(parts, "  ")
}

// WriteStatus writes the dimmed status line for p.
func WriteStatus(w io.Writer, p *core.Page) {
	fmt.Fprintln(w, styleMeta.Render(Status(p)))
}

// WriteNotice writes a highlighted message, used for errors the reader
// should see between pages.
func WriteNotice(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleNotice.Render(fmt.Sprintf(format, args...)))
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
