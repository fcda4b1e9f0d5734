// Package terminal renders pages as wrapped, ANSI-styled text.
package terminal

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/4c3e/rip-demo-1/core"
)

const (
	defaultWidth = 80
	defaultStyle = "monokai"
)

// Renderer prints a page to the terminal. Prose and headings wrap at Width;
// preformatted lines are printed unchanged.
type Renderer struct {
	// Width is the wrap column. Zero means 80.
	Width int
	// Highlight colors preformatted blocks whose alt text names a known
	// language.
	Highlight bool
	// Style is the chroma style used when highlighting.
	Style string
}

// New creates a terminal Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render writes the page to w.
func (r *Renderer) Render(w io.Writer, p *core.Page) error {
	width := r.width()

	var block []core.Line
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		err := r.writePreformatted(w, block)
		block = block[:0]
		return err
	}

	for _, l := range p.Lines {
		if l.Kind == core.LinePreformatted {
			if len(block) > 0 && block[0].Alt != l.Alt {
				if err := flush(); err != nil {
					return err
				}
			}
			block = append(block, l)
			continue
		}
		if err := flush(); err != nil {
			return err
		}

		switch l.Kind {
		case core.LineHeading:
			fmt.Fprintln(w, headingStyle(l.Level).Render(wrap(l.Text, width)))
		case core.LineLink:
			writeLink(w, l, width)
		default:
			fmt.Fprintln(w, wrap(l.Text, width))
		}
	}
	return flush()
}

func (r *Renderer) width() int {
	if r.Width > 0 {
		return r.Width
	}
	return defaultWidth
}

// wrap soft-wraps s at width, breaking inside a word only when the word
// alone is wider than width.
func wrap(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Wrap(s, width, "")
}

func headingStyle(level int) lipgloss.Style {
	switch level {
	case 1:
		return styleH1
	case 2:
		return styleH2
	default:
		return styleH3
	}
}

// writeLink renders "[n] label", wrapping the label under its index.
func writeLink(w io.Writer, l core.Line, width int) {
	index := fmt.Sprintf("[%d]", l.Link)
	indent := strings.Repeat(" ", len(index)+1)
	label := wrap(l.Text, max(width-len(indent), 1))

	rows := strings.Split(label, "\n")
	for i, row := range rows {
		if i == 0 {
			fmt.Fprintln(w, styleLinkIndex.Render(index)+" "+styleLink.Render(row))
			continue
		}
		fmt.Fprintln(w, indent+styleLink.Render(row))
	}
}

func (r *Renderer) writePreformatted(w io.Writer, block []core.Line) error {
	text := make([]string, len(block))
	for i, l := range block {
		text[i] = l.Text
	}
	code := strings.Join(text, "\n") + "\n"

	if r.Highlight {
		if lang := language(block[0].Alt); lang != "" {
			style := r.Style
			if style == "" {
				style = defaultStyle
			}
			return quick.Highlight(w, code, lang, "terminal256", style)
		}
	}

	for _, t := range text {
		fmt.Fprintln(w, stylePre.Render(t))
	}
	return nil
}

// language returns the chroma lexer named by the first word of alt, or ""
// when alt names none.
func language(alt string) string {
	fields := strings.Fields(alt)
	if len(fields) == 0 {
		return ""
	}
	if lexers.Get(fields[0]) == nil {
		return ""
	}
	return fields[0]
}
