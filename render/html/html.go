// Package html renders pages as standalone HTML documents styled with
// Tailwind CSS v4 (CDN) and syntax highlighting via goldmark + chroma.
package html

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/4c3e/rip-demo-1/core"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
)

// Renderer renders a page to a standalone HTML document.
type Renderer struct {
	md   goldmark.Markdown
	tmpl *template.Template
}

// New creates an HTML Renderer with goldmark configured for GFM and syntax highlighting.
func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("dracula"),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(false), // inline styles for standalone pages
				),
			),
		),
	)

	tmpl := template.Must(template.New("page.html").ParseFS(content, "templates/*.html"))

	return &Renderer{md: md, tmpl: tmpl}
}

// pageData is the template data passed to page.html.
type pageData struct {
	Title  string
	URL    string
	Menu   []core.MenuEntry
	Blocks []template.HTML
}

// Render writes the page as a complete HTML document to w.
func (r *Renderer) Render(w io.Writer, p *core.Page) error {
	data := pageData{
		Title: strings.TrimSpace(strings.TrimLeft(p.Title(), "#")),
		URL:   p.URL,
		Menu:  p.Menu,
	}

	var pre []core.Line
	flush := func() error {
		if len(pre) == 0 {
			return nil
		}
		h, err := renderPreformatted(r.md, pre)
		if err != nil {
			return fmt.Errorf("render preformatted block: %w", err)
		}
		data.Blocks = append(data.Blocks, h)
		pre = nil
		return nil
	}

	for _, l := range p.Lines {
		if l.Kind == core.LinePreformatted {
			if len(pre) > 0 && pre[0].Alt != l.Alt {
				if err := flush(); err != nil {
					return err
				}
			}
			pre = append(pre, l)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if h := renderLine(p, l); h != "" {
			data.Blocks = append(data.Blocks, h)
		}
	}
	if err := flush(); err != nil {
		return err
	}

	return r.tmpl.ExecuteTemplate(w, "page.html", data)
}
