// Package json renders pages as JSON (serializes the page model as-is).
package json

import (
	"encoding/json"
	"io"

	"github.com/4c3e/rip-demo-1/core"
)

// Renderer renders a page to JSON.
type Renderer struct {
	// Indent controls pretty-printing. When true, output is indented.
	Indent bool
}

// Render writes the page as a single JSON document to w.
func (r *Renderer) Render(w io.Writer, p *core.Page) error {
	enc := json.NewEncoder(w)
	if r.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(p)
}
