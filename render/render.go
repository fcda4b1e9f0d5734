// Package render defines the interface for rendering parsed pages into
// various output formats.
package render

import (
	"io"

	"github.com/4c3e/rip-demo-1/core"
)

// Renderer writes a page to the given writer in a specific format.
type Renderer interface {
	Render(w io.Writer, p *core.Page) error
}
