// Package raw writes the response body exactly as it was received.
package raw

import (
	"io"

	"github.com/4c3e/rip-demo-1/core"
)

// Renderer writes the page body unchanged.
type Renderer struct{}

func (Renderer) Render(w io.Writer, p *core.Page) error {
	_, err := w.Write(p.Body)
	return err
}
