// Package core defines the page model: a fetched document reduced to the
// lines a renderer draws and the numbered menu of links a reader can follow.
// Parsers produce pages and every renderer consumes them.
package core

// LineKind enumerates the kinds of line on a page.
type LineKind int

const (
	LineText LineKind = iota
	LineHeading
	LinePreformatted
	LineLink
)

func (k LineKind) String() string {
	switch k {
	case LineText:
		return "text"
	case LineHeading:
		return "heading"
	case LinePreformatted:
		return "preformatted"
	case LineLink:
		return "link"
	}
	return "unknown"
}

// MarshalText encodes the kind by name.
func (k LineKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Line is one rendered line. The Kind field determines which other fields
// are populated.
type Line struct {
	Kind  LineKind `json:"kind"`
	Text  string   `json:"text"`            // source text; for links, the displayed label
	Level int      `json:"level,omitempty"` // 1-3, set for headings
	Alt   string   `json:"alt,omitempty"`   // fence alt text, set for preformatted lines
	Link  int      `json:"link,omitempty"`  // 1-based menu index, set for links
}

// MenuEntry is one followable link.
type MenuEntry struct {
	URL   string `json:"url"`             // absolute
	Label string `json:"label,omitempty"` // may be empty
}

// Display is the label, or the URL when there is none.
func (e MenuEntry) Display() string {
	if e.Label != "" {
		return e.Label
	}
	return e.URL
}

// Page is a parsed response. Each page owns its menu; following a link on
// one page never consults another page's menu.
type Page struct {
	URL         string      `json:"url"`
	ContentType string      `json:"content_type"`
	Body        []byte      `json:"-"` // raw response body
	Lines       []Line      `json:"lines"`
	Menu        []MenuEntry `json:"menu"`
}

// AddLink appends a menu entry and its link line, returning the entry's
// 1-based index.
func (p *Page) AddLink(url, label string) int {
	p.Menu = append(p.Menu, MenuEntry{URL: url, Label: label})
	n := len(p.Menu)
	p.Lines = append(p.Lines, Line{Kind: LineLink, Text: p.Menu[n-1].Display(), Link: n})
	return n
}

// Select returns the nth (1-based) menu entry.
func (p *Page) Select(n int) (MenuEntry, bool) {
	if p == nil || n < 1 || n > len(p.Menu) {
		return MenuEntry{}, false
	}
	return p.Menu[n-1], true
}

// Title is the text of the first heading, or the URL when the page has
// none.
func (p *Page) Title() string {
	for _, l := range p.Lines {
		if l.Kind == LineHeading {
			return l.Text
		}
	}
	return p.URL
}
