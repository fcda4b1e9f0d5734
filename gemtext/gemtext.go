// Package gemtext parses text/gemini response bodies into pages.
//
// A body starts with its content type on a line of its own. The lines that
// follow are prose, headings ("#"), link directives ("=> target [label]"),
// or preformatted blocks fenced by lines starting with three backticks.
package gemtext

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/4c3e/rip-demo-1/address"
	"github.com/4c3e/rip-demo-1/core"
)

// ContentType is the only content type Parse accepts.
const ContentType = "text/gemini"

const fence = "```"

var ErrUnsupportedContentType = errors.New("unsupported content type")

// Parse parses body fetched from base. Link targets are resolved against
// base so every menu entry is absolute.
func Parse(base string, body []byte) (*core.Page, error) {
	lines := splitLines(body)
	tag := ""
	if len(lines) > 0 {
		tag = strings.TrimSpace(lines[0])
		lines = lines[1:]
	}
	if mt, _, err := mime.ParseMediaType(tag); err != nil || mt != ContentType {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, tag)
	}

	p := &core.Page{URL: base, ContentType: ContentType, Body: body}
	var (
		preformatted bool
		alt          string
	)
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, fence):
			preformatted = !preformatted
			alt = ""
			if preformatted {
				alt = strings.TrimSpace(line[len(fence):])
			}
		case preformatted:
			p.Lines = append(p.Lines, core.Line{Kind: core.LinePreformatted, Text: line, Alt: alt})
		case isLink(line):
			target, label := splitLink(line)
			if abs, err := address.Absolutise(base, target); err == nil {
				target = abs
			}
			p.AddLink(target, label)
		case strings.HasPrefix(line, "#"):
			p.Lines = append(p.Lines, core.Line{Kind: core.LineHeading, Text: line, Level: headingLevel(line)})
		default:
			p.Lines = append(p.Lines, core.Line{Kind: core.LineText, Text: line})
		}
	}
	return p, nil
}

// splitLines splits body into lines without their line endings, dropping
// blank lines before the first and after the last non-blank line. Other
// whitespace is kept.
func splitLines(body []byte) []string {
	lines := strings.Split(string(body), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	blank := func(l string) bool { return strings.TrimSpace(l) == "" }
	for len(lines) > 0 && blank(lines[0]) {
		lines = lines[1:]
	}
	for len(lines) > 0 && blank(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isLink(line string) bool {
	return strings.HasPrefix(line, "=>") && strings.TrimSpace(line[2:]) != ""
}

// splitLink splits "=> target label words" into its target and label.
func splitLink(line string) (target, label string) {
	rest := strings.TrimSpace(line[2:])
	i := strings.IndexFunc(rest, isSpace)
	if i < 0 {
		return rest, ""
	}
	return rest[:i], strings.TrimSpace(rest[i:])
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}

func headingLevel(line string) int {
	n := len(line) - len(strings.TrimLeft(line, "#"))
	return min(n, 3)
}
