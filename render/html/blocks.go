package html

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/4c3e/rip-demo-1/core"
	"github.com/yuin/goldmark"
)

// renderLine renders a single non-preformatted line. Blank prose lines
// produce nothing.
func renderLine(p *core.Page, l core.Line) template.HTML {
	switch l.Kind {
	case core.LineHeading:
		return renderHeading(l)
	case core.LineLink:
		return renderLink(p, l)
	default:
		if strings.TrimSpace(l.Text) == "" {
			return ""
		}
		escaped := template.HTMLEscapeString(l.Text)
		return template.HTML(`<p class="whitespace-pre-wrap leading-relaxed">` + escaped + `</p>`)
	}
}

func renderHeading(l core.Line) template.HTML {
	level := min(max(l.Level, 1), 3)
	classes := [...]string{
		"text-3xl font-semibold mt-6",
		"text-2xl font-semibold mt-5",
		"text-xl font-semibold italic mt-4",
	}[level-1]
	text := strings.TrimSpace(strings.TrimLeft(l.Text, "#"))
	tag := fmt.Sprintf("h%d", level)
	return template.HTML(`<` + tag + ` class="` + classes + `">` + template.HTMLEscapeString(text) + `</` + tag + `>`)
}

func renderLink(p *core.Page, l core.Line) template.HTML {
	entry, ok := p.Select(l.Link)
	if !ok {
		return ""
	}
	href := template.HTMLEscapeString(entry.URL)
	return template.HTML(`<p class="flex gap-2">` +
		`<span class="text-slate-400 dark:text-slate-500 font-mono text-sm">[` + fmt.Sprint(l.Link) + `]</span>` +
		`<a href="` + href + `" class="text-blue-600 dark:text-blue-400 hover:underline">` +
		template.HTMLEscapeString(entry.Display()) +
		`</a></p>`)
}

// renderPreformatted renders a fenced block through goldmark so the alt
// text's language, when chroma knows it, drives highlighting.
func renderPreformatted(md goldmark.Markdown, block []core.Line) (template.HTML, error) {
	text := make([]string, len(block))
	for i, l := range block {
		text[i] = l.Text
	}
	code := strings.Join(text, "\n")

	var lang string
	if fields := strings.Fields(block[0].Alt); len(fields) > 0 {
		lang = fields[0]
	}

	fence := "```"
	for strings.Contains(code, fence) {
		fence += "`"
	}

	var buf bytes.Buffer
	fenced := fence + lang + "\n" + code + "\n" + fence
	if err := md.Convert([]byte(fenced), &buf); err != nil {
		return template.HTML(`<pre class="text-sm overflow-x-auto">` + template.HTMLEscapeString(code) + `</pre>`), nil
	}
	return template.HTML(`<div class="text-sm overflow-x-auto rounded">` + buf.String() + `</div>`), nil
}
