package html

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4c3e/rip-demo-1/gemtext"
)

const page = "text/gemini\n" +
	"# Welcome <home>\n" +
	"Plain prose & more.\n" +
	"\n" +
	"=> /docs/a.gem Read the docs\n" +
	"=> b.gem\n" +
	"```go\n" +
	"package main\n" +
	"```\n" +
	"```\n" +
	"<not html>\n" +
	"```\n"

func renderPage(t *testing.T) string {
	t.Helper()
	p, err := gemtext.Parse("rip://0123456789abcdef0123/index.gem", []byte(page))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, New().Render(&buf, p))
	return buf.String()
}

func TestRenderFullPage(t *testing.T) {
	html := renderPage(t)

	t.Run("page structure", func(t *testing.T) {
		assert.Contains(t, html, "<!DOCTYPE html>")
		assert.Contains(t, html, "<html lang=\"en\">")
		assert.Contains(t, html, "</html>")
	})

	t.Run("tailwind CDN", func(t *testing.T) {
		assert.Contains(t, html, "@tailwindcss/browser@4")
	})

	t.Run("title from first heading", func(t *testing.T) {
		assert.Contains(t, html, "<title>Welcome &lt;home&gt;</title>")
	})

	t.Run("source url", func(t *testing.T) {
		assert.Contains(t, html, "rip://0123456789abcdef0123/index.gem")
	})

	t.Run("link count", func(t *testing.T) {
		assert.Contains(t, html, "2 links")
	})
}

func TestRenderLines(t *testing.T) {
	html := renderPage(t)

	t.Run("heading", func(t *testing.T) {
		assert.Contains(t, html, `<h1 class="text-3xl font-semibold mt-6">Welcome &lt;home&gt;</h1>`)
	})

	t.Run("prose is escaped", func(t *testing.T) {
		assert.Contains(t, html, "Plain prose &amp; more.")
	})

	t.Run("links are absolute and numbered", func(t *testing.T) {
		assert.Contains(t, html, `href="rip://0123456789abcdef0123/docs/a.gem"`)
		assert.Contains(t, html, ">Read the docs</a>")
		assert.Contains(t, html, "[2]")
		assert.Contains(t, html, ">rip://0123456789abcdef0123/b.gem</a>")
	})

	t.Run("highlighted code", func(t *testing.T) {
		assert.Contains(t, html, "<pre")
		assert.Contains(t, html, "style=")
		assert.Contains(t, html, "package")
	})

	t.Run("preformatted text is escaped", func(t *testing.T) {
		assert.Contains(t, html, "&lt;not html&gt;")
		assert.NotContains(t, html, "<not html>")
	})

	t.Run("blank prose skipped", func(t *testing.T) {
		assert.NotContains(t, html, `leading-relaxed"></p>`)
	})
}

func TestRenderUntitledPageUsesURL(t *testing.T) {
	p, err := gemtext.Parse("rip://0123456789abcdef0123/x.gem", []byte("text/gemini\nno heading here"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, New().Render(&buf, p))
	assert.True(t, strings.Contains(buf.String(), "<title>rip://0123456789abcdef0123/x.gem</title>"))
	assert.Contains(t, buf.String(), "0 links")
}
