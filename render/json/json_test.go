package json

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4c3e/rip-demo-1/core"
)

func TestRender(t *testing.T) {
	p := &core.Page{URL: "rip://0123456789abcdef0123/index.gem", ContentType: "text/gemini", Body: []byte("ignored")}
	p.Lines = append(p.Lines, core.Line{Kind: core.LineHeading, Text: "# Hi", Level: 1})
	p.AddLink("rip://0123456789abcdef0123/a.gem", "A")

	var buf bytes.Buffer
	require.NoError(t, (&Renderer{Indent: true}).Render(&buf, p))
	assert.Contains(t, buf.String(), "\n  \"url\"")
	assert.NotContains(t, buf.String(), "ignored")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "rip://0123456789abcdef0123/index.gem", got["url"])

	lines := got["lines"].([]any)
	require.Len(t, lines, 2)
	assert.Equal(t, "heading", lines[0].(map[string]any)["kind"])
	assert.Equal(t, "link", lines[1].(map[string]any)["kind"])
	assert.EqualValues(t, 1, lines[1].(map[string]any)["link"])
}
