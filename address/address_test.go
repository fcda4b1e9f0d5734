package address

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dest = "0123456789abcdef0123"

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		path  string
	}{
		{"full", "rip://" + dest + "/docs/a.gem", "/docs/a.gem"},
		{"no scheme", dest + "/a.gem", "/a.gem"},
		{"no path", "rip://" + dest, DefaultPath},
		{"root path", dest + "/", DefaultPath},
		{"surrounding space", "  " + dest + "/x.gem\n", "/x.gem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, dest, u.Destination.String())
			assert.Equal(t, tt.path, u.Path)
			assert.True(t, strings.HasPrefix(u.Path, "/"))
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"short hash", "rip://0123456789abcdef01/", ErrMalformedDestination},
		{"long hash", "rip://0123456789abcdef012345/", ErrMalformedDestination},
		{"not hex", "rip://0123456789abcdefzzzz/", ErrMalformedDestination},
		{"empty", "", ErrMalformedDestination},
		{"other scheme", "gemini://example.org/", ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEveryTwentyHexDecodes(t *testing.T) {
	for _, s := range []string{
		"00000000000000000000",
		"ffffffffffffffffffff",
		"FFFFFFFFFFFFFFFFFFFF",
		"a1b2c3d4e5f6a7b8c9d0",
	} {
		u, err := Parse(s)
		require.NoError(t, err, s)
		assert.Len(t, u.Destination[:], 10)
	}
}

func TestString(t *testing.T) {
	u, err := Parse(dest)
	require.NoError(t, err)
	assert.Equal(t, "rip://"+dest+"/index.gem", u.String())

	again, err := Parse(u.String())
	require.NoError(t, err)
	assert.Equal(t, u, again)
}

func TestNew(t *testing.T) {
	u, err := New(dest, "about.gem")
	require.NoError(t, err)
	assert.Equal(t, "/about.gem", u.Path)

	_, err = New("xyz", "/")
	assert.ErrorIs(t, err, ErrMalformedDestination)
}

func TestAbsolutise(t *testing.T) {
	base := "rip://" + dest + "/dir/page.gem"

	tests := []struct {
		name     string
		base     string
		relative string
		want     string
	}{
		{"same directory", base, "other.gem", "rip://" + dest + "/dir/other.gem"},
		{"absolute path", base, "/top.gem", "rip://" + dest + "/top.gem"},
		{"parent directory", base, "../up.gem", "rip://" + dest + "/up.gem"},
		{"sibling directory", base, "../b/c.gem", "rip://" + dest + "/b/c.gem"},
		{"base without path", "rip://" + dest, "a.gem", "rip://" + dest + "/a.gem"},
		{"base without scheme", dest + "/dir/page.gem", "x.gem", "rip://" + dest + "/dir/x.gem"},
		{"other destination", base, "rip://ffffffffffffffffffff/z.gem", "rip://ffffffffffffffffffff/z.gem"},
		{"foreign scheme", base, "https://example.org/", "https://example.org/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Absolutise(tt.base, tt.relative)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAbsolutiseIdempotent(t *testing.T) {
	base := "rip://" + dest + "/dir/page.gem"
	for _, rel := range []string{"a.gem", "/b.gem", "../c/d.gem", "e/f.gem"} {
		once, err := Absolutise(base, rel)
		require.NoError(t, err)
		twice, err := Absolutise(base, once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, rel)

		elsewhere, err := Absolutise("rip://ffffffffffffffffffff/", once)
		require.NoError(t, err)
		assert.Equal(t, once, elsewhere, rel)
	}
}
