package overlay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHash(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"valid", "0123456789abcdef0123", true},
		{"uppercase", "0123456789ABCDEF0123", true},
		{"short", "0123456789abcdef01", false},
		{"long", "0123456789abcdef012345", false},
		{"not hex", "zz23456789abcdef0123", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseHash(tt.input)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidHash)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.ToLower(tt.input), h.String())
			assert.Len(t, h[:], 10)
		})
	}
}

func TestHashFromBytes(t *testing.T) {
	_, err := HashFromBytes(make([]byte, 9))
	assert.ErrorIs(t, err, ErrInvalidHash)

	h, err := HashFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, err)
	assert.Equal(t, "0102030405060708090a", h.String())
	assert.Equal(t, "<0102030405060708090a>", h.Pretty())
	assert.False(t, h.IsZero())
	assert.True(t, Hash{}.IsZero())
}

func TestTruncatedHashConcatenates(t *testing.T) {
	assert.Equal(t, TruncatedHash([]byte("ab"), []byte("c")), TruncatedHash([]byte("abc")))
	assert.NotEqual(t, TruncatedHash([]byte("abc")), TruncatedHash([]byte("abd")))
}
