package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "prism/pkg/domain-errors"
)

// TestCanonicalProfileKey_Equivalences verifies that spellings of the same
// profile collapse to one key. Divergent cache keys would double-bill the
// same profile, so every rule here is billing-critical.
func TestCanonicalProfileKey_Equivalences(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ProfileKey
	}{
		{"email lowercased", "Jane.Doe@Example.COM", "email:jane.doe@example.com"},
		{"email trailing domain dot stripped", "jane@example.com.", "email:jane@example.com"},
		{"email plus-tag preserved", "jane+leads@example.com", "email:jane+leads@example.com"},
		{"email surrounding whitespace trimmed", "  jane@example.com\t", "email:jane@example.com"},

		{"url scheme stripped", "https://acme.dev/team/jane", "url:acme.dev/team/jane"},
		{"url www stripped", "https://www.acme.dev/team/jane", "url:acme.dev/team/jane"},
		{"url query dropped", "https://acme.dev/team/jane?utm_source=scan", "url:acme.dev/team/jane"},
		{"url fragment dropped", "https://acme.dev/team/jane#bio", "url:acme.dev/team/jane"},
		{"url trailing slash stripped", "https://acme.dev/team/jane/", "url:acme.dev/team/jane"},
		{"url duplicate slashes collapsed", "acme.dev//team///jane", "url:acme.dev/team/jane"},
		{"url uppercased host lowered", "HTTPS://ACME.DEV/Team/Jane", "url:acme.dev/team/jane"},

		{"bare host from url is a handle", "https://www.acme.dev/", "handle:acme.dev"},
		{"bare host plain", "acme.dev", "handle:acme.dev"},
		{"handle uppercase", "ACME.DEV", "handle:acme.dev"},
		{"handle trailing dot stripped", "acme.dev.", "handle:acme.dev"},
		{"username handle", "jdoe42", "handle:jdoe42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalProfileKey(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalProfileKey_Idempotent(t *testing.T) {
	inputs := []string{
		"Jane.Doe@Example.com",
		"https://www.acme.dev/team/jane/",
		"https://acme.dev",
		"acme.dev",
		"jdoe42",
		"acme.dev//a//b?x=1#y",
	}
	for _, raw := range inputs {
		key, err := CanonicalProfileKey(raw)
		require.NoError(t, err, raw)
		again, err := CanonicalProfileKey(key.Value())
		require.NoError(t, err, raw)
		assert.Equal(t, key, again, "canonicalization must be a fixed point for %q", raw)
	}
}

func TestCanonicalProfileKey_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"interior whitespace", "jane doe@example.com"},
		{"null byte", "jane@exam\x00ple.com"},
		{"two at signs", "a@b@example.com"},
		{"email missing local part", "@example.com"},
		{"email missing domain", "jane@"},
		{"email dotless domain", "jane@localhost"},
		{"scheme only", "https://"},
		{"www only", "www."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CanonicalProfileKey(tt.raw)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestProfileKey_KindAndValue(t *testing.T) {
	key, err := CanonicalProfileKey("jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, KindEmail, key.Kind())
	assert.Equal(t, "jane@example.com", key.Value())

	key, err = CanonicalProfileKey("acme.dev/team")
	require.NoError(t, err)
	assert.Equal(t, KindURL, key.Kind())
	assert.Equal(t, "acme.dev/team", key.Value())
}
