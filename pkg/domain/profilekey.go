package domain

import (
	"strings"

	dErrors "prism/pkg/domain-errors"
)

// ProfileKeyKind classifies what a profile key identifies.
type ProfileKeyKind string

const (
	KindEmail  ProfileKeyKind = "email"
	KindURL    ProfileKeyKind = "url"
	KindHandle ProfileKeyKind = "handle"
)

// ProfileKey is the canonical identifier of a profile, in "kind:value" form.
// Cache entries, in-flight deduplication, and audit entries are all keyed on
// the canonical form, so two spellings of the same profile can never be
// billed twice. CanonicalProfileKey is the only constructor; a ProfileKey
// obtained any other way is not trustworthy.
type ProfileKey string

func (k ProfileKey) String() string { return string(k) }

// Kind returns the key's kind prefix.
func (k ProfileKey) Kind() ProfileKeyKind {
	kind, _, ok := strings.Cut(string(k), ":")
	if !ok {
		return ""
	}
	return ProfileKeyKind(kind)
}

// Value returns the canonical identifier without the kind prefix.
func (k ProfileKey) Value() string {
	_, value, _ := strings.Cut(string(k), ":")
	return value
}

// CanonicalProfileKey normalizes a raw identifier into its canonical form.
//
// Rules, applied in order:
//  1. ASCII whitespace is trimmed; empty input is rejected.
//  2. The whole identifier is lowercased (profile identity is
//     case-insensitive for every supported kind).
//  3. An identifier containing "@" but no path separator is an email:
//     exactly one "@", non-empty local part, and a domain containing at
//     least one dot. Plus-tags are preserved (they address distinct
//     mailboxes); a single trailing dot on the domain is stripped.
//     Canonical form "email:<local>@<domain>".
//  4. Otherwise, an identifier containing a scheme, a "www." prefix, or a
//     path separator is a URL: the scheme and "www." are stripped, the query
//     string and fragment dropped, duplicate slashes collapsed, and any
//     trailing slash removed. A URL reduced to a bare host carries no more
//     identity than the host itself and canonicalizes as a handle, so
//     "https://acme.dev/" and "acme.dev" are one profile. Canonical form
//     "url:<host/path>".
//  5. Anything else is a bare handle (a domain name or vendor-neutral
//     username); a trailing dot is stripped. Canonical form "handle:<value>".
//
// Identifiers that canonicalize equal are the same profile. The function is
// idempotent over its own output values.
func CanonicalProfileKey(raw string) (ProfileKey, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "profile key must not be empty")
	}
	if strings.ContainsAny(s, " \t\r\n\x00") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "profile key must not contain whitespace or control bytes")
	}
	s = strings.ToLower(s)

	if strings.Contains(s, "@") && !strings.Contains(s, "/") {
		return canonicalEmailKey(s)
	}
	if strings.Contains(s, "://") || strings.HasPrefix(s, "www.") || strings.Contains(s, "/") {
		return canonicalURLKey(s)
	}

	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "profile key must not be empty")
	}
	return ProfileKey(string(KindHandle) + ":" + s), nil
}

func canonicalEmailKey(s string) (ProfileKey, error) {
	local, dom, _ := strings.Cut(s, "@")
	if strings.Contains(dom, "@") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email profile key must contain exactly one @")
	}
	dom = strings.TrimSuffix(dom, ".")
	if local == "" || dom == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email profile key must have a local part and a domain")
	}
	if !strings.Contains(dom, ".") || strings.HasPrefix(dom, ".") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "email profile key domain must contain a dot")
	}
	return ProfileKey(string(KindEmail) + ":" + local + "@" + dom), nil
}

func canonicalURLKey(s string) (ProfileKey, error) {
	if _, rest, ok := strings.Cut(s, "://"); ok {
		s = rest
	}
	s = strings.TrimPrefix(s, "www.")
	s, _, _ = strings.Cut(s, "#")
	s, _, _ = strings.Cut(s, "?")
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	s = strings.TrimSuffix(s, "/")
	if s == "" || strings.HasPrefix(s, "/") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "url profile key must have a host")
	}
	// A URL with no path left is just its host.
	if !strings.Contains(s, "/") {
		s = strings.TrimSuffix(s, ".")
		return ProfileKey(string(KindHandle) + ":" + s), nil
	}
	return ProfileKey(string(KindURL) + ":" + s), nil
}
