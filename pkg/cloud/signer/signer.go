// Package signer builds the canonical form of an outgoing request and signs it
// with the client secret. The remote service recomputes the same string from
// what it receives, so every step here must stay byte-stable.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

const (
	HeaderContentType = "content-type"
	HeaderClientID    = "x-annalise-ai-client-id"
	HeaderTimestamp   = "x-annalise-ai-timestamp"

	separatorLine      = "\n"
	separatorHeader    = ";"
	separatorParameter = "&"
)

// extra characters left unescaped on top of the RFC 3986 unreserved set
const safeExtra = "()*!'"

// SignedHeaders returns the sorted names of the headers covered by a signature.
func SignedHeaders() []string {
	names := []string{HeaderTimestamp, HeaderClientID}
	sort.Strings(names)
	return names
}

// SignedHeaderList is the value sent in the signed-headers header.
func SignedHeaderList() string {
	return strings.Join(SignedHeaders(), separatorHeader)
}

// CanonicalBody is the hex SHA-256 of body, or "" for an empty body.
func CanonicalBody(body string) string {
	if body == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// CanonicalHeaders renders the signed subset of headers as sorted name:value
// lines. Header names match case-insensitively and are emitted lower-case.
func CanonicalHeaders(headers map[string]string) string {
	signed := make(map[string]struct{}, 2)
	for _, name := range SignedHeaders() {
		signed[name] = struct{}{}
	}

	values := make(map[string]string, len(signed))
	for key, value := range headers {
		name := strings.ToLower(key)
		if _, ok := signed[name]; ok {
			values[name] = value
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+":"+strings.Join(strings.Fields(values[name]), " "))
	}
	return strings.Join(lines, separatorLine)
}

// CanonicalQuery renders params sorted by key with both sides escaped.
func CanonicalQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, Escape(key)+"="+Escape(params[key]))
	}
	return strings.Join(pairs, separatorParameter)
}

// CanonicalRequest joins the six canonical fields with newlines.
func CanonicalRequest(method, path string, params, headers map[string]string, body string) string {
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		CanonicalQuery(params),
		CanonicalHeaders(headers),
		SignedHeaderList(),
		CanonicalBody(body),
	}, separatorLine)
}

// Sign returns the lower-case hex HMAC-SHA256 of canonicalRequest.
func Sign(clientSecret, canonicalRequest string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(canonicalRequest))
	return hex.EncodeToString(mac.Sum(nil))
}

// Escape percent-encodes s byte-wise, leaving letters, digits, "-_.~" and the
// characters ()*!' untouched. Space and "/" are always escaped.
func Escape(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return strings.IndexByte(safeExtra, c) >= 0
}
