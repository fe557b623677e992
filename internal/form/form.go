// Package form decodes application/x-www-form-urlencoded submissions into
// flat field maps.
package form

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is returned, wrapped, for any payload that is not a sequence
// of key=value pairs.
var ErrMalformed = errors.New("malformed form submission")

// Decode unescapes the whole payload, then splits it on '&' and every
// segment on its first '='. The payload is decoded before splitting, so an
// escaped %26 or %3D acts as a separator. Later duplicates of a key
// overwrite earlier ones. A segment without '=' fails the whole payload,
// which includes the empty payload, and so does a payload that is not
// UTF-8 before unescaping.
func Decode(payload []byte) (map[string]string, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}

	text := unescape(string(payload))

	fields := make(map[string]string)
	for _, segment := range strings.Split(text, "&") {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			return nil, fmt.Errorf("%w: segment %q has no '='", ErrMalformed, segment)
		}
		fields[key] = value
	}

	return fields, nil
}

// unescape turns '+' into a space and decodes %XX escapes. Anything that is
// not a valid escape, like "%zz" or a trailing '%', is kept as written.
// Escaped bytes that do not form UTF-8 become U+FFFD.
func unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && ishex(s[i+1]) && ishex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}

	return strings.ToValidUTF8(b.String(), "\uFFFD")
}

func ishex(c byte) bool {
	switch {
	case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// Encode escapes fields and joins them in key order. Because Decode
// unescapes before splitting, the result only decodes back to fields when
// no key contains '&' or '=' and no value contains '&'; Splittable checks
// that.
func Encode(fields map[string]string) []byte {
	values := make(url.Values, len(fields))
	for k, v := range fields {
		values.Set(k, v)
	}
	return []byte(values.Encode())
}

// Splittable reports whether key and value survive Encode followed by
// Decode unchanged.
func Splittable(key, value string) bool {
	return !strings.ContainsAny(key, "&=") && !strings.Contains(value, "&")
}
