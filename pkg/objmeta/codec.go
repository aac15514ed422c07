// Package objmeta handles user metadata stored on objects. S3-compatible
// providers restrict metadata to ASCII header values and munge key casing,
// so values are sanitized before storage (base64 fallback for non-ASCII)
// and keys are pascalized on the way back out.
package objmeta

import (
	"encoding/base64"
	"mime"
	"strings"
	"unicode"

	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

const b64Prefix = "b64:"

// DefaultMimeType is the fallback when neither the stored content type nor
// the extension yields anything.
const DefaultMimeType = "application/octet-stream"

// SanitizeForStore prepares user metadata for storage: keys are lowercased
// with every byte outside [a-z0-9_-] replaced by "-"; values are flattened
// to a single trimmed line, and any value containing a non-ASCII byte is
// replaced wholesale with a base64 encoding under the "b64:" marker.
func SanitizeForStore(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		sk := sanitizeKey(k)
		if sk == "" {
			continue
		}
		out[sk] = sanitizeValue(v)
	}
	return out
}

func sanitizeKey(k string) string {
	k = strings.ToLower(k)
	var b strings.Builder
	b.Grow(len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func sanitizeValue(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.TrimSpace(v)

	for i := 0; i < len(v); i++ {
		if v[i] > unicode.MaxASCII {
			return b64Prefix + base64.StdEncoding.EncodeToString([]byte(v))
		}
	}
	return v
}

// DecodeFromStore reverses SanitizeForStore for presentation: "b64:" values
// are decoded back to UTF-8 and keys are pascalized ("content-kind" →
// "ContentKind"). Undecodable b64 values are passed through untouched.
func DecodeFromStore(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if strings.HasPrefix(v, b64Prefix) {
			if raw, err := base64.StdEncoding.DecodeString(v[len(b64Prefix):]); err == nil {
				v = string(raw)
			}
		}
		out[Pascalize(k)] = v
	}
	return out
}

// Pascalize converts a dash/underscore separated key to PascalCase.
func Pascalize(k string) string {
	parts := strings.FieldsFunc(k, func(r rune) bool {
		return r == '-' || r == '_'
	})
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(strings.ToLower(p[1:]))
	}
	return b.String()
}

// MimeTypeFor resolves a content type for a key: the stored value if
// non-empty, then extension lookup, then the octet-stream fallback.
func MimeTypeFor(key, stored string) string {
	if stored != "" && stored != DefaultMimeType {
		return stored
	}
	if ext := pathutil.Extension(key); ext != "" {
		if mt := mime.TypeByExtension("." + ext); mt != "" {
			// Strip charset parameters providers never store.
			if i := strings.IndexByte(mt, ';'); i >= 0 {
				mt = strings.TrimSpace(mt[:i])
			}
			return mt
		}
	}
	return DefaultMimeType
}
