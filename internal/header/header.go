// Package header turns schedule and channel metadata into outbound HTTP
// headers that are always safe to put on the wire.
package header

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Sanitize stringifies every value in meta. Printable ASCII passes through
// unchanged; anything else is percent-encoded so it can be recovered with
// url.PathUnescape. Nil or empty values and keys that are not valid header
// field names are dropped.
func Sanitize(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		key := strings.TrimSpace(k)
		if !validFieldName(key) {
			continue
		}
		s, ok := Stringify(v)
		if !ok || s == "" {
			continue
		}
		out[http.CanonicalHeaderKey(key)] = Encode(s)
	}
	return out
}

// Encode returns s unchanged when it is printable ASCII, otherwise its
// percent-encoded form.
func Encode(s string) string {
	if isPrintableASCII(s) {
		return s
	}
	return url.PathEscape(s)
}

func Stringify(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case *string:
		if x == nil {
			return "", false
		}
		return *x, true
	case []byte:
		return string(x), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case time.Time:
		return x.UTC().Format(time.RFC3339), true
	case fmt.Stringer:
		return x.String(), true
	case map[string]any, []any, []string:
		b, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return fmt.Sprint(x), true
	}
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// validFieldName reports whether s is an RFC 7230 token.
func validFieldName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
