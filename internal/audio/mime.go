package audio

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// GenericType is what artifacts carry when the generator did not know better.
const GenericType = "audio/mpeg"

var aliases = map[string]string{
	"audio/x-wav":     "audio/wav",
	"audio/wave":      "audio/wav",
	"audio/vnd.wave":  "audio/wav",
	"audio/mp3":       "audio/mpeg",
	"audio/x-mp3":     "audio/mpeg",
	"audio/mpeg3":     "audio/mpeg",
	"audio/x-m4a":     "audio/mp4",
	"audio/x-flac":    "audio/flac",
	"application/ogg": "audio/ogg",
}

var extTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".webm": "audio/webm",
}

// ResolveMIME returns the first confident hint: a non-empty audio type that
// is not the generic default. Hints are evaluated in the order given.
func ResolveMIME(hints ...string) string {
	for _, h := range hints {
		if m := NormalizeMIME(h); m != "" && m != GenericType {
			return m
		}
	}
	return GenericType
}

// NormalizeMIME lowercases t, drops parameters, folds aliases and returns
// "" for anything that is not an audio type.
func NormalizeMIME(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		t = mt
	} else if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	t = strings.ToLower(strings.TrimSpace(t))
	if a, ok := aliases[t]; ok {
		t = a
	}
	if !strings.HasPrefix(t, "audio/") {
		return ""
	}
	return t
}

// TypeFromPath infers an audio type from the extension of a URL or key.
func TypeFromPath(s string) string {
	if s == "" {
		return ""
	}
	p := s
	if u, err := url.Parse(s); err == nil && u.Path != "" {
		p = u.Path
	}
	return extTypes[strings.ToLower(path.Ext(p))]
}

// Sniff inspects the leading bytes of data.
func Sniff(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return NormalizeMIME(mimetype.Detect(data).String())
}
