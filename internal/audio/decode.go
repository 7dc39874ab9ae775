package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"

	"github.com/goccy/go-json"
)

// Decoder attempts one legacy encoding of the blob column. It reports false
// when raw is not in that encoding or decodes to nothing.
type Decoder func(raw []byte) ([]byte, bool)

type namedDecoder struct {
	name string
	fn   Decoder
}

// blobDecoders is the priority order for the relational blob column.
var blobDecoders = []namedDecoder{
	{"hex", DecodeHexPrefixed},
	{"base64", DecodeBase64},
	{"json_array", DecodeJSONBytes},
	{"raw", DecodeRaw},
}

// DecodeBlob runs raw through the decoder chain and returns the first
// non-empty result with the name of the decoder that produced it.
func DecodeBlob(raw []byte) ([]byte, string, bool) {
	for _, d := range blobDecoders {
		if out, ok := d.fn(raw); ok {
			return out, d.name, true
		}
	}
	return nil, "", false
}

// DecodeHexPrefixed handles the PostgreSQL bytea hex output format (\x...),
// including the doubly escaped form produced by JSON round trips.
func DecodeHexPrefixed(raw []byte) ([]byte, bool) {
	s := bytes.TrimSpace(raw)
	switch {
	case bytes.HasPrefix(s, []byte(`\\x`)):
		s = s[3:]
	case bytes.HasPrefix(s, []byte(`\x`)):
		s = s[2:]
	default:
		return nil, false
	}
	if len(s) == 0 || len(s)%2 != 0 {
		return nil, false
	}
	out := make([]byte, hex.DecodedLen(len(s)))
	n, err := hex.Decode(out, s)
	if err != nil || n == 0 {
		return nil, false
	}
	return out[:n], true
}

// DecodeBase64 accepts standard and URL-safe alphabets, padded or not.
func DecodeBase64(raw []byte) ([]byte, bool) {
	s := stripSpace(raw)
	if len(s) < 4 || !isBase64Alphabet(s) {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		out := make([]byte, enc.DecodedLen(len(s)))
		n, err := enc.Decode(out, s)
		if err == nil && n > 0 {
			return out[:n], true
		}
	}
	return nil, false
}

// DecodeJSONBytes accepts a JSON array of byte values, or the
// {"type":"Buffer","data":[...]} envelope older clients wrote.
func DecodeJSONBytes(raw []byte) ([]byte, bool) {
	s := bytes.TrimSpace(raw)
	if len(s) == 0 {
		return nil, false
	}

	var values []int
	switch s[0] {
	case '[':
		if err := json.Unmarshal(s, &values); err != nil {
			return nil, false
		}
	case '{':
		var env struct {
			Type string `json:"type"`
			Data []int  `json:"data"`
		}
		if err := json.Unmarshal(s, &env); err != nil || env.Type != "Buffer" {
			return nil, false
		}
		values = env.Data
	default:
		return nil, false
	}

	if len(values) == 0 {
		return nil, false
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, false
		}
		out[i] = byte(v)
	}
	return out, true
}

// DecodeRaw is the last resort: the column bytes are the audio.
func DecodeRaw(raw []byte) ([]byte, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true
}

func stripSpace(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, c := range raw {
		switch c {
		case ' ', '\n', '\r', '\t':
			continue
		}
		out = append(out, c)
	}
	return out
}

func isBase64Alphabet(s []byte) bool {
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '-', c == '_', c == '=':
		default:
			return false
		}
	}
	return true
}
