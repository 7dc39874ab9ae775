package audio

import (
	"errors"
	"net/url"
	"strings"
)

var errMalformedDataURL = errors.New("malformed data url")

// ParseDataURL decodes a data: URL and returns its payload and declared
// media type (empty when the URL does not declare one).
func ParseDataURL(s string) ([]byte, string, error) {
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return nil, "", errMalformedDataURL
	}
	meta, payload, ok := strings.Cut(s[5:], ",")
	if !ok {
		return nil, "", errMalformedDataURL
	}

	params := strings.Split(meta, ";")
	mediaType := strings.TrimSpace(params[0])
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	if isBase64 {
		// Payloads copied out of URLs sometimes arrive percent-encoded.
		if strings.Contains(payload, "%") {
			if unescaped, err := url.PathUnescape(payload); err == nil {
				payload = unescaped
			}
		}
		data, ok := DecodeBase64([]byte(payload))
		if !ok {
			return nil, mediaType, errors.New("data url: invalid base64 payload")
		}
		return data, mediaType, nil
	}

	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, mediaType, err
	}
	if data == "" {
		return nil, mediaType, errors.New("data url: empty payload")
	}
	return []byte(data), mediaType, nil
}
