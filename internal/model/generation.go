package model

import "strings"

type Generation struct {
	ID         string  `db:"id"          json:"id"`
	AudioURL   *string `db:"audio_url"   json:"audioUrl,omitempty"`
	StorageKey *string `db:"storage_key" json:"storageKey,omitempty"`
	AudioData  []byte  `db:"audio_data"  json:"-"`
	MimeType   *string `db:"mime_type"   json:"mimeType,omitempty"`
}

func (g Generation) DataURL() (string, bool) {
	u := deref(g.AudioURL)
	if strings.HasPrefix(strings.ToLower(u), "data:") {
		return u, true
	}
	return "", false
}

func (g Generation) RemoteURL() (string, bool) {
	u := deref(g.AudioURL)
	if u == "" || strings.HasPrefix(strings.ToLower(u), "data:") {
		return "", false
	}
	return u, true
}

func (g Generation) Key() string {
	return strings.TrimSpace(deref(g.StorageKey))
}

func (g Generation) DeclaredMIME() string {
	return strings.TrimSpace(deref(g.MimeType))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
