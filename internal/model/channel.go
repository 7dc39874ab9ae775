package model

import (
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type ChannelConfig struct {
	ID          string          `db:"id"           json:"id"`
	UserID      string          `db:"user_id"      json:"userId"`
	Type        string          `db:"type"         json:"type"`
	Name        string          `db:"name"         json:"name"`
	Enabled     bool            `db:"enabled"      json:"enabled"`
	EndpointURL *string         `db:"endpoint_url" json:"endpointUrl,omitempty"`
	Settings    ChannelSettings `db:"config"       json:"config"`
	CreatedAt   time.Time       `db:"created_at"   json:"createdAt"`
}

func (c ChannelConfig) Endpoint() string {
	if c.EndpointURL == nil {
		return ""
	}
	return strings.TrimSpace(*c.EndpointURL)
}

// ChannelSettings is the free-form configuration column of a channel.
type ChannelSettings struct {
	AuthHeader  string         `json:"auth_header,omitempty"`
	APIKey      string         `json:"api_key,omitempty"`
	Headers     map[string]any `json:"headers,omitempty"`
	ChannelCode string         `json:"channel_code,omitempty"`
	CustomerID  string         `json:"customer_id,omitempty"`
	Devices     []Device       `json:"devices,omitempty"`
}

type Device struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// Device returns the registered device with the given id that carries a
// delivery token.
func (s ChannelSettings) Device(id string) (Device, bool) {
	for _, d := range s.Devices {
		if d.ID == id && strings.TrimSpace(d.Token) != "" {
			return d, true
		}
	}
	return Device{}, false
}

func (s *ChannelSettings) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = ChannelSettings{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("channel settings: unsupported column type")
	}
	if len(raw) == 0 {
		*s = ChannelSettings{}
		return nil
	}
	return json.Unmarshal(raw, s)
}

func (s ChannelSettings) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
