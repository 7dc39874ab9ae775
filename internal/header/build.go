package header

import (
	"strconv"

	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
)

const (
	ScheduleID    = "X-Schedule-Id"
	BroadcastMode = "X-Broadcast-Mode"
	ChannelCode   = "X-Channel-Code"
	Customer      = "X-Customer"
	Category      = "X-Category"
	Memo          = "X-Memo"
	CustomerID    = "X-Customer-Id"
	DeviceID      = "X-Device-Id"
	DeviceName    = "X-Device-Name"
	DeviceToken   = "X-Device-Token"
	APIKey        = "X-Api-Key"
)

const (
	ModePublic = "public"
	ModeDevice = "device"
)

type Params struct {
	Request     model.ScheduleRequest
	Channel     model.ChannelConfig
	ContentType string
	Length      int
	// Device is nil for a public broadcast.
	Device *model.Device
}

// Build assembles the sanitized header set for one delivery. Channel
// configured headers are applied last and override the computed ones.
func Build(p Params) map[string]string {
	meta := map[string]any{
		"Content-Type":   p.ContentType,
		"Content-Length": strconv.Itoa(p.Length),
		ScheduleID:       p.Request.ID,
		ChannelCode:      p.Channel.Settings.ChannelCode,
	}

	if p.Device == nil {
		meta[BroadcastMode] = ModePublic
		meta[Customer] = p.Request.Customer
		meta[Category] = p.Request.Category
		meta[Memo] = p.Request.Memo
	} else {
		meta[BroadcastMode] = ModeDevice
		customerID := p.Channel.Settings.CustomerID
		if customerID == "" && p.Request.Customer != nil {
			customerID = *p.Request.Customer
		}
		meta[CustomerID] = customerID
		meta[DeviceID] = p.Device.ID
		meta[DeviceName] = p.Device.Name
		meta[DeviceToken] = p.Device.Token
	}

	out := Sanitize(meta)

	overrides := Sanitize(p.Channel.Settings.Headers)
	if s := p.Channel.Settings.AuthHeader; s != "" {
		overrides["Authorization"] = Encode(s)
	}
	if s := p.Channel.Settings.APIKey; s != "" {
		overrides[APIKey] = Encode(s)
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
