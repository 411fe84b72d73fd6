package device

import "sync"

// Info describes the current machine. Only DeviceID takes part in licensing;
// Attributes are for display and audit.
type Info struct {
	DeviceID   string            `json:"device_id"`
	Platform   Platform          `json:"platform"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Hostname returns the hostname attribute, or "" when it could not be read.
func (i Info) Hostname() string {
	return i.Attributes[AttrHostname]
}

// Name is a human-readable device name: the hostname, or a name derived
// from the device id when the hostname is unknown.
func (i Info) Name() string {
	if h := i.Hostname(); h != "" {
		return h
	}
	id := i.DeviceID
	if len(id) > 8 {
		id = id[:8]
	}
	return "device-" + id
}

var defaultProvider = sync.OnceValue(func() *Provider {
	return NewProvider()
})

// Default returns the process-wide Provider behind ID and Current.
func Default() *Provider {
	return defaultProvider()
}

// ID returns this machine's device id. The id is derived once per process.
func ID() (string, error) {
	return Default().ID()
}

// Current returns this machine's device id and host metadata.
func Current() (Info, error) {
	return Default().Info()
}
