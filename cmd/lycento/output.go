package main

import (
	"encoding/json"
	"io"

	"github.com/lycento/lycento-sdk-go/lycento"
	"github.com/lycento/lycento-sdk-go/lycento/activationlog"
	"github.com/lycento/lycento-sdk-go/lycento/device"
)

type deviceOutput struct {
	Device      device.Info         `json:"device"`
	Diagnostics *device.Diagnostics `json:"diagnostics,omitempty"`
}

type infoOutput struct {
	*lycento.LicenseDetails
	Seats string `json:"seats"`
}

type statusOutput struct {
	DeviceID     string                  `json:"device_id"`
	Activated    bool                    `json:"activated"`
	ActivationID string                  `json:"activation_id,omitempty"`
	Validation   *lycento.ValidateResult `json:"validation"`
	License      lycento.LicenseInfo     `json:"license"`
	Seats        string                  `json:"seats"`
}

type reconcileOutput struct {
	Resolved []activationlog.Entry `json:"resolved"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
