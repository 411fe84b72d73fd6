package lycento

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lycento/lycento-sdk-go/lycento/device"
)

// LicenseStatus is the lifecycle state of a license on the service.
type LicenseStatus string

const (
	StatusActive    LicenseStatus = "active"
	StatusExpired   LicenseStatus = "expired"
	StatusSuspended LicenseStatus = "suspended"
	StatusRevoked   LicenseStatus = "revoked"
)

// Known reports whether s is one of the documented statuses.
func (s LicenseStatus) Known() bool {
	switch s {
	case StatusActive, StatusExpired, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// LicenseInfo is the server's view of a license.
type LicenseInfo struct {
	Key             string        `json:"key"`
	Status          LicenseStatus `json:"status"`
	Type            string        `json:"type,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	ActivationLimit int           `json:"activation_limit"`
	ActivationCount int           `json:"activation_count"`
}

// UnmarshalJSON accepts max_devices and active_devices as aliases of the
// activation counters, and license_key as an alias of key. Negative counters
// are rejected.
func (l *LicenseInfo) UnmarshalJSON(data []byte) error {
	type plain LicenseInfo
	var aux struct {
		plain
		LicenseKey    string `json:"license_key"`
		MaxDevices    *int   `json:"max_devices"`
		ActiveDevices *int   `json:"active_devices"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*l = LicenseInfo(aux.plain)
	if l.Key == "" {
		l.Key = aux.LicenseKey
	}
	if aux.MaxDevices != nil && l.ActivationLimit == 0 {
		l.ActivationLimit = *aux.MaxDevices
	}
	if aux.ActiveDevices != nil && l.ActivationCount == 0 {
		l.ActivationCount = *aux.ActiveDevices
	}
	if l.ActivationLimit < 0 || l.ActivationCount < 0 {
		return fmt.Errorf("negative activation counters (limit %d, count %d)", l.ActivationLimit, l.ActivationCount)
	}
	return nil
}

// Expired reports whether the license has an expiry at or before now.
func (l *LicenseInfo) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// ValidateResult is the outcome of ValidateLicense. An invalid license is a
// successful call with Valid false.
type ValidateResult struct {
	Valid   bool         `json:"valid"`
	License *LicenseInfo `json:"license,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// ActivateOptions customizes an activation. Zero fields fall back to the
// client's device identity.
type ActivateOptions struct {
	DeviceName string
	Metadata   map[string]any
	// DeviceID overrides the derived device id.
	DeviceID string
	Platform device.Platform
}

// ActivationResult is the outcome of an activation attempt. A call that
// returns no error with Success false carries the server's Reason.
type ActivationResult struct {
	Success          bool         `json:"success"`
	DeviceID         string       `json:"device_id"`
	ActivationID     string       `json:"activation_id,omitempty"`
	AlreadyActivated bool         `json:"already_activated,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	License          *LicenseInfo `json:"license,omitempty"`
}

// DeactivationResult is the outcome of a deactivation attempt.
type DeactivationResult struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"device_id"`
	Reason   string `json:"reason,omitempty"`
}

// ActivationRecord is one device activation as listed by the service.
type ActivationRecord struct {
	ID            string          `json:"id"`
	DeviceID      string          `json:"device_id"`
	DeviceName    string          `json:"device_name,omitempty"`
	Platform      device.Platform `json:"device_platform,omitempty"`
	Active        bool            `json:"is_active"`
	ActivatedAt   *time.Time      `json:"activated_at,omitempty"`
	DeactivatedAt *time.Time      `json:"deactivated_at,omitempty"`
}

func (r *ActivationRecord) UnmarshalJSON(data []byte) error {
	type plain ActivationRecord
	var aux struct {
		plain
		ID flexString `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ActivationRecord(aux.plain)
	r.ID = string(aux.ID)
	return nil
}

// LicenseDetails is a license together with its activation records.
type LicenseDetails struct {
	License     LicenseInfo        `json:"license"`
	Activations []ActivationRecord `json:"activations,omitempty"`
}

// ActiveDevices returns the activation records that are still active.
func (d *LicenseDetails) ActiveDevices() []ActivationRecord {
	var out []ActivationRecord
	for _, a := range d.Activations {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// flexString decodes a JSON string or number into a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// Wire formats.

type validateRequest struct {
	LicenseKey string `json:"license_key"`
	DeviceID   string `json:"device_id"`
}

type activateRequest struct {
	LicenseKey     string          `json:"license_key"`
	DeviceID       string          `json:"device_id"`
	DeviceName     string          `json:"device_name,omitempty"`
	DevicePlatform device.Platform `json:"device_platform,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

type deactivateRequest struct {
	LicenseKey string `json:"license_key"`
	DeviceID   string `json:"device_id"`
}

// checker is implemented by wire responses that need shape checks beyond
// json.Unmarshal.
type checker interface {
	check() error
}

type validateResponse struct {
	Valid   *bool        `json:"valid"`
	License *LicenseInfo `json:"license"`
	Reason  string       `json:"reason"`
	Message string       `json:"message"`
}

func (r *validateResponse) check() error {
	if r.Valid == nil {
		return errors.New(`missing "valid" field`)
	}
	if r.License != nil {
		return checkLicense(r.License)
	}
	return nil
}

// checkLicense rejects a license without one of the documented statuses.
func checkLicense(l *LicenseInfo) error {
	if l.Status == "" {
		return errors.New(`license has no "status"`)
	}
	if !l.Status.Known() {
		return fmt.Errorf("unknown license status %q", l.Status)
	}
	return nil
}

func (r *validateResponse) result() *ValidateResult {
	res := &ValidateResult{Valid: *r.Valid, License: r.License, Reason: r.Reason}
	if res.Reason == "" && !res.Valid {
		res.Reason = r.Message
	}
	return res
}

type activateResponse struct {
	Success          *bool           `json:"success"`
	DeviceID         string          `json:"device_id"`
	ActivationID     flexString      `json:"activation_id"`
	AlreadyActivated bool            `json:"already_activated"`
	Activation       *activationBody `json:"activation"`
	License          *LicenseInfo    `json:"license"`
	Message          string          `json:"message"`
	Reason           string          `json:"reason"`
	Error            json.RawMessage `json:"error"`
	Code             string          `json:"code"`
}

type activationBody struct {
	ID       flexString `json:"id"`
	DeviceID string     `json:"device_id"`
}

func (r *activateResponse) check() error {
	if r.Success == nil {
		return errors.New(`missing "success" field`)
	}
	if r.License != nil {
		return checkLicense(r.License)
	}
	return nil
}

func (r *activateResponse) result(deviceID string) *ActivationResult {
	res := &ActivationResult{
		Success:          *r.Success,
		DeviceID:         r.DeviceID,
		ActivationID:     string(r.ActivationID),
		AlreadyActivated: r.AlreadyActivated,
		License:          r.License,
	}
	if r.Activation != nil {
		if res.ActivationID == "" {
			res.ActivationID = string(r.Activation.ID)
		}
		if res.DeviceID == "" {
			res.DeviceID = r.Activation.DeviceID
		}
	}
	if res.DeviceID == "" {
		res.DeviceID = deviceID
	}
	if !res.Success {
		res.Reason = firstNonEmpty(r.Reason, errorText(r.Error), r.Message)
	}
	return res
}

// deactivateResponse treats a missing "success" as true so that a bodiless
// 2xx answer counts as a deactivation.
type deactivateResponse struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	Error   json.RawMessage `json:"error"`
	Code    string          `json:"code"`
}

// detailsResponse accepts both {"license": {...}, "activations": [...]}
// and a bare license object.
type detailsResponse struct {
	LicenseDetails
}

func (r *detailsResponse) check() error {
	return checkLicense(&r.License)
}

func (r *detailsResponse) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if _, ok := probe["license"]; ok {
		return json.Unmarshal(data, &r.LicenseDetails)
	}
	if err := json.Unmarshal(data, &r.License); err != nil {
		return err
	}
	if raw, ok := probe["activations"]; ok {
		return json.Unmarshal(raw, &r.Activations)
	}
	return nil
}

// errorText extracts a message from an "error" member that is either a
// string or an object with a message.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}
	return ""
}

// errorCode extracts a machine code from a top-level "code" or a nested
// {"error": {"code": ...}}.
func errorCode(code string, raw json.RawMessage) string {
	if code != "" {
		return code
	}
	var obj struct {
		Code string `json:"code"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &obj) == nil {
		return obj.Code
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// maskKey keeps the first and last four characters of a license key.
func maskKey(key string) string {
	runes := []rune(key)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + "****" + string(runes[len(runes)-4:])
}
