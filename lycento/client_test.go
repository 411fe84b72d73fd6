package lycento

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lycento/lycento-sdk-go/lycento/device"
)

type stubIdentity struct {
	id  string
	err error
}

func (s stubIdentity) ID() (string, error) {
	return s.id, s.err
}

func (s stubIdentity) Info() (device.Info, error) {
	if s.err != nil {
		return device.Info{}, s.err
	}
	return device.Info{
		DeviceID:   s.id,
		Platform:   device.PlatformLinux,
		Attributes: map[string]string{device.AttrHostname: "build-01"},
	}, nil
}

func newTestClient(t *testing.T, baseURL string, opts ...ClientOption) *Client {
	t.Helper()
	cfg := NewConfig(baseURL).WithAPIKey("test-key").WithTimeout(2000)
	all := append([]ClientOption{WithIdentity(stubIdentity{id: "dev-123"})}, opts...)
	c, err := NewClient(cfg, all...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorBody(code, message string) map[string]any {
	return map[string]any{"error": map[string]string{"code": code, "message": message}}
}

func TestClient_ValidateLicense_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/licenses/validate" {
			t.Errorf("expected /licenses/validate, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("expected Authorization: Bearer k1, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected Content-Type: application/json, got %q", got)
		}
		if r.Header.Get(RequestIDHeader) == "" {
			t.Error("expected a request id header")
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "lycento-sdk-go/") {
			t.Errorf("unexpected User-Agent %q", ua)
		}

		var req validateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.LicenseKey != "ABC-123" {
			t.Errorf("expected license key ABC-123, got %s", req.LicenseKey)
		}
		if req.DeviceID != "dev-123" {
			t.Errorf("expected device id dev-123, got %s", req.DeviceID)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid":true,"license":{"key":"ABC-123","status":"active","activation_limit":3,"activation_count":1}}`))
	}))
	defer server.Close()

	cfg := NewConfig(server.URL).WithAPIKey("k1").WithTimeout(10000)
	client, err := NewClient(cfg, WithIdentity(stubIdentity{id: "dev-123"}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := client.ValidateLicense(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid {
		t.Error("expected valid=true")
	}
	want := LicenseInfo{Key: "ABC-123", Status: StatusActive, ActivationLimit: 3, ActivationCount: 1}
	if res.License == nil || *res.License != want {
		t.Errorf("expected license %+v, got %+v", want, res.License)
	}
}

func TestClient_ValidateLicense_Invalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": "license not found"})
	}))
	defer server.Close()

	res, err := newTestClient(t, server.URL).ValidateLicense(context.Background(), "BAD-KEY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid {
		t.Error("expected valid=false")
	}
	if res.Reason != "license not found" {
		t.Errorf("expected reason 'license not found', got %q", res.Reason)
	}
}

func TestClient_ValidateLicense_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      any
		kind      Kind
		sentinel  error
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, errorBody("INVALID_KEY", "malformed key"), KindValidation, ErrMalformedKey, false},
		{"unprocessable", http.StatusUnprocessableEntity, errorBody("", "bad key"), KindValidation, ErrMalformedKey, false},
		{"unauthorized", http.StatusUnauthorized, errorBody("UNAUTHORIZED", "invalid api key"), KindValidation, ErrUnauthorized, false},
		{"not found", http.StatusNotFound, errorBody("NOT_FOUND", "license not found"), KindValidation, ErrLicenseNotFound, false},
		{"conflict", http.StatusConflict, errorBody("CONFLICT", "conflict"), KindTransport, ErrHTTPStatus, false},
		{"rate limited", http.StatusTooManyRequests, errorBody("RATE_LIMITED", "slow down"), KindTransport, ErrHTTPStatus, true},
		{"server error", http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "boom"), KindTransport, ErrHTTPStatus, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).ValidateLicense(context.Background(), "ABC-123")
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("expected %v, got %v", tt.sentinel, err)
			}
			if got := KindOf(err); got != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, got)
			}
			if got := Retryable(err); got != tt.retryable {
				t.Errorf("expected Retryable=%v, got %v", tt.retryable, got)
			}
			var lerr *Error
			if !errors.As(err, &lerr) || lerr.Op != OpValidate || lerr.RequestID == "" {
				t.Errorf("expected *Error with op and request id, got %#v", lerr)
			}
		})
	}
}

func TestClient_ValidateLicense_ServerErrorDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("NOT_FOUND", "no such license"))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).ValidateLicense(context.Background(), "ABC-123")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Code != ValidationNotFound {
		t.Fatalf("expected ValidationError NotFound, got %v", err)
	}
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatal("expected errors.As to reach ServerError")
	}
	if se.StatusCode != http.StatusNotFound || se.Code != "NOT_FOUND" || se.Message != "no such license" {
		t.Errorf("unexpected server error %+v", se)
	}
}

func TestClient_ValidateLicense_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>gateway</html>"},
		{"missing valid", `{"license":{"key":"ABC-123"}}`},
		{"wrong type", `{"valid":"yes"}`},
		{"negative limit", `{"valid":true,"license":{"key":"ABC-123","status":"active","activation_limit":-1}}`},
		{"unknown status", `{"valid":true,"license":{"key":"ABC-123","status":"weird"}}`},
		{"license without status", `{"valid":true,"license":{"key":"ABC-123"}}`},
		{"empty body", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).ValidateLicense(context.Background(), "ABC-123")
			if !errors.Is(err, ErrDecodeFailed) {
				t.Fatalf("expected ErrDecodeFailed, got %v", err)
			}
			if KindOf(err) != KindTransport {
				t.Errorf("expected transport kind, got %v", KindOf(err))
			}
		})
	}
}

func TestClient_ValidateLicense_RejectsKeyLocally(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	for _, key := range []string{"", "   ", "ABC\x00123"} {
		_, err := client.ValidateLicense(context.Background(), key)
		if !errors.Is(err, ErrMalformedKey) {
			t.Errorf("key %q: expected ErrMalformedKey, got %v", key, err)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestClient_ValidateLicense_IdentityUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithIdentity(stubIdentity{err: device.ErrUnavailable}))
	_, err := client.ValidateLicense(context.Background(), "ABC-123")
	if !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}
	if KindOf(err) != KindIdentity {
		t.Errorf("expected identity kind, got %v", KindOf(err))
	}
}

func TestClient_ValidateLicenseForDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusOK, map[string]any{"valid": req.DeviceID == "other-device"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithIdentity(stubIdentity{err: device.ErrUnavailable}))
	res, err := client.ValidateLicenseForDevice(context.Background(), "ABC-123", "other-device")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid {
		t.Error("expected the explicit device id to be sent")
	}
}

func TestClient_IsValid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.LicenseKey == "BROKEN" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": req.LicenseKey == "GOOD"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if !client.IsValid(context.Background(), "GOOD") {
		t.Error("expected GOOD to be valid")
	}
	if client.IsValid(context.Background(), "BAD") {
		t.Error("expected BAD to be invalid")
	}
	if client.IsValid(context.Background(), "BROKEN") {
		t.Error("expected a failed call to count as invalid")
	}
}

func TestClient_ActivateLicense_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/licenses/activate" {
			t.Errorf("expected /licenses/activate, got %s", r.URL.Path)
		}
		var req activateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.DeviceID != "dev-123" {
			t.Errorf("expected device id dev-123, got %s", req.DeviceID)
		}
		if req.DeviceName != "build-01" {
			t.Errorf("expected device name from hostname, got %q", req.DeviceName)
		}
		if req.DevicePlatform != device.PlatformLinux {
			t.Errorf("expected platform linux, got %q", req.DevicePlatform)
		}
		if req.Metadata != nil {
			t.Errorf("expected no metadata, got %v", req.Metadata)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"device_id":     req.DeviceID,
			"activation_id": 42,
		})
	}))
	defer server.Close()

	res, err := newTestClient(t, server.URL).ActivateLicense(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.DeviceID != "dev-123" || res.ActivationID != "42" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestClient_ActivateLicenseWithOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req activateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.DeviceName != "ci-runner" {
			t.Errorf("expected device name ci-runner, got %q", req.DeviceName)
		}
		if req.Metadata["seat"] != "ops" {
			t.Errorf("expected metadata seat=ops, got %v", req.Metadata)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"activation": map[string]any{"id": "act-7", "device_id": req.DeviceID},
		})
	}))
	defer server.Close()

	res, err := newTestClient(t, server.URL).ActivateLicenseWithOptions(context.Background(), "ABC-123", ActivateOptions{
		DeviceName: "ci-runner",
		Metadata:   map[string]any{"seat": "ops"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ActivationID != "act-7" || res.DeviceID != "dev-123" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestClient_ActivateLicense_AlreadyActivatedSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "already_activated": true})
	}))
	defer server.Close()

	res, err := newTestClient(t, server.URL).ActivateLicense(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || !res.AlreadyActivated {
		t.Errorf("expected idempotent success, got %+v", res)
	}
}

func TestClient_ActivateLicense_LimitReached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, errorBody("ACTIVATION_LIMIT", "activation limit reached"))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).ActivateLicense(context.Background(), "ABC-123")
	if !errors.Is(err, ErrActivationLimit) {
		t.Fatalf("expected ErrActivationLimit, got %v", err)
	}
	var ae *ActivationError
	if !errors.As(err, &ae) || ae.Code != ActivationLimitExceeded {
		t.Fatalf("expected ActivationError LimitExceeded, got %v", err)
	}
	if KindOf(err) != KindActivation {
		t.Errorf("expected activation kind, got %v", KindOf(err))
	}
	if Retryable(err) {
		t.Error("limit exceeded must not be retryable")
	}
	var se *ServerError
	if !errors.As(err, &se) || se.StatusCode != http.StatusConflict {
		t.Errorf("expected ServerError with status 409, got %v", se)
	}
}

func TestClient_ActivateLicense_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		kind     Kind
		sentinel error
	}{
		{"conflict without code", http.StatusConflict, map[string]string{"message": "full"}, KindActivation, ErrActivationLimit},
		{"already activated", http.StatusConflict, errorBody("ALREADY_ACTIVATED", "device already active"), KindActivation, ErrAlreadyActivated},
		{"unauthorized", http.StatusUnauthorized, errorBody("UNAUTHORIZED", "bad key"), KindActivation, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, errorBody("FORBIDDEN", "no access"), KindActivation, ErrUnauthorized},
		{"unknown license", http.StatusNotFound, errorBody("NOT_FOUND", "license not found"), KindValidation, ErrLicenseNotFound},
		{"malformed", http.StatusBadRequest, errorBody("VALIDATION_ERROR", "license_key required"), KindValidation, ErrMalformedKey},
		{"limit code on 403", http.StatusForbidden, map[string]string{"error": "max devices", "code": "MAX_DEVICES_REACHED"}, KindActivation, ErrActivationLimit},
		{"server error", http.StatusServiceUnavailable, "unavailable", KindTransport, ErrHTTPStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).ActivateLicense(context.Background(), "ABC-123")
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("expected %v, got %v", tt.sentinel, err)
			}
			if got := KindOf(err); got != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, got)
			}
		})
	}
}

func TestClient_ActivateLicense_Refused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "license is suspended"})
	}))
	defer server.Close()

	res, err := newTestClient(t, server.URL).ActivateLicense(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected success=false")
	}
	if res.Reason != "license is suspended" {
		t.Errorf("expected reason from server, got %q", res.Reason)
	}
}

func TestClient_ActivateLicense_RefusedWithKnownCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   map[string]string{"code": "ACTIVATION_LIMIT", "message": "3 of 3 devices in use"},
		})
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).ActivateLicense(context.Background(), "ABC-123")
	if !errors.Is(err, ErrActivationLimit) {
		t.Fatalf("expected ErrActivationLimit, got %v", err)
	}
	if !strings.Contains(err.Error(), "3 of 3 devices in use") {
		t.Errorf("expected server message in error, got %q", err.Error())
	}
}

func TestClient_ActivateLicense_IdentityUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req activateRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "device_id": req.DeviceID})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithIdentity(stubIdentity{err: device.ErrUnavailable}))
	_, err := client.ActivateLicense(context.Background(), "ABC-123")
	if !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("expected no request without a device id")
	}

	res, err := client.ActivateLicenseWithOptions(context.Background(), "ABC-123", ActivateOptions{DeviceID: "explicit"})
	if err != nil {
		t.Fatalf("explicit device id: unexpected error: %v", err)
	}
	if res.DeviceID != "explicit" {
		t.Errorf("expected device id explicit, got %s", res.DeviceID)
	}
}

func TestClient_DeactivateLicense(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/licenses/deactivate" {
			t.Errorf("expected /licenses/deactivate, got %s", r.URL.Path)
		}
		var req deactivateRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch req.DeviceID {
		case "dev-123":
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "deactivated"})
		case "gone":
			w.WriteHeader(http.StatusNoContent)
		case "refused":
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "locked by admin"})
		case "stale":
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "code": "NOT_ACTIVATED"})
		default:
			writeJSON(w, http.StatusNotFound, errorBody("NOT_FOUND", "activation not found"))
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	res, err := client.DeactivateCurrent(ctx, "ABC-123")
	if err != nil || !res.Success || res.DeviceID != "dev-123" {
		t.Fatalf("DeactivateCurrent: got %+v, %v", res, err)
	}

	res, err = client.DeactivateLicense(ctx, "ABC-123", "gone")
	if err != nil || !res.Success {
		t.Errorf("204 should count as success, got %+v, %v", res, err)
	}

	res, err = client.DeactivateLicense(ctx, "ABC-123", "refused")
	if err != nil || res.Success || res.Reason != "locked by admin" {
		t.Errorf("expected refusal with reason, got %+v, %v", res, err)
	}

	_, err = client.DeactivateLicense(ctx, "ABC-123", "stale")
	if !errors.Is(err, ErrNotActivated) {
		t.Errorf("expected ErrNotActivated from code, got %v", err)
	}

	_, err = client.DeactivateLicense(ctx, "ABC-123", "never-activated")
	if !errors.Is(err, ErrNotActivated) {
		t.Fatalf("expected ErrNotActivated, got %v", err)
	}
	if KindOf(err) != KindActivation {
		t.Errorf("expected activation kind, got %v", KindOf(err))
	}

	_, err = client.DeactivateLicense(ctx, "ABC-123", " ")
	if !errors.Is(err, ErrMalformedKey) {
		t.Errorf("expected empty device id to be rejected, got %v", err)
	}
}

func TestClient_DeactivateLicense_UnknownLicense(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("LICENSE_NOT_FOUND", "no such license"))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).DeactivateLicense(context.Background(), "NOPE", "dev-123")
	if !errors.Is(err, ErrLicenseNotFound) {
		t.Fatalf("expected ErrLicenseNotFound, got %v", err)
	}
}

func TestClient_Info(t *testing.T) {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.URL.EscapedPath(); got != "/licenses/TEAM%2F42%20X" {
			t.Errorf("expected escaped key in path, got %s", got)
		}
		if r.Header.Get("Content-Type") != "" {
			t.Error("GET requests carry no body content type")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"license": map[string]any{
				"key":              "TEAM/42 X",
				"status":           "active",
				"type":             "team",
				"expires_at":       expires,
				"activation_limit": 5,
				"activation_count": 2,
			},
			"activations": []map[string]any{
				{"id": 1, "device_id": "dev-123", "device_name": "build-01", "is_active": true},
				{"id": 2, "device_id": "old", "is_active": false},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	details, err := client.LicenseDetails(context.Background(), "TEAM/42 X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.License.Type != "team" || details.License.ExpiresAt == nil || !details.License.ExpiresAt.Equal(expires) {
		t.Errorf("unexpected license %+v", details.License)
	}
	if len(details.Activations) != 2 || details.Activations[0].ID != "1" {
		t.Fatalf("unexpected activations %+v", details.Activations)
	}
	if active := details.ActiveDevices(); len(active) != 1 || active[0].DeviceID != "dev-123" {
		t.Errorf("unexpected active devices %+v", active)
	}

	info, err := client.Info(context.Background(), "TEAM/42 X")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.ActivationLimit != 5 || info.ActivationCount != 2 {
		t.Errorf("unexpected counters %+v", info)
	}

	n, err := client.ActiveDeviceCount(context.Background(), "TEAM/42 X")
	if err != nil || n != 2 {
		t.Errorf("ActiveDeviceCount: got %d, %v", n, err)
	}
	ok, err := client.CanActivate(context.Background(), "TEAM/42 X")
	if err != nil || !ok {
		t.Errorf("CanActivate: got %v, %v", ok, err)
	}
}

func TestClient_Info_BareLicenseWithAliases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "expired",
			"max_devices":    2,
			"active_devices": 2,
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	info, err := client.Info(context.Background(), "ABC-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := LicenseInfo{Key: "ABC-123", Status: StatusExpired, ActivationLimit: 2, ActivationCount: 2}
	if *info != want {
		t.Errorf("expected %+v, got %+v", want, *info)
	}
	ok, err := client.CanActivate(context.Background(), "ABC-123")
	if err != nil || ok {
		t.Errorf("CanActivate on a full expired license: got %v, %v", ok, err)
	}
}

func TestClient_Info_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"unexpected fields", `{"unexpected":true}`},
		{"unknown status", `{"key":"ABC-123","status":"bogus","activation_limit":3}`},
		{"wrapped without status", `{"license":{"key":"ABC-123"},"activations":[]}`},
		{"not json", "<html>gateway</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			info, err := newTestClient(t, server.URL).Info(context.Background(), "ABC-123")
			if !errors.Is(err, ErrDecodeFailed) {
				t.Fatalf("expected ErrDecodeFailed, got info=%+v err=%v", info, err)
			}
			if KindOf(err) != KindTransport {
				t.Errorf("expected transport kind, got %v", KindOf(err))
			}
		})
	}
}

func TestClient_Info_StatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		sentinel error
	}{
		{http.StatusNotFound, ErrLicenseNotFound},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusBadGateway, ErrHTTPStatus},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, errorBody("", http.StatusText(tt.status)))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).Info(context.Background(), "ABC-123")
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, err)
			}
		})
	}
}

func TestClient_Timeout_SlowServer(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := NewConfig(server.URL).WithTimeout(50)
	client, err := NewClient(cfg, WithIdentity(stubIdentity{id: "dev-123"}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	start := time.Now()
	_, err = client.ValidateLicense(context.Background(), "ABC-123")
	elapsed := time.Since(start)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed >= 200*time.Millisecond {
		t.Errorf("expected timeout within 200ms, took %v", elapsed)
	}
	if !Retryable(err) {
		t.Error("timeouts should be retryable")
	}
}

// blockingTransport never answers and ignores ctx.
type blockingTransport struct {
	release chan struct{}
}

func (b blockingTransport) Send(_ context.Context, _ *Request) (*Response, error) {
	<-b.release
	return &Response{StatusCode: http.StatusOK, Body: json.RawMessage(`{"valid":true}`)}, nil
}

func TestClient_Timeout_BlockingTransport(t *testing.T) {
	tr := blockingTransport{release: make(chan struct{})}
	defer close(tr.release)

	cfg := NewConfig("https://lycento.test").WithTimeout(50)
	client, err := NewClient(cfg, WithTransport(tr), WithIdentity(stubIdentity{id: "dev-123"}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ops := map[string]func() error{
		OpValidate: func() error {
			_, err := client.ValidateLicense(context.Background(), "ABC-123")
			return err
		},
		OpActivate: func() error {
			_, err := client.ActivateLicense(context.Background(), "ABC-123")
			return err
		},
		OpDeactivate: func() error {
			_, err := client.DeactivateLicense(context.Background(), "ABC-123", "dev-123")
			return err
		},
		OpInfo: func() error {
			_, err := client.Info(context.Background(), "ABC-123")
			return err
		},
	}
	for op, call := range ops {
		t.Run(op, func(t *testing.T) {
			start := time.Now()
			err := call()
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("expected ErrTimeout, got %v", err)
			}
			if elapsed := time.Since(start); elapsed >= 200*time.Millisecond {
				t.Errorf("expected timeout within 200ms, took %v", elapsed)
			}
		})
	}
}

func TestClient_ConnectionFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url).ValidateLicense(context.Background(), "ABC-123")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if !Retryable(err) {
		t.Error("connection failures should be retryable")
	}
}

func TestClient_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := newTestClient(t, server.URL).ValidateLicense(ctx, "ABC-123")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected the cancellation cause to be kept, got %v", err)
	}
}

func TestClient_NonTransportErrorFromCustomTransport(t *testing.T) {
	tr := transportFunc(func(context.Context, *Request) (*Response, error) {
		return nil, errors.New("socket closed")
	})
	client, err := NewClient(NewConfig("https://lycento.test"), WithTransport(tr), WithIdentity(stubIdentity{id: "d"}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.ValidateLicense(context.Background(), "ABC-123")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("expected ErrConnectionFailed, got %v", err)
	}
}

type transportFunc func(context.Context, *Request) (*Response, error)

func (f transportFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

func TestClient_ConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req validateRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "license": map[string]any{"key": req.LicenseKey, "status": "active"}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		key := "KEY-" + strings.Repeat("X", i+1)
		go func() {
			res, err := client.ValidateLicense(context.Background(), key)
			if err == nil && res.License.Key != key {
				err = errors.New("mismatched response for " + key)
			}
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
	if calls.Load() != n {
		t.Errorf("expected %d requests, got %d", n, calls.Load())
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		sentinel error
	}{
		{"empty url", NewConfig(""), ErrInvalidURL},
		{"relative url", NewConfig("api.lycento.com/v1"), ErrInvalidURL},
		{"bad scheme", NewConfig("ftp://lycento.test"), ErrInvalidURL},
		{"zero timeout", NewConfig("https://lycento.test").WithTimeout(0), ErrInvalidTimeout},
		{"negative timeout", NewConfig("https://lycento.test").WithTimeout(-100), ErrInvalidTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("expected %v, got %v", tt.sentinel, err)
			}
			if KindOf(err) != KindConfig {
				t.Errorf("expected config kind, got %v", KindOf(err))
			}
			if Retryable(err) {
				t.Error("config errors are never retryable")
			}
		})
	}
}

func TestClient_CustomUserAgent(t *testing.T) {
	var receivedUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithUserAgent("my-app/2.0"))
	client.ValidateLicense(context.Background(), "ABC-123")

	if receivedUA != "my-app/2.0" {
		t.Errorf("expected User-Agent 'my-app/2.0', got %q", receivedUA)
	}
}
