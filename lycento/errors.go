package lycento

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lycento/lycento-sdk-go/lycento/device"
)

// Sentinel errors for construction-time failures.
var (
	ErrInvalidURL     = errors.New("invalid base URL")
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// ErrIdentityUnavailable is returned when no device identity signal could be read.
var ErrIdentityUnavailable = device.ErrUnavailable

// Sentinel errors for transport failures.
var (
	ErrTimeout          = errors.New("request timed out")
	ErrConnectionFailed = errors.New("connection failed")
	ErrHTTPStatus       = errors.New("unexpected HTTP status")
	ErrDecodeFailed     = errors.New("malformed response")
)

// Sentinel errors for semantic rejections by the licensing service.
// ErrUnauthorized matches both validation and activation rejections.
var (
	ErrLicenseNotFound  = errors.New("license not found")
	ErrMalformedKey     = errors.New("malformed license key")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrActivationLimit  = errors.New("activation limit reached")
	ErrNotActivated     = errors.New("device not activated")
	ErrAlreadyActivated = errors.New("device already activated")
)

// Kind selects the error category carried by an *Error.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindIdentity
	KindTransport
	KindValidation
	KindActivation
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindIdentity:
		return "identity"
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindActivation:
		return "activation"
	default:
		return "unknown"
	}
}

// Error is returned by every Client operation. It wraps exactly one of
// *ConfigError, *IdentityError, *TransportError, *ValidationError or
// *ActivationError, selected by Kind.
//
//	var lerr *lycento.Error
//	if errors.As(err, &lerr) {
//	    switch lerr.Kind {
//	    case lycento.KindTransport: // offline, retry later
//	    case lycento.KindActivation: // e.g. errors.Is(err, lycento.ErrActivationLimit)
//	    }
//	}
type Error struct {
	Kind      Kind
	Op        string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "lycento: " + e.Err.Error()
	}
	return "lycento: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the category of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Retryable reports whether err is a transient transport failure a caller
// may retry: a timeout, a connection failure, or a 429/5xx status.
// The SDK itself never retries.
func Retryable(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch te.Code {
	case TransportTimeout, TransportConnectionFailed:
		return true
	case TransportHTTPStatus:
		return te.StatusCode == http.StatusTooManyRequests || te.StatusCode >= 500
	default:
		return false
	}
}

func wrapError(op, requestID string, err error) *Error {
	e := &Error{Op: op, RequestID: requestID, Err: err}
	switch err.(type) {
	case *ConfigError:
		e.Kind = KindConfig
	case *IdentityError:
		e.Kind = KindIdentity
	case *ValidationError:
		e.Kind = KindValidation
	case *ActivationError:
		e.Kind = KindActivation
	default:
		e.Kind = KindTransport
	}
	return e
}

// ConfigCode enumerates configuration failures.
type ConfigCode int

const (
	ConfigInvalidURL ConfigCode = iota + 1
	ConfigInvalidTimeout
)

// ConfigError is a construction-time failure. It is never retryable.
type ConfigError struct {
	Code   ConfigCode
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	sentinel := e.sentinel()
	if e.Value == "" {
		return fmt.Sprintf("%v: %s", sentinel, e.Reason)
	}
	return fmt.Sprintf("%v %q: %s", sentinel, e.Value, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ConfigError) sentinel() error {
	if e.Code == ConfigInvalidTimeout {
		return ErrInvalidTimeout
	}
	return ErrInvalidURL
}

// IdentityCode enumerates device identity failures.
type IdentityCode int

const (
	IdentityUnavailable IdentityCode = iota + 1
)

// IdentityError reports that the device id could not be derived. It is fatal
// for any device-scoped operation.
type IdentityError struct {
	Code IdentityCode
	Err  error
}

func (e *IdentityError) Error() string {
	if e.Err == nil {
		return ErrIdentityUnavailable.Error()
	}
	if errors.Is(e.Err, ErrIdentityUnavailable) {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %v", ErrIdentityUnavailable, e.Err)
}

func (e *IdentityError) Is(target error) bool {
	return target == ErrIdentityUnavailable
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}

// TransportCode enumerates failures below the licensing layer.
type TransportCode int

const (
	TransportTimeout TransportCode = iota + 1
	TransportConnectionFailed
	TransportHTTPStatus
	TransportDecodeFailed
)

func (c TransportCode) String() string {
	switch c {
	case TransportTimeout:
		return "timeout"
	case TransportConnectionFailed:
		return "connection_failed"
	case TransportHTTPStatus:
		return "http_status"
	case TransportDecodeFailed:
		return "decode_failed"
	default:
		return "unknown"
	}
}

// TransportError is a network-layer failure. For TransportHTTPStatus,
// StatusCode and Body carry the server's answer uninterpreted.
type TransportError struct {
	Code       TransportCode
	StatusCode int
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Code {
	case TransportHTTPStatus:
		body := strings.TrimSpace(string(e.Body))
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		if body == "" {
			return fmt.Sprintf("%v %d", ErrHTTPStatus, e.StatusCode)
		}
		return fmt.Sprintf("%v %d: %s", ErrHTTPStatus, e.StatusCode, body)
	default:
		if e.Err == nil {
			return e.sentinel().Error()
		}
		return fmt.Sprintf("%v: %v", e.sentinel(), e.Err)
	}
}

func (e *TransportError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) sentinel() error {
	switch e.Code {
	case TransportTimeout:
		return ErrTimeout
	case TransportHTTPStatus:
		return ErrHTTPStatus
	case TransportDecodeFailed:
		return ErrDecodeFailed
	default:
		return ErrConnectionFailed
	}
}

// ValidationCode enumerates semantic rejections of validate and info requests.
type ValidationCode int

const (
	ValidationNotFound ValidationCode = iota + 1
	ValidationMalformed
	ValidationUnauthorized
)

// ValidationError is a semantic rejection of a validate or info request.
// Server holds the parsed error body when the rejection came from the service.
type ValidationError struct {
	Code   ValidationCode
	Server *ServerError
	Reason string
}

func (e *ValidationError) Error() string {
	return describe(e.sentinel(), e.Server, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ValidationError) Unwrap() error {
	if e.Server == nil {
		return nil
	}
	return e.Server
}

func (e *ValidationError) sentinel() error {
	switch e.Code {
	case ValidationNotFound:
		return ErrLicenseNotFound
	case ValidationUnauthorized:
		return ErrUnauthorized
	default:
		return ErrMalformedKey
	}
}

// ActivationCode enumerates semantic rejections of activate and deactivate requests.
type ActivationCode int

const (
	ActivationLimitExceeded ActivationCode = iota + 1
	ActivationNotActivated
	ActivationAlreadyActivated
	ActivationUnauthorized
)

// ActivationError is a semantic rejection of an activate or deactivate request.
type ActivationError struct {
	Code   ActivationCode
	Server *ServerError
	Reason string
}

func (e *ActivationError) Error() string {
	return describe(e.sentinel(), e.Server, e.Reason)
}

func (e *ActivationError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ActivationError) Unwrap() error {
	if e.Server == nil {
		return nil
	}
	return e.Server
}

func (e *ActivationError) sentinel() error {
	switch e.Code {
	case ActivationLimitExceeded:
		return ErrActivationLimit
	case ActivationNotActivated:
		return ErrNotActivated
	case ActivationAlreadyActivated:
		return ErrAlreadyActivated
	default:
		return ErrUnauthorized
	}
}

func describe(sentinel error, se *ServerError, reason string) string {
	switch {
	case reason != "":
		return fmt.Sprintf("%v: %s", sentinel, reason)
	case se != nil && se.Message != "" && se.Message != sentinel.Error():
		return fmt.Sprintf("%v: %s", sentinel, se.Message)
	default:
		return sentinel.Error()
	}
}

// ServerError is the error body returned by the licensing service. Both
// {"error": {"code": "...", "message": "..."}} and {"error": "...", "code": "..."}
// layouts are accepted.
type ServerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
}

// parseServerError reads the service's error body. Bodies that are not JSON
// keep their text as the message with code UNKNOWN.
func parseServerError(statusCode int, body []byte) *ServerError {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &ServerError{
			StatusCode: statusCode,
			Code:       "UNKNOWN",
			Message:    strings.TrimSpace(string(body)),
		}
	}
	se := &ServerError{StatusCode: statusCode, Code: envelope.Code, Message: envelope.Message}
	if len(envelope.Error) > 0 {
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		var text string
		switch {
		case json.Unmarshal(envelope.Error, &nested) == nil:
			if nested.Code != "" {
				se.Code = nested.Code
			}
			if nested.Message != "" {
				se.Message = nested.Message
			}
		case json.Unmarshal(envelope.Error, &text) == nil && text != "":
			se.Message = text
		}
	}
	return se
}
