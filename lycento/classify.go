package lycento

import (
	"encoding/json"
	"net/http"
	"strings"
)

// activationCodes maps service error codes to activation outcomes. Codes are
// compared upper-cased.
var activationCodes = map[string]ActivationCode{
	"ACTIVATION_LIMIT":          ActivationLimitExceeded,
	"ACTIVATION_LIMIT_EXCEEDED": ActivationLimitExceeded,
	"LIMIT_EXCEEDED":            ActivationLimitExceeded,
	"MAX_DEVICES_REACHED":       ActivationLimitExceeded,
	"ALREADY_ACTIVATED":         ActivationAlreadyActivated,
	"NOT_ACTIVATED":             ActivationNotActivated,
	"ACTIVATION_NOT_FOUND":      ActivationNotActivated,
}

// licenseMissingCodes mark a 404 as an unknown license rather than a missing
// activation.
var licenseMissingCodes = map[string]bool{
	"LICENSE_NOT_FOUND": true,
	"INVALID_LICENSE":   true,
}

// classify turns an HTTP status answer into a licensing error for op.
// Statuses without a licensing meaning, and every other transport failure,
// are returned unchanged.
//
//	validate, info    401/403 Unauthorized, 400/422 Malformed, 404 NotFound
//	activate          409 LimitExceeded (AlreadyActivated by code), 401/403 Unauthorized,
//	                  404 NotFound, 400/422 Malformed
//	deactivate        404 NotActivated (NotFound by code), 401/403 Unauthorized,
//	                  400/422 Malformed
func classify(op string, te *TransportError) error {
	if te.Code != TransportHTTPStatus || te.StatusCode >= 500 {
		return te
	}
	se := parseServerError(te.StatusCode, te.Body)
	code := strings.ToUpper(se.Code)
	lifecycle := op == OpActivate || op == OpDeactivate

	if lifecycle {
		if ac, ok := activationCodes[code]; ok {
			return &ActivationError{Code: ac, Server: se}
		}
	}

	switch te.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if lifecycle {
			return &ActivationError{Code: ActivationUnauthorized, Server: se}
		}
		return &ValidationError{Code: ValidationUnauthorized, Server: se}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationError{Code: ValidationMalformed, Server: se}
	case http.StatusNotFound:
		if op == OpDeactivate && !licenseMissingCodes[code] {
			return &ActivationError{Code: ActivationNotActivated, Server: se}
		}
		return &ValidationError{Code: ValidationNotFound, Server: se}
	case http.StatusConflict:
		if op == OpActivate {
			return &ActivationError{Code: ActivationLimitExceeded, Server: se}
		}
	}
	return te
}

// decodeJSON unmarshals body into dest and runs its shape check.
func decodeJSON(body json.RawMessage, dest any) error {
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return err
	}
	if c, ok := dest.(checker); ok {
		return c.check()
	}
	return nil
}
