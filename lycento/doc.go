// Package lycento is a Go client for the Lycento licensing service.
//
// Install with:
//
//	go get github.com/lycento/lycento-sdk-go/lycento
//
// A Client validates, activates and deactivates license keys for the
// current device. The device id is derived locally by package device and
// is stable across restarts; set LYCENTO_DEVICE_ID to pin it.
//
// # Quick Start
//
//	cfg := lycento.NewConfig("https://api.lycento.com/v1").WithAPIKey("your-api-key")
//	client, err := lycento.NewClient(cfg)
//	if err != nil {
//	    return err
//	}
//	res, err := client.ValidateLicense(ctx, "XXXX-YYYY-ZZZZ")
//
// An invalid license is not an error: ValidateLicense reports it with
// Valid false. Errors mean no trustworthy answer was obtained and can be
// inspected with errors.Is against the Err* sentinels, with KindOf, or with
// errors.As against *ConfigError, *IdentityError, *TransportError,
// *ValidationError and *ActivationError.
//
// # Activation Journal
//
// A Manager records every activation attempt in an activationlog.Journal
// before the request is sent. Attempts that time out stay uncertain until
// Manager.Reconcile settles them against the service's activation records.
//
// # Testing
//
// Package lycentotest runs an in-process fake of the service.
package lycento
