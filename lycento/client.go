package lycento

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lycento/lycento-sdk-go/internal/version"
	"github.com/lycento/lycento-sdk-go/lycento/device"
)

const tracerName = "github.com/lycento/lycento-sdk-go/lycento"

// Operation names used in errors, logs, spans and metrics.
const (
	OpValidate   = "validate"
	OpActivate   = "activate"
	OpDeactivate = "deactivate"
	OpInfo       = "info"
)

// Client performs license lifecycle calls against the licensing service.
// A Client holds no mutable state after construction and is safe for
// concurrent use.
//
// Every call is one round trip bounded by the configured timeout; the client
// never retries. When a call times out the request is abandoned, but the
// server may still have applied it: an activation can succeed after the
// client reported TransportTimeout. Use Manager to journal and reconcile
// such activations.
type Client struct {
	cfg            Config
	transport      Transport
	identity       IdentityProvider
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	metrics        *Metrics
	httpClient     *http.Client
	userAgent      string
}

// NewClient validates cfg and creates a Client. An invalid cfg yields an
// *Error of KindConfig.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, wrapError("new_client", "", err)
	}
	c := &Client{
		cfg:       cfg,
		logger:    zap.NewNop(),
		userAgent: version.UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.identity == nil {
		c.identity = device.Default()
	}
	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	c.tracer = c.tracerProvider.Tracer(tracerName, trace.WithInstrumentationVersion(version.Version))
	if c.transport == nil {
		c.transport = NewHTTPTransport(cfg, c.httpClient, c.userAgent)
	}
	return c, nil
}

// Config returns the client's configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// DeviceID returns the device id used by device-scoped calls.
func (c *Client) DeviceID() (string, error) {
	id, err := c.identity.ID()
	if err != nil {
		return "", wrapError("device_id", "", &IdentityError{Code: IdentityUnavailable, Err: err})
	}
	return id, nil
}

// ValidateLicense asks the service whether key is valid for this device.
// An invalid, expired or revoked license is reported as Valid false with a
// nil error; errors are reserved for failures to obtain an answer.
func (c *Client) ValidateLicense(ctx context.Context, key string) (*ValidateResult, error) {
	return c.validate(ctx, key, "")
}

// ValidateLicenseForDevice is ValidateLicense with an explicit device id.
func (c *Client) ValidateLicenseForDevice(ctx context.Context, key, deviceID string) (*ValidateResult, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, wrapError(OpValidate, "", &ValidationError{Code: ValidationMalformed, Reason: "device id is empty"})
	}
	return c.validate(ctx, key, deviceID)
}

func (c *Client) validate(ctx context.Context, key, deviceID string) (res *ValidateResult, err error) {
	ctx, done := c.begin(ctx, OpValidate, key)
	defer func() { done(err) }()

	if err := checkKey(key); err != nil {
		return nil, wrapError(OpValidate, "", err)
	}
	if deviceID == "" {
		id, err := c.identity.ID()
		if err != nil {
			return nil, wrapError(OpValidate, "", &IdentityError{Code: IdentityUnavailable, Err: err})
		}
		deviceID = id
	}
	var resp validateResponse
	err = c.call(ctx, OpValidate, &Request{
		Method: http.MethodPost,
		Path:   "/licenses/validate",
		Body:   validateRequest{LicenseKey: key, DeviceID: deviceID},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.result(), nil
}

// IsValid reports whether key validates. Any error counts as not valid.
func (c *Client) IsValid(ctx context.Context, key string) bool {
	res, err := c.ValidateLicense(ctx, key)
	return err == nil && res.Valid
}

// ActivateLicense binds key to this device.
func (c *Client) ActivateLicense(ctx context.Context, key string) (*ActivationResult, error) {
	return c.ActivateLicenseWithOptions(ctx, key, ActivateOptions{})
}

// ActivateLicenseWithOptions binds key to a device, filling unset options
// from the device identity. A full license yields ErrActivationLimit. A
// refusal the service does not classify is returned as a result with
// Success false and a Reason.
func (c *Client) ActivateLicenseWithOptions(ctx context.Context, key string, opts ActivateOptions) (res *ActivationResult, err error) {
	ctx, done := c.begin(ctx, OpActivate, key)
	defer func() { done(err) }()

	if err := checkKey(key); err != nil {
		return nil, wrapError(OpActivate, "", err)
	}
	body, err := c.activationTarget(key, opts)
	if err != nil {
		return nil, wrapError(OpActivate, "", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("lycento.device_id", body.DeviceID))

	var resp activateResponse
	requestID, err := c.send(ctx, OpActivate, &Request{
		Method: http.MethodPost,
		Path:   "/licenses/activate",
		Body:   body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	res = resp.result(body.DeviceID)
	if !res.Success {
		if code, ok := activationCodes[strings.ToUpper(errorCode(resp.Code, resp.Error))]; ok {
			return nil, wrapError(OpActivate, requestID, &ActivationError{
				Code:   code,
				Server: &ServerError{StatusCode: http.StatusOK, Code: errorCode(resp.Code, resp.Error), Message: res.Reason},
			})
		}
	}
	if !res.Success {
		c.logger.Warn("activation refused",
			zap.String("license_key", maskKey(key)),
			zap.String("device_id", res.DeviceID),
			zap.String("reason", res.Reason),
			zap.String("request_id", requestID),
		)
		return res, nil
	}
	c.logger.Info("license activated",
		zap.String("license_key", maskKey(key)),
		zap.String("device_id", res.DeviceID),
		zap.Bool("already_activated", res.AlreadyActivated),
		zap.String("request_id", requestID),
	)
	return res, nil
}

// DeactivateLicense releases deviceID's activation of key. Deactivating a
// device that holds no activation yields ErrNotActivated.
func (c *Client) DeactivateLicense(ctx context.Context, key, deviceID string) (res *DeactivationResult, err error) {
	ctx, done := c.begin(ctx, OpDeactivate, key)
	defer func() { done(err) }()

	if err := checkKey(key); err != nil {
		return nil, wrapError(OpDeactivate, "", err)
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, wrapError(OpDeactivate, "", &ValidationError{Code: ValidationMalformed, Reason: "device id is empty"})
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("lycento.device_id", deviceID))

	var resp deactivateResponse
	requestID, err := c.send(ctx, OpDeactivate, &Request{
		Method: http.MethodPost,
		Path:   "/licenses/deactivate",
		Body:   deactivateRequest{LicenseKey: key, DeviceID: deviceID},
	}, &resp)
	if err != nil {
		return nil, err
	}
	res = &DeactivationResult{Success: resp.Success == nil || *resp.Success, DeviceID: deviceID}
	if !res.Success {
		res.Reason = firstNonEmpty(resp.Reason, errorText(resp.Error), resp.Message)
		code := errorCode(resp.Code, resp.Error)
		if ac, ok := activationCodes[strings.ToUpper(code)]; ok {
			return nil, wrapError(OpDeactivate, requestID, &ActivationError{
				Code:   ac,
				Server: &ServerError{StatusCode: http.StatusOK, Code: code, Message: res.Reason},
			})
		}
	}
	return res, nil
}

// DeactivateCurrent releases this device's activation of key.
func (c *Client) DeactivateCurrent(ctx context.Context, key string) (*DeactivationResult, error) {
	deviceID, err := c.DeviceID()
	if err != nil {
		return nil, withOp(err, OpDeactivate)
	}
	return c.DeactivateLicense(ctx, key, deviceID)
}

// Info returns the server's view of key.
func (c *Client) Info(ctx context.Context, key string) (*LicenseInfo, error) {
	details, err := c.LicenseDetails(ctx, key)
	if err != nil {
		return nil, err
	}
	return &details.License, nil
}

// LicenseDetails returns the license together with its activation records,
// when the service lists them.
func (c *Client) LicenseDetails(ctx context.Context, key string) (res *LicenseDetails, err error) {
	ctx, done := c.begin(ctx, OpInfo, key)
	defer func() { done(err) }()

	if err := checkKey(key); err != nil {
		return nil, wrapError(OpInfo, "", err)
	}
	var resp detailsResponse
	err = c.call(ctx, OpInfo, &Request{
		Method: http.MethodGet,
		Path:   "/licenses/" + url.PathEscape(key),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.License.Key == "" {
		resp.License.Key = key
	}
	return &resp.LicenseDetails, nil
}

// ActiveDeviceCount returns the license's current activation count.
func (c *Client) ActiveDeviceCount(ctx context.Context, key string) (int, error) {
	info, err := c.Info(ctx, key)
	if err != nil {
		return 0, err
	}
	return info.ActivationCount, nil
}

// CanActivate reports whether the license has a free activation slot. The
// answer is advisory: the service decides at activation time.
func (c *Client) CanActivate(ctx context.Context, key string) (bool, error) {
	info, err := c.Info(ctx, key)
	if err != nil {
		return false, err
	}
	return info.Status == StatusActive && NewSeatUsage(info).Remaining() != 0, nil
}

// Validate is a one-shot helper that builds a client for baseURL and
// validates key on this device.
func Validate(ctx context.Context, baseURL, apiKey, key string) (bool, error) {
	cfg := NewConfig(baseURL)
	if apiKey != "" {
		cfg = cfg.WithAPIKey(apiKey)
	}
	client, err := NewClient(cfg)
	if err != nil {
		return false, err
	}
	res, err := client.ValidateLicense(ctx, key)
	if err != nil {
		return false, err
	}
	return res.Valid, nil
}

func (c *Client) activationTarget(key string, opts ActivateOptions) (activateRequest, error) {
	req := activateRequest{
		LicenseKey:     key,
		DeviceID:       opts.DeviceID,
		DeviceName:     opts.DeviceName,
		DevicePlatform: opts.Platform,
		Metadata:       opts.Metadata,
	}
	info, err := c.identity.Info()
	switch {
	case err == nil:
		if req.DeviceID == "" {
			req.DeviceID = info.DeviceID
		}
		if req.DeviceName == "" {
			req.DeviceName = info.Name()
		}
		if req.DevicePlatform == "" {
			req.DevicePlatform = info.Platform
		}
	case req.DeviceID == "":
		return req, &IdentityError{Code: IdentityUnavailable, Err: err}
	default:
		c.logger.Debug("device identity unavailable, using explicit device id", zap.Error(err))
	}
	if req.DevicePlatform == "" {
		req.DevicePlatform = device.CurrentPlatform()
	}
	return req, nil
}

// call is send without the request id.
func (c *Client) call(ctx context.Context, op string, req *Request, dest any) error {
	_, err := c.send(ctx, op, req, dest)
	return err
}

type sendResult struct {
	resp *Response
	err  error
}

// send runs one transport round trip bounded by the configured timeout and
// decodes the body into dest. Failures are returned as *Error with the
// transport outcome classified for op.
func (c *Client) send(ctx context.Context, op string, req *Request, dest any) (string, error) {
	requestID := uuid.NewString()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Header.Set(RequestIDHeader, requestID)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("lycento.request_id", requestID))

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	// The transport runs in its own goroutine so a Transport that ignores
	// ctx cannot hold the caller past the deadline.
	ch := make(chan sendResult, 1)
	go func() {
		resp, err := c.transport.Send(ctx, req)
		ch <- sendResult{resp: resp, err: err}
	}()

	var out sendResult
	select {
	case out = <-ch:
	case <-ctx.Done():
		out.err = networkError(ctx, ctx.Err())
	}

	if out.err != nil {
		var te *TransportError
		if !errors.As(out.err, &te) {
			te = &TransportError{Code: TransportConnectionFailed, Err: out.err}
		}
		return requestID, wrapError(op, requestID, classify(op, te))
	}
	if out.resp == nil {
		return requestID, wrapError(op, requestID, &TransportError{Code: TransportDecodeFailed, Err: errors.New("transport returned no response")})
	}
	if out.resp.RequestID != "" {
		requestID = out.resp.RequestID
	}
	if err := decodeJSON(out.resp.Body, dest); err != nil {
		return requestID, wrapError(op, requestID, &TransportError{Code: TransportDecodeFailed, Err: err})
	}
	return requestID, nil
}

// begin opens the span for op and returns the function that closes it,
// records metrics and logs the outcome.
func (c *Client) begin(ctx context.Context, op, key string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "lycento."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("lycento.operation", op),
			attribute.String("lycento.license_key", maskKey(key)),
		),
	)
	return ctx, func(err error) {
		elapsed := time.Since(start)
		c.metrics.observe(op, elapsed, err)
		fields := []zap.Field{
			zap.String("op", op),
			zap.String("license_key", maskKey(key)),
			zap.Duration("elapsed", elapsed),
		}
		if err != nil {
			var lerr *Error
			if errors.As(err, &lerr) {
				span.SetAttributes(attribute.String("lycento.error_kind", lerr.Kind.String()))
				fields = append(fields, zap.Stringer("kind", lerr.Kind), zap.String("request_id", lerr.RequestID))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Warn("licensing request failed", append(fields, zap.Error(err))...)
		} else {
			span.SetStatus(codes.Ok, "")
			c.logger.Debug("licensing request completed", fields...)
		}
		span.End()
	}
}

// checkKey rejects keys that cannot be a license key: empty or containing
// non-printable characters. No other format is assumed.
func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return &ValidationError{Code: ValidationMalformed, Reason: "license key is empty"}
	}
	for _, r := range key {
		if !unicode.IsPrint(r) {
			return &ValidationError{Code: ValidationMalformed, Reason: "license key contains non-printable characters"}
		}
	}
	return nil
}

// withOp sets the operation on an *Error created by a helper.
func withOp(err error, op string) error {
	var lerr *Error
	if errors.As(err, &lerr) {
		cp := *lerr
		cp.Op = op
		return &cp
	}
	return err
}
