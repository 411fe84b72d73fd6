package lycento

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lycento/lycento-sdk-go/lycento/device"
)

// IdentityProvider supplies the device identity used by device-scoped calls.
// *device.Provider implements it.
type IdentityProvider interface {
	ID() (string, error)
	Info() (device.Info, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the *http.Client used by the default transport.
// It has no effect together with WithTransport.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header sent by the default transport.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithTransport replaces the HTTP transport, typically with a test double.
// The client still bounds every call with the configured timeout.
func WithTransport(t Transport) ClientOption {
	return func(cl *Client) {
		cl.transport = t
	}
}

// WithIdentity replaces the process-wide device identity.
func WithIdentity(p IdentityProvider) ClientOption {
	return func(cl *Client) {
		cl.identity = p
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The default is
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(cl *Client) {
		cl.tracerProvider = tp
	}
}

// WithMetrics records request metrics into m.
func WithMetrics(m *Metrics) ClientOption {
	return func(cl *Client) {
		cl.metrics = m
	}
}
