package lycento

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the per-call correlation id.
const RequestIDHeader = "X-Request-ID"

// Request is one call to the licensing service. Path is relative to the
// configured base URL. Body, when non-nil, is encoded as JSON.
type Request struct {
	Method string
	Path   string
	Body   any
	Header http.Header
}

// Response is a successful (2xx) answer. Body is always valid JSON.
type Response struct {
	StatusCode int
	Body       json.RawMessage
	RequestID  string
}

// Transport sends requests to the licensing service. Implementations must
// honor ctx cancellation, report failures as *TransportError, and never
// interpret licensing semantics: a non-2xx status is returned as
// TransportHTTPStatus with the raw body.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport is the default Transport, speaking JSON over net/http.
type HTTPTransport struct {
	baseURL    string
	apiKey     string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for cfg. A nil httpClient uses a
// dedicated client; its Timeout is left alone and the per-request deadline
// comes from cfg.Timeout.
func NewHTTPTransport(cfg Config, httpClient *http.Client, userAgent string) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPTransport{
		baseURL:    cfg.BaseURL(),
		apiKey:     cfg.APIKey(),
		userAgent:  userAgent,
		timeout:    cfg.Timeout(),
		httpClient: httpClient,
	}
}

// Send performs req and returns the decoded-as-raw JSON body of a 2xx answer.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &TransportError{Code: TransportDecodeFailed, Err: err}
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, t.baseURL+req.Path, body)
	if err != nil {
		return nil, &TransportError{Code: TransportConnectionFailed, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	requestID := httpReq.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		httpReq.Header.Set(RequestIDHeader, requestID)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, networkError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &TransportError{Code: TransportTimeout, Err: err}
		}
		return nil, &TransportError{Code: TransportDecodeFailed, Err: err}
	}
	if len(respBody) > maxResponseBytes {
		return nil, &TransportError{Code: TransportDecodeFailed, Err: errors.New("response exceeds 1 MiB")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Code: TransportHTTPStatus, StatusCode: resp.StatusCode, Body: respBody}
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		if resp.StatusCode != http.StatusNoContent {
			return nil, &TransportError{Code: TransportDecodeFailed, Err: errors.New("empty response body")}
		}
		respBody = []byte("{}")
	}
	if !json.Valid(respBody) {
		return nil, &TransportError{Code: TransportDecodeFailed, Err: errors.New("response is not valid JSON")}
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody, RequestID: requestID}, nil
}

// networkError classifies a failed round trip. Deadline expiry, whether from
// ctx or the network stack, is a timeout; anything else, including caller
// cancellation, is a connection failure.
func networkError(ctx context.Context, err error) *TransportError {
	if isTimeout(ctx, err) {
		return &TransportError{Code: TransportTimeout, Err: err}
	}
	return &TransportError{Code: TransportConnectionFailed, Err: err}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
