// Package lycentotest provides an in-process licensing service for tests.
// It speaks the same wire contract as the hosted service, keeps its state in
// memory and is safe for concurrent use.
package lycentotest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/lycento/lycento-sdk-go/lycento"
	"github.com/lycento/lycento-sdk-go/lycento/device"
)

// License seeds a license into the server.
type License struct {
	Key             string
	Status          lycento.LicenseStatus
	Type            string
	ExpiresAt       *time.Time
	ActivationLimit int
}

type license struct {
	License
	activations []*lycento.ActivationRecord
}

func (l *license) active(deviceID string) *lycento.ActivationRecord {
	for _, a := range l.activations {
		if a.Active && a.DeviceID == deviceID {
			return a
		}
	}
	return nil
}

func (l *license) activeCount() int {
	n := 0
	for _, a := range l.activations {
		if a.Active {
			n++
		}
	}
	return n
}

func (l *license) info() lycento.LicenseInfo {
	status := l.Status
	if status == "" {
		status = lycento.StatusActive
	}
	return lycento.LicenseInfo{
		Key:             l.Key,
		Status:          status,
		Type:            l.Type,
		ExpiresAt:       l.ExpiresAt,
		ActivationLimit: l.ActivationLimit,
		ActivationCount: l.activeCount(),
	}
}

// refusal returns why the license cannot be used now, or "".
func (l *license) refusal(now time.Time) string {
	info := l.info()
	if info.Status != lycento.StatusActive {
		return "license is " + string(info.Status)
	}
	if info.Expired(now) {
		return "license has expired"
	}
	return ""
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey makes the server reject requests without "Bearer <key>".
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithStrictActivation answers a repeated activation of the same device with
// 409 ALREADY_ACTIVATED instead of an idempotent success.
func WithStrictActivation() Option {
	return func(s *Server) {
		s.strict = true
	}
}

// WithLatency delays every answer by d. The request is applied before the
// delay, so a client that gives up early leaves the change in place.
func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.latency = d
	}
}

// WithRateLimit answers 429 RATE_LIMITED once more than burst requests
// arrive faster than rps per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClock sets the time source used for expiry checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// Server is a fake licensing service listening on a local port.
type Server struct {
	*httptest.Server

	apiKey   string
	strict   bool
	latency  time.Duration
	now      func() time.Time
	limiter  *rate.Limiter
	validate *validator.Validate

	mu       sync.Mutex
	licenses map[string]*license
	requests int
	nextID   int
}

// NewServer starts a Server. Call Close when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		now:      time.Now,
		licenses: make(map[string]*license),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.count)
	r.Use(s.throttle)
	r.Use(s.authenticate)

	r.Route("/licenses", func(r chi.Router) {
		r.Post("/validate", s.handleValidate)
		r.Post("/activate", s.handleActivate)
		r.Post("/deactivate", s.handleDeactivate)
		r.Get("/{key}", s.handleInfo)
	})
	return r
}

// AddLicense registers or replaces a license. Existing activations are kept.
func (s *Server) AddLicense(l License) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.licenses[l.Key]; ok {
		existing.License = l
		return
	}
	s.licenses[l.Key] = &license{License: l}
}

// SetStatus changes the status of a registered license.
func (s *Server) SetStatus(key string, status lycento.LicenseStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.licenses[key]; ok {
		l.Status = status
	}
}

// Activations returns a copy of the activation records of key.
func (s *Server) Activations(key string) []lycento.ActivationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[key]
	if !ok {
		return nil
	}
	out := make([]lycento.ActivationRecord, len(l.activations))
	for i, a := range l.activations {
		out[i] = *a
	}
	return out
}

// Requests returns the number of requests received so far.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		if id := r.Header.Get(lycento.RequestIDHeader); id != "" {
			w.Header().Set(lycento.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.fail(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+s.apiKey {
			s.fail(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type licenseRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	DeviceID   string `json:"device_id"`
}

type deviceRequest struct {
	LicenseKey     string          `json:"license_key" validate:"required"`
	DeviceID       string          `json:"device_id" validate:"required"`
	DeviceName     string          `json:"device_name"`
	DevicePlatform device.Platform `json:"device_platform" validate:"omitempty,oneof=windows macos linux unknown"`
}

// decode reads and validates the JSON body into dst, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.fail(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.fail(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return false
	}
	return true
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req licenseRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	l, found := s.licenses[req.LicenseKey]
	var body map[string]any
	switch {
	case !found:
		body = map[string]any{"valid": false, "reason": "license not found"}
	default:
		info := l.info()
		if reason := l.refusal(s.now()); reason != "" {
			body = map[string]any{"valid": false, "reason": reason, "license": info}
		} else {
			body = map[string]any{"valid": true, "license": info}
		}
	}
	s.mu.Unlock()

	s.reply(w, r, http.StatusOK, body)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	l, found := s.licenses[req.LicenseKey]
	if !found {
		s.mu.Unlock()
		s.fail(w, r, http.StatusNotFound, "NOT_FOUND", "license not found")
		return
	}
	if reason := l.refusal(s.now()); reason != "" {
		s.mu.Unlock()
		s.reply(w, r, http.StatusOK, map[string]any{"success": false, "error": reason})
		return
	}
	if existing := l.active(req.DeviceID); existing != nil {
		id := existing.ID
		s.mu.Unlock()
		if s.strict {
			s.fail(w, r, http.StatusConflict, "ALREADY_ACTIVATED", "device is already activated")
			return
		}
		s.reply(w, r, http.StatusOK, map[string]any{
			"success":           true,
			"device_id":         req.DeviceID,
			"activation_id":     id,
			"already_activated": true,
		})
		return
	}
	if l.ActivationLimit > 0 && l.activeCount() >= l.ActivationLimit {
		limit := l.ActivationLimit
		s.mu.Unlock()
		s.fail(w, r, http.StatusConflict, "ACTIVATION_LIMIT", fmt.Sprintf("activation limit of %d reached", limit))
		return
	}
	s.nextID++
	now := s.now()
	record := &lycento.ActivationRecord{
		ID:          fmt.Sprintf("act-%d", s.nextID),
		DeviceID:    req.DeviceID,
		DeviceName:  req.DeviceName,
		Platform:    req.DevicePlatform,
		Active:      true,
		ActivatedAt: &now,
	}
	l.activations = append(l.activations, record)
	s.mu.Unlock()

	s.reply(w, r, http.StatusOK, map[string]any{
		"success":       true,
		"device_id":     record.DeviceID,
		"activation_id": record.ID,
	})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	l, found := s.licenses[req.LicenseKey]
	if !found {
		s.mu.Unlock()
		s.fail(w, r, http.StatusNotFound, "LICENSE_NOT_FOUND", "license not found")
		return
	}
	record := l.active(req.DeviceID)
	if record == nil {
		s.mu.Unlock()
		s.fail(w, r, http.StatusNotFound, "NOT_ACTIVATED", "device is not activated")
		return
	}
	now := s.now()
	record.Active = false
	record.DeactivatedAt = &now
	s.mu.Unlock()

	s.reply(w, r, http.StatusOK, map[string]any{"success": true, "message": "device deactivated"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	// chi routes on RawPath when it is set, leaving the param escaped.
	key := chi.URLParam(r, "key")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(key)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid license key")
			return
		}
		key = unescaped
	}

	s.mu.Lock()
	l, found := s.licenses[key]
	if !found {
		s.mu.Unlock()
		s.fail(w, r, http.StatusNotFound, "NOT_FOUND", "license not found")
		return
	}
	activations := make([]lycento.ActivationRecord, len(l.activations))
	for i, a := range l.activations {
		activations[i] = *a
	}
	sort.SliceStable(activations, func(i, j int) bool {
		return activations[i].Active && !activations[j].Active
	})
	body := map[string]any{"license": l.info(), "activations": activations}
	s.mu.Unlock()

	s.reply(w, r, http.StatusOK, body)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.reply(w, r, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, status int, body any) {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-r.Context().Done():
			return
		}
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}
