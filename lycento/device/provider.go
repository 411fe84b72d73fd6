package device

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// OverrideEnvVar replaces derivation entirely when set to a non-empty value.
// Use it for containers or fleets where hardware signals are not stable.
const OverrideEnvVar = "LYCENTO_DEVICE_ID"

// hashDomain versions the derivation. Changing it changes every device id.
const hashDomain = "lycento-device/v1"

// ErrUnavailable is returned when no identity signal could be read.
var ErrUnavailable = errors.New("device identity unavailable")

// Source is one locally observable, non-secret system signal.
type Source interface {
	Name() string
	Read() (string, error)
}

type funcSource struct {
	name string
	read func() (string, error)
}

func (s funcSource) Name() string          { return s.name }
func (s funcSource) Read() (string, error) { return s.read() }

// NewSource adapts a function into a Source.
func NewSource(name string, read func() (string, error)) Source {
	return funcSource{name: name, read: read}
}

// Diagnostics reports which sources contributed to the last derivation.
type Diagnostics struct {
	Collected []string          `json:"collected"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Provider derives a deterministic device id from its sources. The id is
// computed once per Provider; concurrent first callers share that computation.
type Provider struct {
	sources     []Source
	salt        string
	platform    Platform
	envOverride bool
	logger      *zap.Logger
	attributes  func() map[string]string

	once  sync.Once
	id    string
	err   error
	diag  Diagnostics
	attrs map[string]string
	aOnce sync.Once
}

// Option configures a Provider.
type Option func(*Provider)

// WithSources replaces the default signal sources.
func WithSources(sources ...Source) Option {
	return func(p *Provider) {
		p.sources = sources
	}
}

// WithSalt mixes an application-specific string into the hash so two
// applications on the same machine derive different ids.
func WithSalt(salt string) Option {
	return func(p *Provider) {
		p.salt = salt
	}
}

// WithLogger sets the logger used to report unavailable sources.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithoutEnvOverride ignores LYCENTO_DEVICE_ID.
func WithoutEnvOverride() Option {
	return func(p *Provider) {
		p.envOverride = false
	}
}

// NewProvider creates a Provider using the platform's default sources.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		sources:     DefaultSources(),
		platform:    CurrentPlatform(),
		envOverride: true,
		logger:      zap.NewNop(),
		attributes:  gatherAttributes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the device id, deriving it on first use.
func (p *Provider) ID() (string, error) {
	p.once.Do(p.derive)
	return p.id, p.err
}

// Diagnostics returns the source report of the derivation, deriving first if needed.
func (p *Provider) Diagnostics() Diagnostics {
	p.once.Do(p.derive)
	d := Diagnostics{Collected: append([]string(nil), p.diag.Collected...)}
	if len(p.diag.Failed) > 0 {
		d.Failed = make(map[string]string, len(p.diag.Failed))
		for k, v := range p.diag.Failed {
			d.Failed[k] = v
		}
	}
	return d
}

// Info returns the device id together with best-effort host metadata.
// Metadata failures leave the attribute absent; only an identity failure is returned.
func (p *Provider) Info() (Info, error) {
	id, err := p.ID()
	if err != nil {
		return Info{}, err
	}
	p.aOnce.Do(func() {
		p.attrs = p.attributes()
	})
	attrs := make(map[string]string, len(p.attrs))
	for k, v := range p.attrs {
		attrs[k] = v
	}
	return Info{DeviceID: id, Platform: p.platform, Attributes: attrs}, nil
}

func (p *Provider) derive() {
	if p.envOverride {
		if v := strings.TrimSpace(os.Getenv(OverrideEnvVar)); v != "" {
			p.id = v
			p.diag = Diagnostics{Collected: []string{"env:" + OverrideEnvVar}}
			p.logger.Debug("device id taken from environment", zap.String("env", OverrideEnvVar))
			return
		}
	}

	signals := make(map[string]string, len(p.sources))
	failed := make(map[string]string)
	var errs []error
	for _, src := range p.sources {
		v, err := src.Read()
		v = strings.TrimSpace(v)
		if err == nil && v == "" {
			err = errors.New("empty value")
		}
		if err != nil {
			failed[src.Name()] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			p.logger.Debug("identity source unavailable",
				zap.String("source", src.Name()),
				zap.Error(err),
			)
			continue
		}
		signals[src.Name()] = v
	}

	id, err := Compute(p.platform, p.salt, signals)
	if err != nil {
		p.err = err
		if len(errs) > 0 {
			p.err = fmt.Errorf("%w: %w", err, errors.Join(errs...))
		}
		p.logger.Warn("device identity unavailable", zap.Int("sources", len(p.sources)))
	} else {
		p.id = id
	}

	collected := make([]string, 0, len(signals))
	for name := range signals {
		collected = append(collected, name)
	}
	sort.Strings(collected)
	p.diag = Diagnostics{Collected: collected}
	if len(failed) > 0 {
		p.diag.Failed = failed
	}
	if p.err == nil {
		p.logger.Debug("device id derived",
			zap.String("device_id", p.id),
			zap.Strings("sources", collected),
		)
	}
}

// Compute hashes the given signals into a device id: SHA-256 over the domain,
// platform, salt and the sorted name=value lines, hex-encoded.
// Empty values are ignored; with no usable signal it returns ErrUnavailable.
func Compute(platform Platform, salt string, signals map[string]string) (string, error) {
	lines := make([]string, 0, len(signals))
	for name, value := range signals {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		lines = append(lines, name+"="+value)
	}
	if len(lines) == 0 {
		return "", ErrUnavailable
	}
	sort.Strings(lines)

	h := sha256.New()
	h.Write([]byte(hashDomain + "\n" + string(platform) + "\n" + salt + "\n"))
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil)), nil
}
