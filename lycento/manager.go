package lycento

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lycento/lycento-sdk-go/lycento/activationlog"
)

// Manager wraps a Client with an activation journal. Every activation is
// recorded as pending before the request is sent and resolved from the
// observed outcome, so activations lost to a timeout stay visible and can
// be settled later with Reconcile.
type Manager struct {
	client  *Client
	journal activationlog.Journal
	logger  *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithJournal sets the activation journal. Default: an in-memory journal.
func WithJournal(j activationlog.Journal) ManagerOption {
	return func(m *Manager) {
		m.journal = j
	}
}

// WithManagerLogger sets the logger. Default: the client's logger.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager around client.
func NewManager(client *Client, opts ...ManagerOption) *Manager {
	m := &Manager{client: client, logger: client.logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.journal == nil {
		m.journal = activationlog.NewMemoryJournal()
	}
	return m
}

// Client returns the wrapped client.
func (m *Manager) Client() *Client {
	return m.client
}

// Journal returns the activation journal.
func (m *Manager) Journal() activationlog.Journal {
	return m.journal
}

// Activate activates key like Client.ActivateLicenseWithOptions and records
// the outcome. Timeouts, connection failures, 5xx answers and undecodable
// answers leave the entry uncertain; refusals mark it failed.
func (m *Manager) Activate(ctx context.Context, key string, opts ActivateOptions) (*ActivationResult, error) {
	if err := checkKey(key); err != nil {
		return nil, wrapError(OpActivate, "", err)
	}
	target, err := m.client.activationTarget(key, opts)
	if err != nil {
		return nil, wrapError(OpActivate, "", err)
	}
	opts.DeviceID = target.DeviceID
	opts.DeviceName = target.DeviceName
	opts.Platform = target.DevicePlatform

	if _, err := m.journal.Begin(ctx, activationlog.Entry{
		LicenseKey: key,
		DeviceID:   target.DeviceID,
		DeviceName: target.DeviceName,
		Platform:   target.DevicePlatform.String(),
	}); err != nil {
		return nil, fmt.Errorf("journal activation: %w", err)
	}

	res, actErr := m.client.ActivateLicenseWithOptions(ctx, key, opts)
	update := activationOutcome(res, actErr)
	if _, err := m.journal.Resolve(context.WithoutCancel(ctx), key, target.DeviceID, update); err != nil {
		m.logger.Error("failed to record activation outcome",
			zap.String("license_key", maskKey(key)),
			zap.String("device_id", target.DeviceID),
			zap.String("state", string(update.State)),
			zap.Error(err),
		)
	}
	return res, actErr
}

func activationOutcome(res *ActivationResult, err error) activationlog.Update {
	var lerr *Error
	if errors.As(err, &lerr) {
		u := activationlog.Update{RequestID: lerr.RequestID, Reason: lerr.Err.Error()}
		switch {
		case errors.Is(err, ErrAlreadyActivated):
			u.State = activationlog.StateActive
		case outcomeUnknown(err):
			u.State = activationlog.StateUncertain
		default:
			u.State = activationlog.StateFailed
		}
		return u
	}
	if err != nil {
		return activationlog.Update{State: activationlog.StateUncertain, Reason: err.Error()}
	}
	if !res.Success {
		return activationlog.Update{State: activationlog.StateFailed, Reason: res.Reason}
	}
	return activationlog.Update{State: activationlog.StateActive, ActivationID: res.ActivationID}
}

// outcomeUnknown reports whether the server may have applied a request that
// failed with err.
func outcomeUnknown(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch te.Code {
	case TransportTimeout, TransportConnectionFailed, TransportDecodeFailed:
		return true
	default:
		return te.StatusCode >= 500
	}
}

// Deactivate deactivates deviceID and records it. ErrNotActivated is still
// returned, but the entry is marked deactivated since the server holds no
// activation for the device.
func (m *Manager) Deactivate(ctx context.Context, key, deviceID string) (*DeactivationResult, error) {
	res, err := m.client.DeactivateLicense(ctx, key, deviceID)
	var update activationlog.Update
	switch {
	case err == nil && res.Success:
		update = activationlog.Update{State: activationlog.StateDeactivated}
	case errors.Is(err, ErrNotActivated):
		update = activationlog.Update{State: activationlog.StateDeactivated, Reason: "not activated on server"}
	default:
		return res, err
	}
	if _, jerr := m.journal.Resolve(context.WithoutCancel(ctx), key, deviceID, update); jerr != nil && !errors.Is(jerr, activationlog.ErrEntryNotFound) {
		m.logger.Error("failed to record deactivation",
			zap.String("license_key", maskKey(key)),
			zap.String("device_id", deviceID),
			zap.Error(jerr),
		)
	}
	return res, err
}

// Reconcile settles pending and uncertain entries against the service's
// activation records. It returns the entries it resolved. Entries whose
// license cannot be queried are left unchanged and reported in the error.
func (m *Manager) Reconcile(ctx context.Context) ([]activationlog.Entry, error) {
	open, err := m.journal.Uncertain(ctx)
	if err != nil {
		return nil, fmt.Errorf("list uncertain activations: %w", err)
	}

	details := make(map[string]*LicenseDetails)
	var resolved []activationlog.Entry
	var errs []error
	for _, e := range open {
		d, ok := details[e.LicenseKey]
		if !ok {
			d, err = m.client.LicenseDetails(ctx, e.LicenseKey)
			if errors.Is(err, ErrLicenseNotFound) {
				// An empty LicenseDetails marks the license as unknown.
				d, err = &LicenseDetails{}, nil
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("reconcile %s: %w", maskKey(e.LicenseKey), err))
				continue
			}
			details[e.LicenseKey] = d
		}

		update, ok := reconcileEntry(e, d)
		if !ok {
			m.logger.Debug("activation still uncertain",
				zap.String("license_key", maskKey(e.LicenseKey)),
				zap.String("device_id", e.DeviceID),
			)
			continue
		}
		out, err := m.journal.Resolve(ctx, e.LicenseKey, e.DeviceID, update)
		if err != nil {
			errs = append(errs, fmt.Errorf("record reconciled activation: %w", err))
			continue
		}
		m.logger.Info("activation reconciled",
			zap.String("license_key", maskKey(e.LicenseKey)),
			zap.String("device_id", e.DeviceID),
			zap.String("state", string(out.State)),
		)
		resolved = append(resolved, *out)
	}
	return resolved, errors.Join(errs...)
}

// reconcileEntry decides the state of e from the service's records. It
// returns false when the records cannot settle it.
func reconcileEntry(e activationlog.Entry, d *LicenseDetails) (activationlog.Update, bool) {
	if d.License.Key == "" && len(d.Activations) == 0 {
		return activationlog.Update{State: activationlog.StateFailed, Reason: "license not found"}, true
	}
	for _, a := range d.Activations {
		if a.DeviceID != e.DeviceID {
			continue
		}
		if a.Active {
			return activationlog.Update{State: activationlog.StateActive, ActivationID: a.ID}, true
		}
	}
	if len(d.Activations) == 0 {
		return activationlog.Update{}, false
	}
	return activationlog.Update{State: activationlog.StateFailed, Reason: "no active activation on server"}, true
}
