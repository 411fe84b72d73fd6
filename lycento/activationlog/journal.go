// Package activationlog records activation attempts so a host can find and
// reconcile activations whose outcome was never observed, such as a request
// that timed out after the server had already applied it.
package activationlog

import (
	"context"
	"errors"
	"time"
)

// State is the client-observed state of one license/device activation.
type State string

const (
	// StatePending is written before the activation request is sent.
	StatePending State = "pending"
	// StateActive means the service confirmed the activation.
	StateActive State = "active"
	// StateUncertain means the request was sent but no answer was observed.
	StateUncertain State = "uncertain"
	// StateFailed means the service refused the activation.
	StateFailed State = "failed"
	// StateDeactivated means the activation was released.
	StateDeactivated State = "deactivated"
)

// Terminal reports whether s needs no further reconciliation.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateDeactivated
}

// NeedsReconcile reports whether the outcome for s is unknown.
func (s State) NeedsReconcile() bool {
	return s == StatePending || s == StateUncertain
}

// ErrEntryNotFound is returned when no entry exists for a license/device pair.
var ErrEntryNotFound = errors.New("activation entry not found")

// Entry is one license/device activation as recorded by the client.
type Entry struct {
	LicenseKey   string    `json:"license_key" bson:"license_key"`
	DeviceID     string    `json:"device_id" bson:"device_id"`
	DeviceName   string    `json:"device_name,omitempty" bson:"device_name"`
	Platform     string    `json:"platform,omitempty" bson:"platform"`
	ActivationID string    `json:"activation_id,omitempty" bson:"activation_id"`
	RequestID    string    `json:"request_id,omitempty" bson:"request_id"`
	State        State     `json:"state" bson:"state"`
	Reason       string    `json:"reason,omitempty" bson:"reason"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// Update is the outcome written by Resolve. Empty ActivationID and RequestID
// keep the stored values.
type Update struct {
	State        State
	ActivationID string
	RequestID    string
	Reason       string
}

// Journal persists activation entries keyed by (license key, device id).
type Journal interface {
	// Begin creates or resets the entry for e's license/device pair to
	// StatePending. CreatedAt is kept for existing entries, and so are the
	// stored ActivationID and RequestID when e leaves them empty.
	Begin(ctx context.Context, e Entry) (*Entry, error)

	// Resolve records the outcome for an existing entry. It returns
	// ErrEntryNotFound when no entry exists.
	Resolve(ctx context.Context, licenseKey, deviceID string, u Update) (*Entry, error)

	// Get returns one entry or ErrEntryNotFound.
	Get(ctx context.Context, licenseKey, deviceID string) (*Entry, error)

	// List returns all entries for a license key, oldest first.
	List(ctx context.Context, licenseKey string) ([]Entry, error)

	// Uncertain returns every pending or uncertain entry, oldest first.
	Uncertain(ctx context.Context) ([]Entry, error)

	// Prune removes failed and deactivated entries of licenseKey not updated
	// within olderThan. Returns the number of entries removed.
	Prune(ctx context.Context, licenseKey string, olderThan time.Duration) (int, error)

	// Close releases any resources held by the journal.
	Close(ctx context.Context) error
}
