package activationlog

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entryKey struct {
	licenseKey string
	deviceID   string
}

// MemoryJournal is a process-local Journal. Entries are lost on exit.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[entryKey]Entry
	now     func() time.Time
}

// MemoryOption configures a MemoryJournal.
type MemoryOption func(*MemoryJournal)

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(j *MemoryJournal) {
		j.now = now
	}
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal(opts ...MemoryOption) *MemoryJournal {
	j := &MemoryJournal{
		entries: make(map[entryKey]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *MemoryJournal) Begin(_ context.Context, e Entry) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	k := entryKey{e.LicenseKey, e.DeviceID}
	e.CreatedAt = now
	if prev, ok := j.entries[k]; ok {
		e.CreatedAt = prev.CreatedAt
		if e.ActivationID == "" {
			e.ActivationID = prev.ActivationID
		}
		if e.RequestID == "" {
			e.RequestID = prev.RequestID
		}
	}
	e.State = StatePending
	e.Reason = ""
	e.UpdatedAt = now
	j.entries[k] = e
	return &e, nil
}

func (j *MemoryJournal) Resolve(_ context.Context, licenseKey, deviceID string, u Update) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	k := entryKey{licenseKey, deviceID}
	e, ok := j.entries[k]
	if !ok {
		return nil, ErrEntryNotFound
	}
	e.State = u.State
	e.Reason = u.Reason
	if u.ActivationID != "" {
		e.ActivationID = u.ActivationID
	}
	if u.RequestID != "" {
		e.RequestID = u.RequestID
	}
	e.UpdatedAt = j.now()
	j.entries[k] = e
	return &e, nil
}

func (j *MemoryJournal) Get(_ context.Context, licenseKey, deviceID string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[entryKey{licenseKey, deviceID}]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (j *MemoryJournal) List(_ context.Context, licenseKey string) ([]Entry, error) {
	return j.collect(func(e Entry) bool { return e.LicenseKey == licenseKey }), nil
}

func (j *MemoryJournal) Uncertain(_ context.Context) ([]Entry, error) {
	return j.collect(func(e Entry) bool { return e.State.NeedsReconcile() }), nil
}

func (j *MemoryJournal) Prune(_ context.Context, licenseKey string, olderThan time.Duration) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.now().Add(-olderThan)
	removed := 0
	for k, e := range j.entries {
		if e.LicenseKey == licenseKey && e.State.Terminal() && e.UpdatedAt.Before(cutoff) {
			delete(j.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (j *MemoryJournal) Close(_ context.Context) error {
	return nil
}

func (j *MemoryJournal) collect(match func(Entry) bool) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Entry
	for _, e := range j.entries {
		if match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		if out[a].LicenseKey != out[b].LicenseKey {
			return out[a].LicenseKey < out[b].LicenseKey
		}
		return out[a].DeviceID < out[b].DeviceID
	})
	return out
}
