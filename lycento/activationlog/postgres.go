package activationlog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresTable = "lycento_activations"

// validIdentifier matches safe PostgreSQL identifiers (letters, digits, underscores).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const entryColumns = `license_key, device_id, device_name, platform, activation_id,
	request_id, state, reason, created_at, updated_at`

// PostgresOption configures a PostgresJournal.
type PostgresOption func(*PostgresJournal)

// WithTableName sets the PostgreSQL table name. Default: "lycento_activations".
func WithTableName(name string) PostgresOption {
	return func(j *PostgresJournal) {
		j.tableName = name
	}
}

// PostgresJournal implements Journal using PostgreSQL.
type PostgresJournal struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgresJournal creates a PostgreSQL-backed journal.
// It auto-creates the table and indexes on initialization.
func NewPostgresJournal(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresJournal, error) {
	j := &PostgresJournal{
		pool:      pool,
		tableName: defaultPostgresTable,
	}
	for _, opt := range opts {
		opt(j)
	}
	if !validIdentifier.MatchString(j.tableName) {
		return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", j.tableName)
	}
	if err := j.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return j, nil
}

func (j *PostgresJournal) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			license_key   TEXT NOT NULL,
			device_id     TEXT NOT NULL,
			device_name   TEXT NOT NULL DEFAULT '',
			platform      TEXT NOT NULL DEFAULT '',
			activation_id TEXT NOT NULL DEFAULT '',
			request_id    TEXT NOT NULL DEFAULT '',
			state         TEXT NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (license_key, device_id)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_state_created
			ON %s (state, created_at);
	`, j.tableName, j.tableName, j.tableName)
	_, err := j.pool.Exec(ctx, query)
	return err
}

func (j *PostgresJournal) Begin(ctx context.Context, e Entry) (*Entry, error) {
	now := time.Now()
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, $8)
		ON CONFLICT (license_key, device_id) DO UPDATE SET
			device_name = EXCLUDED.device_name,
			platform = EXCLUDED.platform,
			activation_id = COALESCE(NULLIF(EXCLUDED.activation_id, ''), %[1]s.activation_id),
			request_id = COALESCE(NULLIF(EXCLUDED.request_id, ''), %[1]s.request_id),
			state = EXCLUDED.state,
			reason = '',
			updated_at = EXCLUDED.updated_at
		RETURNING %[2]s
	`, j.tableName, entryColumns)

	out, err := scanEntry(j.pool.QueryRow(ctx, query,
		e.LicenseKey, e.DeviceID, e.DeviceName, e.Platform, e.ActivationID, e.RequestID, StatePending, now,
	))
	if err != nil {
		return nil, fmt.Errorf("begin activation entry: %w", err)
	}
	return out, nil
}

func (j *PostgresJournal) Resolve(ctx context.Context, licenseKey, deviceID string, u Update) (*Entry, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET
			state = $3,
			activation_id = COALESCE(NULLIF($4, ''), activation_id),
			request_id = COALESCE(NULLIF($5, ''), request_id),
			reason = $6,
			updated_at = NOW()
		WHERE license_key = $1 AND device_id = $2
		RETURNING %s
	`, j.tableName, entryColumns)

	out, err := scanEntry(j.pool.QueryRow(ctx, query,
		licenseKey, deviceID, u.State, u.ActivationID, u.RequestID, u.Reason,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve activation entry: %w", err)
	}
	return out, nil
}

func (j *PostgresJournal) Get(ctx context.Context, licenseKey, deviceID string) (*Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE license_key = $1 AND device_id = $2`,
		entryColumns, j.tableName)
	out, err := scanEntry(j.pool.QueryRow(ctx, query, licenseKey, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation entry: %w", err)
	}
	return out, nil
}

func (j *PostgresJournal) List(ctx context.Context, licenseKey string) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE license_key = $1 ORDER BY created_at, device_id`,
		entryColumns, j.tableName)
	return j.query(ctx, query, licenseKey)
}

func (j *PostgresJournal) Uncertain(ctx context.Context) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE state IN ($1, $2) ORDER BY created_at, license_key, device_id`,
		entryColumns, j.tableName)
	return j.query(ctx, query, StatePending, StateUncertain)
}

func (j *PostgresJournal) Prune(ctx context.Context, licenseKey string, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	query := fmt.Sprintf(`DELETE FROM %s WHERE license_key = $1 AND state IN ($2, $3) AND updated_at < $4`,
		j.tableName)
	tag, err := j.pool.Exec(ctx, query, licenseKey, StateFailed, StateDeactivated, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune activation entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (j *PostgresJournal) Close(_ context.Context) error {
	return nil // user manages the pgxpool.Pool lifecycle
}

func (j *PostgresJournal) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activation entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activation entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.LicenseKey, &e.DeviceID, &e.DeviceName, &e.Platform, &e.ActivationID,
		&e.RequestID, &e.State, &e.Reason, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
