// Package metadata is the durable system of record for pool containers and
// database instances, backed by an embedded SQLite database. Schema and
// columns follow the original Rust storage/metadata.rs; the open/pragma
// pattern follows hazyhaar-GoClode/internal/core/db.go (modernc.org/sqlite,
// a pure-Go cgo-free driver, WAL mode, a busy timeout).
package metadata

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/skeema/dbctl/internal/apperr"
)

// Status is an Instance's lifecycle state, as defined in spec.md §3.
type Status string

const (
	StatusActive    Status = "active"
	StatusArchived  Status = "archived"
	StatusRestoring Status = "restoring"
)

// Instance is the persisted record for one logical database. Timestamps are
// stored as RFC3339Nano strings rather than time.Time: modernc.org/sqlite
// stores TEXT columns as plain strings and does not reliably round-trip
// time.Time through database/sql's generic Scan path, so parsing is done
// explicitly via the CreatedAtTime/LastActivityTime/ArchivedAtTime helpers.
type Instance struct {
	DbID            string         `db:"db_id"`
	Dialect         string         `db:"dialect"`
	DbName          string         `db:"db_name"`
	DbUser          string         `db:"db_user"`
	DbPassword      string         `db:"db_password"`
	Status          Status         `db:"status"`
	ContainerID     sql.NullString `db:"container_id"`
	HostPort        sql.NullInt64  `db:"host_port"`
	CreatedAt       string         `db:"created_at"`
	LastActivity    string         `db:"last_activity"`
	ArchivedAt      sql.NullString `db:"archived_at"`
	BackupKey       sql.NullString `db:"backup_key"`
	BackupSizeBytes sql.NullInt64  `db:"backup_size_bytes"`
}

// CreatedAtTime parses CreatedAt, returning the zero time if it is malformed.
func (i Instance) CreatedAtTime() time.Time {
	t, _ := time.Parse(timeLayout, i.CreatedAt)
	return t
}

// LastActivityTime parses LastActivity, returning the zero time if it is
// malformed.
func (i Instance) LastActivityTime() time.Time {
	t, _ := time.Parse(timeLayout, i.LastActivity)
	return t
}

// ArchivedAtTime parses ArchivedAt, returning the zero time and false if the
// instance has never been archived.
func (i Instance) ArchivedAtTime() (time.Time, bool) {
	if !i.ArchivedAt.Valid {
		return time.Time{}, false
	}
	t, err := time.Parse(timeLayout, i.ArchivedAt.String)
	return t, err == nil
}

// PoolContainer is the persisted record for one shared per-dialect
// container. RootPassword is generated once on pool creation and never
// rotated for the container's lifetime; reconciliation relies on it being
// persisted here rather than held only in process memory, so a restart can
// recover a still-running pool without losing access to it.
type PoolContainer struct {
	Dialect      string `db:"dialect"`
	ContainerID  string `db:"container_id"`
	HostPort     int    `db:"host_port"`
	RootPassword string `db:"root_password"`
	CreatedAt    string `db:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS instances (
	db_id             TEXT PRIMARY KEY,
	dialect           TEXT NOT NULL,
	db_name           TEXT NOT NULL,
	db_user           TEXT NOT NULL,
	db_password       TEXT NOT NULL,
	status            TEXT NOT NULL,
	container_id      TEXT,
	host_port         INTEGER,
	created_at        TEXT NOT NULL,
	last_activity     TEXT NOT NULL,
	archived_at       TEXT,
	backup_key        TEXT,
	backup_size_bytes INTEGER
);
CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
CREATE INDEX IF NOT EXISTS idx_instances_last_activity ON instances(last_activity);

CREATE TABLE IF NOT EXISTS pool_containers (
	dialect       TEXT PRIMARY KEY,
	container_id  TEXT NOT NULL,
	host_port     INTEGER NOT NULL,
	root_password TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
`

// Store is the metadata system of record. All writes are serialized through
// mu, since SQLite does not tolerate concurrent writers; reads pass through
// freely via the database/sql connection pool.
type Store struct {
	db *sqlx.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}
	if err := db.Ping(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if _, err := db.Exec(schema); err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339Nano

// InsertInstance persists a newly created instance record.
func (s *Store) InsertInstance(inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.NamedExec(`
		INSERT INTO instances
			(db_id, dialect, db_name, db_user, db_password, status, container_id,
			 host_port, created_at, last_activity, archived_at, backup_key, backup_size_bytes)
		VALUES
			(:db_id, :dialect, :db_name, :db_user, :db_password, :status, :container_id,
			 :host_port, :created_at, :last_activity, :archived_at, :backup_key, :backup_size_bytes)
	`, inst)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err)
	}
	return nil
}

// GetInstance fetches an instance by ID. Returns DbNotFound if absent.
func (s *Store) GetInstance(dbID string) (*Instance, error) {
	var inst Instance
	err := s.db.Get(&inst, `SELECT * FROM instances WHERE db_id = ?`, dbID)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.DbNotFound, dbID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}
	return &inst, nil
}

// UpdateStatus transitions an instance's status field.
func (s *Store) UpdateStatus(dbID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE instances SET status = ? WHERE db_id = ?`, status, dbID)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err)
	}
	return nil
}

// TouchActivity bumps last_activity to now, used on every query/status
// touch to reset the idle-expiry clock.
func (s *Store) TouchActivity(dbID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE instances SET last_activity = ? WHERE db_id = ?`, now.Format(timeLayout), dbID)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err)
	}
	return nil
}

// MarkArchived records that an instance's data was persisted to backupKey
// and that it no longer lives in a pool container, nulling
// container_id/host_port and setting archived_at.
func (s *Store) MarkArchived(dbID, backupKey string, backupSizeBytes int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE instances
		SET status = ?, container_id = NULL, host_port = NULL,
		    archived_at = ?, backup_key = ?, backup_size_bytes = ?
		WHERE db_id = ?
	`, StatusArchived, now.Format(timeLayout), backupKey, backupSizeBytes, dbID)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err)
	}
	return nil
}

// MarkActive records that an instance now has a live container again,
// clearing archived_at.
func (s *Store) MarkActive(dbID, containerID string, hostPort int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE instances
		SET status = ?, container_id = ?, host_port = ?, archived_at = NULL, last_activity = ?
		WHERE db_id = ?
	`, StatusActive, containerID, hostPort, now.Format(timeLayout), dbID)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err)
	}
	return nil
}

// DeleteInstance permanently removes an instance's metadata row.
func (s *Store) DeleteInstance(dbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM instances WHERE db_id = ?`, dbID)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err)
	}
	return nil
}

// ListActiveInstances returns every instance currently in the active state,
// used by startup reconciliation.
func (s *Store) ListActiveInstances() ([]Instance, error) {
	var instances []Instance
	err := s.db.Select(&instances, `SELECT * FROM instances WHERE status = ?`, StatusActive)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}
	return instances, nil
}

// ListInstancesByStatus returns every instance in the given status.
func (s *Store) ListInstancesByStatus(status Status) ([]Instance, error) {
	var instances []Instance
	err := s.db.Select(&instances, `SELECT * FROM instances WHERE status = ?`, status)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}
	return instances, nil
}

// GetExpiredInstances returns active instances whose last_activity is older
// than now.Add(-timeout), used by the sweeper.
func (s *Store) GetExpiredInstances(timeout time.Duration, now time.Time) ([]Instance, error) {
	cutoff := now.Add(-timeout).Format(timeLayout)
	var instances []Instance
	err := s.db.Select(&instances, `
		SELECT * FROM instances WHERE status = ? AND last_activity < ?
	`, StatusActive, cutoff)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}
	return instances, nil
}

// UpsertPool records (or updates) the container backing one dialect's pool.
// Updating an existing row overwrites container_id, host_port, and
// root_password with the supplied values; created_at keeps its first value.
func (s *Store) UpsertPool(dialect, containerID string, hostPort int, rootPassword string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO pool_containers (dialect, container_id, host_port, root_password, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dialect) DO UPDATE SET container_id = excluded.container_id, host_port = excluded.host_port,
			root_password = excluded.root_password
	`, dialect, containerID, hostPort, rootPassword, now.Format(timeLayout))
	if err != nil {
		return apperr.Wrap(apperr.Storage, err)
	}
	return nil
}

// GetPool fetches the pool container record for dialect, if any.
func (s *Store) GetPool(dialect string) (*PoolContainer, error) {
	var pc PoolContainer
	err := s.db.Get(&pc, `SELECT * FROM pool_containers WHERE dialect = ?`, dialect)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}
	return &pc, nil
}

// ListPools returns every known pool container record.
func (s *Store) ListPools() ([]PoolContainer, error) {
	var pools []PoolContainer
	err := s.db.Select(&pools, `SELECT * FROM pool_containers`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}
	return pools, nil
}

// DeletePool removes a dialect's pool container record.
func (s *Store) DeletePool(dialect string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM pool_containers WHERE dialect = ?`, dialect)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err)
	}
	return nil
}
