// Package instance implements the orchestrator that ties the dialect
// registry, container driver, metadata store, backup store, and query
// executor together into the create/touch/archive/restore/destroy
// lifecycle. Grounded on original_source's db/manager.rs, adapted from its
// one-container-per-instance model to the shared-pool-per-dialect model.
package instance

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/skeema/dbctl/internal/apperr"
	"github.com/skeema/dbctl/internal/containerdriver"
	"github.com/skeema/dbctl/internal/dialect"
	"github.com/skeema/dbctl/internal/metadata"
	"github.com/skeema/dbctl/internal/query"
)

const poolNamePrefix = "dbctl-pool-"

func poolContainerName(dialectName string) string {
	return poolNamePrefix + dialectName
}

// adminTimeout bounds administrative DDL execs (create/drop database/user),
// distinct from the per-query client-facing timeout.
const adminTimeout = 30 * time.Second

// ContainerDriver is the subset of *containerdriver.Driver the manager
// needs, kept as an interface so tests can supply a fake.
type ContainerDriver interface {
	EnsurePoolContainer(spec containerdriver.PoolSpec) (*containerdriver.PoolContainer, error)
	Exec(ctx context.Context, containerID string, argv, env []string, stdin io.Reader) (containerdriver.ExecResult, error)
	IsRunning(containerID string) (bool, error)
	Remove(containerID string) error
	ListPoolContainers() ([]containerdriver.PoolContainerInfo, error)
	ListNamedContainers(prefix string) ([]containerdriver.NamedContainer, error)
}

// BackupStore is the subset of *backup.Store the manager needs.
type BackupStore interface {
	Upload(ctx context.Context, dbID string, sqlDump []byte, now time.Time) (key string, sizeBytes int64, err error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// Manager is the single owner of the instance cache and every metadata,
// container, and backup-store mutation. It must not be copied after first
// use.
type Manager struct {
	driver    ContainerDriver
	store     *metadata.Store
	backup    BackupStore // nil if backup is unconfigured
	queryExec *query.Executor
	memoryMB  int // per-pool-container memory cap; 0 means uncapped

	mu    sync.RWMutex
	cache map[string]*metadata.Instance

	poolGroup   singleflight.Group
	createGroup singleflight.Group
}

// New builds a Manager. backupStore may be nil, in which case archive always
// degrades to destroy regardless of dialect. memoryMB caps every pool
// container's memory the way spec.md §5's "Resource policy" requires; it
// does not limit any individual instance.
func New(driver ContainerDriver, store *metadata.Store, backupStore BackupStore, queryExec *query.Executor, memoryMB int) *Manager {
	return &Manager{
		driver:    driver,
		store:     store,
		backup:    backupStore,
		queryExec: queryExec,
		memoryMB:  memoryMB,
		cache:     make(map[string]*metadata.Instance),
	}
}

func (m *Manager) cacheGet(id string) (*metadata.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.cache[id]
	return inst, ok
}

func (m *Manager) cachePut(inst *metadata.Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[inst.DbID] = inst
}

func (m *Manager) cacheEvict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, id)
}

func (m *Manager) cacheTouch(id string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.cache[id]; ok {
		inst.LastActivity = now.Format(time.RFC3339Nano)
	}
}

// GetOrCreate resolves the decision table in spec.md §4.6: depending on
// whether requestedID is supplied and what (if anything) metadata already
// knows about it, this either creates a fresh instance, returns a cached
// one, reconciles the cache from metadata, or triggers a restore. The
// second return value reports whether a restore occurred.
func (m *Manager) GetOrCreate(ctx context.Context, dialectName, requestedID string) (*metadata.Instance, bool, error) {
	d, err := dialect.Lookup(dialectName)
	if err != nil {
		return nil, false, err
	}

	if requestedID == "" {
		inst, err := m.create(ctx, d, newDbID())
		return inst, false, err
	}

	stored, err := m.store.GetInstance(requestedID)
	if err != nil {
		if apperr.Is(err, apperr.DbNotFound) {
			inst, err := m.create(ctx, d, requestedID)
			return inst, false, err
		}
		return nil, false, err
	}

	switch stored.Status {
	case metadata.StatusActive:
		if cached, ok := m.cacheGet(requestedID); ok {
			return cached, false, nil
		}
		m.cachePut(stored)
		return stored, false, nil
	case metadata.StatusArchived:
		restored, err := m.restore(ctx, stored)
		return restored, true, err
	case metadata.StatusRestoring:
		return nil, false, apperr.New(apperr.RestoreInProgress, requestedID)
	default:
		return nil, false, apperr.New(apperr.Internal, fmt.Sprintf("instance %s has unrecognized status %q", requestedID, stored.Status))
	}
}

func newDbID() string {
	return uuid.NewString()
}

// deriveCredentials derives db_name and db_user from dbID, following
// spec.md §3's derivation rule, and generates a random db_password meeting
// §4.6's password complexity requirement (at least one upper, lower, digit,
// and symbol: the "Pwd" prefix supplies upper and lower case, the "!@#"
// suffix the symbols, and the hex of a version-4 UUID always contains the
// digit 4).
func deriveCredentials(dbID string) (dbName, dbUser, dbPassword string) {
	hexID := strings.ReplaceAll(dbID, "-", "")
	dbName = "db_" + hexID
	prefixLen := 8
	if len(hexID) < prefixLen {
		prefixLen = len(hexID)
	}
	dbUser = "user_" + hexID[:prefixLen]
	dbPassword = "Pwd" + strings.ReplaceAll(uuid.NewString(), "-", "") + "!@#"
	return dbName, dbUser, dbPassword
}

func generateRootPassword() string {
	return "Pwd" + strings.ReplaceAll(uuid.NewString(), "-", "") + "!@#"
}

// create runs the create path from spec.md §4.6: ensure the dialect's pool,
// generate credentials, create the database and user inside the pool
// (rolling back the database on user-creation failure), then persist and
// cache the new Active instance. Concurrent creates for the same id are
// coalesced so a GetOrCreate race against the same requestedID cannot
// double-provision (Open Question #1, resolved via an in-memory keyed
// singleflight group in addition to metadata's own duplicate-key rejection
// on insert).
func (m *Manager) create(ctx context.Context, d dialect.Dialect, id string) (*metadata.Instance, error) {
	v, err, _ := m.createGroup.Do(id, func() (interface{}, error) {
		return m.createLocked(ctx, d, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*metadata.Instance), nil
}

func (m *Manager) createLocked(ctx context.Context, d dialect.Dialect, id string) (*metadata.Instance, error) {
	pool, err := m.ensurePool(ctx, d)
	if err != nil {
		return nil, err
	}

	dbName, dbUser, dbPassword := deriveCredentials(id)

	createDBArgv, createDBEnv := d.ExecSQLArgv(pool.RootPassword, d.CreateDatabaseSQL(dbName))
	if err := m.execAdminSQL(ctx, pool.ContainerID, createDBArgv, createDBEnv); err != nil {
		return nil, apperr.New(apperr.Internal, fmt.Sprintf("create database: %s", err))
	}
	createUserArgv, createUserEnv := d.ExecSQLArgv(pool.RootPassword, d.CreateUserSQL(dbUser, dbPassword, dbName))
	if err := m.execAdminSQL(ctx, pool.ContainerID, createUserArgv, createUserEnv); err != nil {
		dropDBArgv, dropDBEnv := d.ExecSQLArgv(pool.RootPassword, d.DropDatabaseSQL(dbName))
		m.execAdminSQLBestEffort(ctx, pool.ContainerID, dropDBArgv, dropDBEnv)
		return nil, apperr.New(apperr.Internal, fmt.Sprintf("create user: %s", err))
	}

	now := time.Now()
	inst := &metadata.Instance{
		DbID:         id,
		Dialect:      d.Name(),
		DbName:       dbName,
		DbUser:       dbUser,
		DbPassword:   dbPassword,
		Status:       metadata.StatusActive,
		ContainerID:  sql.NullString{String: pool.ContainerID, Valid: true},
		HostPort:     sql.NullInt64{Int64: int64(pool.HostPort), Valid: true},
		CreatedAt:    now.Format(time.RFC3339Nano),
		LastActivity: now.Format(time.RFC3339Nano),
	}
	if err := m.store.InsertInstance(inst); err != nil {
		return nil, err
	}
	m.cachePut(inst)
	return inst, nil
}

// ensurePool implements spec.md §4.6's "Ensure pool" algorithm, coalescing
// concurrent callers for the same dialect through poolGroup (testable
// property S4: two concurrent creates against a cold pool leave exactly one
// container). The returned record's RootPassword comes from metadata, not
// from any in-process cache, so a pool discovered already running (e.g.
// after this process restarted) is immediately usable for further
// provisioning.
func (m *Manager) ensurePool(ctx context.Context, d dialect.Dialect) (*metadata.PoolContainer, error) {
	v, err, _ := m.poolGroup.Do(d.Name(), func() (interface{}, error) {
		return m.ensurePoolLocked(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return v.(*metadata.PoolContainer), nil
}

func (m *Manager) ensurePoolLocked(ctx context.Context, d dialect.Dialect) (*metadata.PoolContainer, error) {
	existing, err := m.store.GetPool(d.Name())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		running, err := m.driver.IsRunning(existing.ContainerID)
		if err != nil {
			return nil, err
		}
		if running {
			return existing, nil
		}
		if err := m.store.DeletePool(d.Name()); err != nil {
			return nil, err
		}
	}

	rootPassword := generateRootPassword()
	spec := containerdriver.PoolSpec{
		Name:         poolContainerName(d.Name()),
		Image:        d.Image(),
		Env:          d.PoolEnv(rootPassword),
		InternalPort: d.DefaultPort(),
		Dialect:      d.Name(),
		MemoryMB:     m.memoryMB,
	}
	pc, err := m.driver.EnsurePoolContainer(spec)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(d.StartupTimeout())
	for {
		argv, env := d.ExecSQLArgv(rootPassword, "SELECT 1")
		execCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		result, execErr := m.driver.Exec(execCtx, pc.ID, argv, env, nil)
		cancel()
		if execErr == nil && result.ExitCode == 0 {
			break
		}
		if time.Now().After(deadline) {
			_ = m.driver.Remove(pc.ID)
			return nil, apperr.New(apperr.Internal, fmt.Sprintf("pool %q failed to become ready within startup timeout", d.Name()))
		}
		time.Sleep(time.Second)
	}

	now := time.Now()
	if err := m.store.UpsertPool(d.Name(), pc.ID, pc.HostPort, rootPassword, now); err != nil {
		return nil, err
	}

	return &metadata.PoolContainer{
		Dialect:      d.Name(),
		ContainerID:  pc.ID,
		HostPort:     pc.HostPort,
		RootPassword: rootPassword,
		CreatedAt:    now.Format(time.RFC3339Nano),
	}, nil
}

func (m *Manager) execAdminSQL(ctx context.Context, containerID string, argv, env []string) error {
	execCtx, cancel := context.WithTimeout(ctx, adminTimeout)
	defer cancel()
	result, err := m.driver.Exec(execCtx, containerID, argv, env, nil)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("exit code %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

func (m *Manager) execAdminSQLBestEffort(ctx context.Context, containerID string, argv, env []string) {
	_ = m.execAdminSQL(ctx, containerID, argv, env)
}

// Touch bumps last_activity for id in both cache and metadata. It is not an
// error for id to be missing from the cache as long as metadata has it;
// missing from both is DbNotFound.
func (m *Manager) Touch(id string) error {
	now := time.Now()
	m.cacheTouch(id, now)
	if _, err := m.store.GetInstance(id); err != nil {
		return err
	}
	return m.store.TouchActivity(id, now)
}

// Get returns an Active instance by id, checking the cache first and
// reconciling from metadata on a cache miss. Archived or Restoring
// instances are reported as DbNotFound to callers of Get; use GetStored to
// see the raw record regardless of status.
func (m *Manager) Get(id string) (*metadata.Instance, error) {
	if cached, ok := m.cacheGet(id); ok {
		return cached, nil
	}
	stored, err := m.store.GetInstance(id)
	if err != nil {
		return nil, err
	}
	if stored.Status != metadata.StatusActive {
		return nil, apperr.New(apperr.DbNotFound, id)
	}
	m.cachePut(stored)
	return stored, nil
}

// GetStored returns the raw metadata record for id regardless of status,
// used by the status endpoint to report backup_available/archived_at even
// for archived instances.
func (m *Manager) GetStored(id string) (*metadata.Instance, error) {
	return m.store.GetInstance(id)
}

// Query runs sql against id's machine-parsable CLI invocation and returns the
// parsed event stream (spec.md §4.5 event mode). Activity is touched before
// the query runs so a long-running query cannot make its own instance expire
// out from under it.
func (m *Manager) Query(ctx context.Context, id, sqlText string) ([]query.Event, error) {
	inst, d, err := m.activeForQuery(id)
	if err != nil {
		return nil, err
	}
	return m.queryExec.Execute(ctx, d, inst.ContainerID.String, inst.DbUser, inst.DbName, inst.DbPassword, sqlText)
}

// QueryRaw runs sql against id's pretty/text CLI invocation and returns
// {stdout, stderr} unmodified (spec.md §4.5 raw mode).
func (m *Manager) QueryRaw(ctx context.Context, id, sqlText string) (stdout, stderr string, err error) {
	inst, d, err := m.activeForQuery(id)
	if err != nil {
		return "", "", err
	}
	return m.queryExec.ExecuteRaw(ctx, d, inst.ContainerID.String, inst.DbUser, inst.DbName, inst.DbPassword, sqlText)
}

func (m *Manager) activeForQuery(id string) (*metadata.Instance, dialect.Dialect, error) {
	inst, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	d, err := dialect.Lookup(inst.Dialect)
	if err != nil {
		return nil, nil, err
	}
	_ = m.Touch(id)
	return inst, d, nil
}

// Archive implements the idle path from spec.md §4.6: dump the instance to
// the backup store, mark it Archived in metadata, then drop its database
// and user from the pool (best effort). If backup is unconfigured or the
// dialect doesn't support it, this degrades to Destroy.
func (m *Manager) Archive(ctx context.Context, id string) error {
	stored, err := m.store.GetInstance(id)
	if err != nil {
		return err
	}
	d, err := dialect.Lookup(stored.Dialect)
	if err != nil {
		return err
	}

	if m.backup == nil || !d.SupportsBackup() {
		return m.Destroy(id)
	}

	pool, err := m.store.GetPool(stored.Dialect)
	if err != nil {
		return err
	}
	if pool == nil {
		return apperr.New(apperr.Internal, fmt.Sprintf("no pool record for dialect %q while archiving %s", stored.Dialect, id))
	}

	argv, env := d.DumpArgv(stored.DbUser, stored.DbName, stored.DbPassword)
	dumpCtx, cancel := context.WithTimeout(ctx, adminTimeout)
	result, execErr := m.driver.Exec(dumpCtx, pool.ContainerID, argv, env, nil)
	cancel()
	if execErr != nil || result.ExitCode != 0 {
		_ = m.Destroy(id)
		return apperr.New(apperr.BackupFailed, id)
	}

	now := time.Now()
	key, size, err := m.backup.Upload(ctx, id, []byte(result.Stdout), now)
	if err != nil {
		return apperr.Wrap(apperr.BackupFailed, err)
	}

	if err := m.store.MarkArchived(id, key, size, now); err != nil {
		return err
	}
	m.cacheEvict(id)

	dropUserArgv, dropUserEnv := d.ExecSQLArgv(pool.RootPassword, d.DropUserSQL(stored.DbUser))
	m.execAdminSQLBestEffort(ctx, pool.ContainerID, dropUserArgv, dropUserEnv)
	dropDBArgv, dropDBEnv := d.ExecSQLArgv(pool.RootPassword, d.DropDatabaseSQL(stored.DbName))
	m.execAdminSQLBestEffort(ctx, pool.ContainerID, dropDBArgv, dropDBEnv)

	return nil
}

// restore implements spec.md §4.6's restore path: flip to Restoring,
// re-create the database/user inside the current pool under the archived
// instance's original credentials, download and replay its dump, then flip
// to Active. Any failure restores the Archived status rather than leaving
// the row stuck in Restoring (Open Question #2 is resolved by startup
// reconciliation additionally demoting any Restoring row found at boot, for
// the case where the process crashes mid-restore).
func (m *Manager) restore(ctx context.Context, stored *metadata.Instance) (*metadata.Instance, error) {
	id := stored.DbID
	if err := m.store.UpdateStatus(id, metadata.StatusRestoring); err != nil {
		return nil, err
	}

	restoreErr := m.restoreBody(ctx, stored)
	if restoreErr != nil {
		_ = m.store.UpdateStatus(id, metadata.StatusArchived)
		return nil, restoreErr
	}
	return m.store.GetInstance(id)
}

func (m *Manager) restoreBody(ctx context.Context, stored *metadata.Instance) error {
	d, err := dialect.Lookup(stored.Dialect)
	if err != nil {
		return err
	}

	pool, err := m.ensurePool(ctx, d)
	if err != nil {
		return err
	}

	recreateDBArgv, recreateDBEnv := d.ExecSQLArgv(pool.RootPassword, d.CreateDatabaseSQL(stored.DbName))
	if err := m.execAdminSQL(ctx, pool.ContainerID, recreateDBArgv, recreateDBEnv); err != nil {
		return apperr.New(apperr.RestoreFailed, fmt.Sprintf("recreate database: %s", err))
	}
	recreateUserArgv, recreateUserEnv := d.ExecSQLArgv(pool.RootPassword, d.CreateUserSQL(stored.DbUser, stored.DbPassword, stored.DbName))
	if err := m.execAdminSQL(ctx, pool.ContainerID, recreateUserArgv, recreateUserEnv); err != nil {
		recreateDropDBArgv, recreateDropDBEnv := d.ExecSQLArgv(pool.RootPassword, d.DropDatabaseSQL(stored.DbName))
		m.execAdminSQLBestEffort(ctx, pool.ContainerID, recreateDropDBArgv, recreateDropDBEnv)
		return apperr.New(apperr.RestoreFailed, fmt.Sprintf("recreate user: %s", err))
	}

	if m.backup == nil || !stored.BackupKey.Valid {
		m.rollbackRestore(ctx, d, pool, stored)
		return apperr.New(apperr.BackupNotFound, stored.DbID)
	}
	dump, err := m.backup.Download(ctx, stored.BackupKey.String)
	if err != nil {
		m.rollbackRestore(ctx, d, pool, stored)
		return err
	}

	argv, env := d.RestoreArgv(stored.DbUser, stored.DbName, stored.DbPassword)
	restoreCtx, cancel := context.WithTimeout(ctx, adminTimeout)
	result, execErr := m.driver.Exec(restoreCtx, pool.ContainerID, argv, env, bytes.NewReader(dump))
	cancel()
	if execErr != nil || result.ExitCode != 0 {
		m.rollbackRestore(ctx, d, pool, stored)
		return apperr.New(apperr.RestoreFailed, stored.DbID)
	}

	if err := m.store.MarkActive(stored.DbID, pool.ContainerID, pool.HostPort, time.Now()); err != nil {
		return err
	}
	refreshed, err := m.store.GetInstance(stored.DbID)
	if err != nil {
		return err
	}
	m.cachePut(refreshed)
	return nil
}

func (m *Manager) rollbackRestore(ctx context.Context, d dialect.Dialect, pool *metadata.PoolContainer, stored *metadata.Instance) {
	dropUserArgv, dropUserEnv := d.ExecSQLArgv(pool.RootPassword, d.DropUserSQL(stored.DbUser))
	m.execAdminSQLBestEffort(ctx, pool.ContainerID, dropUserArgv, dropUserEnv)
	dropDBArgv, dropDBEnv := d.ExecSQLArgv(pool.RootPassword, d.DropDatabaseSQL(stored.DbName))
	m.execAdminSQLBestEffort(ctx, pool.ContainerID, dropDBArgv, dropDBEnv)
}

// Destroy removes an instance's in-pool resources (best effort) and its
// metadata row. It does not delete any backup object. A second Destroy of
// an already-removed id returns DbNotFound without touching the pool.
func (m *Manager) Destroy(id string) error {
	stored, err := m.store.GetInstance(id)
	if err != nil {
		return err
	}
	m.cacheEvict(id)

	if stored.Status == metadata.StatusActive {
		d, dialectErr := dialect.Lookup(stored.Dialect)
		if dialectErr == nil {
			if pool, poolErr := m.store.GetPool(stored.Dialect); poolErr == nil && pool != nil {
				ctx := context.Background()
				dropUserArgv, dropUserEnv := d.ExecSQLArgv(pool.RootPassword, d.DropUserSQL(stored.DbUser))
				m.execAdminSQLBestEffort(ctx, pool.ContainerID, dropUserArgv, dropUserEnv)
				dropDBArgv, dropDBEnv := d.ExecSQLArgv(pool.RootPassword, d.DropDatabaseSQL(stored.DbName))
				m.execAdminSQLBestEffort(ctx, pool.ContainerID, dropDBArgv, dropDBEnv)
			}
		}
	}

	return m.store.DeleteInstance(id)
}

// sweepOnce runs one sweeper tick: every Active instance idle longer than
// timeout is archived, falling back to destroy if archive fails. It returns
// the number of instances it acted on, mainly for test assertions.
func (m *Manager) sweepOnce(ctx context.Context, timeout time.Duration) (int, error) {
	expired, err := m.store.GetExpiredInstances(timeout, time.Now())
	if err != nil {
		return 0, err
	}
	for _, inst := range expired {
		if err := m.Archive(ctx, inst.DbID); err != nil {
			_ = m.Destroy(inst.DbID)
		}
	}
	return len(expired), nil
}

// RunSweeper blocks, running sweepOnce every 60 seconds until ctx is
// canceled. The caller owns the goroutine this runs in; the Manager itself
// holds no reference back to any scheduler, so it can be driven by a test's
// own loop just as easily as by the server's background ticker.
func (m *Manager) RunSweeper(ctx context.Context, inactivityTimeout time.Duration) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = m.sweepOnce(ctx, inactivityTimeout)
		}
	}
}

// RecoverExistingInstances implements spec.md §4.6's startup reconciliation
// and returns the count of instances restored to cache.
//
//  1. Stale pool records (container not running) are deleted.
//  2. Running dbctl-pool-* containers with no metadata record are destroyed;
//     their root password is unrecoverable, so they cannot be reused.
//  3. Active instances: if their dialect's pool is present and running, they
//     are installed into the cache; otherwise they are demoted to Archived
//     (if a backup exists) or deleted outright.
//  4. Any legacy non-pool container (by name prefix) is destroyed.
//
// Restoring rows are demoted to Archived unconditionally, since a crash
// mid-restore leaves no well-defined in-progress state to resume (Open
// Question #2).
func (m *Manager) RecoverExistingInstances(ctx context.Context) (int, error) {
	pools, err := m.store.ListPools()
	if err != nil {
		return 0, err
	}
	runningPools := map[string]*metadata.PoolContainer{}
	for i := range pools {
		pool := pools[i]
		running, err := m.driver.IsRunning(pool.ContainerID)
		if err != nil {
			return 0, err
		}
		if !running {
			if err := m.store.DeletePool(pool.Dialect); err != nil {
				return 0, err
			}
			continue
		}
		runningPools[pool.Dialect] = &pool
	}

	containers, err := m.driver.ListPoolContainers()
	if err != nil {
		return 0, err
	}
	knownContainerIDs := map[string]bool{}
	for _, pool := range runningPools {
		knownContainerIDs[pool.ContainerID] = true
	}
	for _, c := range containers {
		if !knownContainerIDs[c.ID] {
			_ = m.driver.Remove(c.ID)
		}
	}

	// Containers named dbctl-* that don't carry the pool label are leftovers
	// from the historical one-container-per-instance scheme; their databases
	// are unrecoverable, so remove them outright.
	named, err := m.driver.ListNamedContainers("dbctl-")
	if err != nil {
		return 0, err
	}
	for _, c := range named {
		if !c.IsPool {
			_ = m.driver.Remove(c.ID)
		}
	}

	restoring, err := m.store.ListInstancesByStatus(metadata.StatusRestoring)
	if err != nil {
		return 0, err
	}
	for _, inst := range restoring {
		if err := m.store.UpdateStatus(inst.DbID, metadata.StatusArchived); err != nil {
			return 0, err
		}
	}

	active, err := m.store.ListActiveInstances()
	if err != nil {
		return 0, err
	}
	restoredCount := 0
	now := time.Now()
	for i := range active {
		inst := active[i]
		if pool := runningPools[inst.Dialect]; pool != nil {
			// Instance records survive pool replacement: re-point the row at
			// whatever container currently backs the dialect's pool.
			if inst.ContainerID.String != pool.ContainerID {
				if err := m.store.MarkActive(inst.DbID, pool.ContainerID, pool.HostPort, inst.LastActivityTime()); err != nil {
					return restoredCount, err
				}
				inst.ContainerID = sql.NullString{String: pool.ContainerID, Valid: true}
				inst.HostPort = sql.NullInt64{Int64: int64(pool.HostPort), Valid: true}
			}
			m.cachePut(&inst)
			restoredCount++
			continue
		}
		if inst.BackupKey.Valid {
			if err := m.store.MarkArchived(inst.DbID, inst.BackupKey.String, inst.BackupSizeBytes.Int64, now); err != nil {
				return restoredCount, err
			}
		} else {
			if err := m.store.DeleteInstance(inst.DbID); err != nil {
				return restoredCount, err
			}
		}
	}

	return restoredCount, nil
}
