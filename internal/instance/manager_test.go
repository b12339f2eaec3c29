package instance

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skeema/dbctl/internal/apperr"
	"github.com/skeema/dbctl/internal/containerdriver"
	"github.com/skeema/dbctl/internal/metadata"
	"github.com/skeema/dbctl/internal/query"
)

func TestDeriveCredentials(t *testing.T) {
	dbName, dbUser, dbPassword := deriveCredentials("abcd1234-ef56-7890-abcd-1234567890ab")

	if !strings.HasPrefix(dbName, "db_") {
		t.Errorf("dbName %q does not have db_ prefix", dbName)
	}
	if strings.Contains(dbName, "-") {
		t.Errorf("dbName %q retains hyphens from the id", dbName)
	}
	if !strings.HasPrefix(dbUser, "user_") {
		t.Errorf("dbUser %q does not have user_ prefix", dbUser)
	}
	assertPasswordComplexity(t, dbPassword)
}

func TestDeriveCredentialsShortID(t *testing.T) {
	// A shorter-than-8-char id must not panic slicing the username prefix.
	dbName, dbUser, _ := deriveCredentials("ab")
	if dbName != "db_ab" {
		t.Errorf("expected db_ab, got %q", dbName)
	}
	if dbUser != "user_ab" {
		t.Errorf("expected user_ab, got %q", dbUser)
	}
}

func TestGenerateRootPassword(t *testing.T) {
	assertPasswordComplexity(t, generateRootPassword())
}

func assertPasswordComplexity(t *testing.T, pwd string) {
	t.Helper()
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range pwd {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if !(hasUpper && hasLower && hasDigit && hasSymbol) {
		t.Errorf("password %q does not satisfy the upper/lower/digit/symbol complexity rule", pwd)
	}
}

func TestPoolContainerName(t *testing.T) {
	if got := poolContainerName("mysql"); got != "dbctl-pool-mysql" {
		t.Errorf("expected dbctl-pool-mysql, got %q", got)
	}
}

// fakeDriver simulates the container daemon in memory: EnsurePoolContainer
// "boots" a container with ID pool-<dialect>, every exec succeeds with exit 0,
// and Remove simply forgets the container.
type fakeDriver struct {
	mu        sync.Mutex
	running   map[string]bool
	removed   []string
	execCount int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{running: map[string]bool{}}
}

func (f *fakeDriver) EnsurePoolContainer(spec containerdriver.PoolSpec) (*containerdriver.PoolContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "pool-" + spec.Dialect
	f.running[id] = true
	return &containerdriver.PoolContainer{ID: id, Name: spec.Name, HostPort: 13306}, nil
}

func (f *fakeDriver) Exec(ctx context.Context, containerID string, argv, env []string, stdin io.Reader) (containerdriver.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCount++
	return containerdriver.ExecResult{ExitCode: 0, Stdout: "-- dump --\n"}, nil
}

func (f *fakeDriver) IsRunning(containerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[containerID], nil
}

func (f *fakeDriver) Remove(containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, containerID)
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeDriver) ListPoolContainers() ([]containerdriver.PoolContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []containerdriver.PoolContainerInfo
	for id, running := range f.running {
		infos = append(infos, containerdriver.PoolContainerInfo{
			ID:        id,
			Dialect:   strings.TrimPrefix(id, "pool-"),
			HostPort:  13306,
			IsRunning: running,
		})
	}
	return infos, nil
}

func (f *fakeDriver) ListNamedContainers(prefix string) ([]containerdriver.NamedContainer, error) {
	return nil, nil
}

// fakeBackup keeps uploaded dumps in a map, keyed the same way the real
// store keys them.
type fakeBackup struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBackup() *fakeBackup {
	return &fakeBackup{objects: map[string][]byte{}}
}

func (f *fakeBackup) Upload(ctx context.Context, dbID string, sqlDump []byte, now time.Time) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("backups/%s/%s.sql.gz", dbID, now.UTC().Format("20060102_150405"))
	f.objects[key] = sqlDump
	return key, int64(len(sqlDump)), nil
}

func (f *fakeBackup) Download(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dump, ok := f.objects[key]
	if !ok {
		return nil, apperr.New(apperr.BackupNotFound, key)
	}
	return dump, nil
}

func newTestManager(t *testing.T, backupStore BackupStore) (*Manager, *fakeDriver, *metadata.Store) {
	t.Helper()
	store, err := metadata.Open(filepath.Join(t.TempDir(), "dbctl.db"))
	if err != nil {
		t.Fatalf("metadata.Open returned error: %s", err)
	}
	t.Cleanup(func() { store.Close() })
	driver := newFakeDriver()
	m := New(driver, store, backupStore, query.NewExecutor(driver), 512)
	return m, driver, store
}

func TestGetOrCreateFresh(t *testing.T) {
	m, driver, store := newTestManager(t, nil)
	ctx := context.Background()

	inst, restored, err := m.GetOrCreate(ctx, "mysql", "")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %s", err)
	}
	if restored {
		t.Error("Expected restored=false for a fresh create")
	}
	if inst.Status != metadata.StatusActive {
		t.Errorf("Expected status active, instead found %s", inst.Status)
	}
	if !inst.ContainerID.Valid || inst.ContainerID.String != "pool-mysql" {
		t.Errorf("Expected instance to point at the pool container, instead found %v", inst.ContainerID)
	}

	// Cache/metadata invariant: the cached copy must be Active in metadata.
	stored, err := store.GetInstance(inst.DbID)
	if err != nil {
		t.Fatalf("GetInstance returned error: %s", err)
	}
	if stored.Status != metadata.StatusActive {
		t.Errorf("Expected metadata status active, instead found %s", stored.Status)
	}

	pool, err := store.GetPool("mysql")
	if err != nil || pool == nil {
		t.Fatalf("Expected a pool record for mysql, instead found %+v (err %v)", pool, err)
	}
	if running, _ := driver.IsRunning(pool.ContainerID); !running {
		t.Error("Expected the pool container to be running after create")
	}
}

func TestGetOrCreateExistingActive(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	first, _, err := m.GetOrCreate(ctx, "mysql", "fixed-id-1234")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %s", err)
	}
	second, restored, err := m.GetOrCreate(ctx, "mysql", "fixed-id-1234")
	if err != nil {
		t.Fatalf("second GetOrCreate returned error: %s", err)
	}
	if restored {
		t.Error("Expected restored=false when the instance is already active")
	}
	if second.DbName != first.DbName || second.DbPassword != first.DbPassword {
		t.Errorf("Expected the same instance back, instead found %+v vs %+v", first, second)
	}
}

func TestGetOrCreateRestoringConflict(t *testing.T) {
	m, _, store := newTestManager(t, nil)
	now := time.Now()
	inst := &metadata.Instance{
		DbID: "rst1", Dialect: "mysql", DbName: "db_rst1", DbUser: "user_rst1",
		DbPassword: "pwd", Status: metadata.StatusRestoring,
		CreatedAt: now.Format(time.RFC3339Nano), LastActivity: now.Format(time.RFC3339Nano),
	}
	if err := store.InsertInstance(inst); err != nil {
		t.Fatalf("InsertInstance returned error: %s", err)
	}

	_, _, err := m.GetOrCreate(context.Background(), "mysql", "rst1")
	if !apperr.Is(err, apperr.RestoreInProgress) {
		t.Errorf("Expected RestoreInProgress, instead found %v", err)
	}
}

func TestArchiveWithoutBackupDegradesToDestroy(t *testing.T) {
	m, _, store := newTestManager(t, nil)
	ctx := context.Background()

	inst, _, err := m.GetOrCreate(ctx, "mysql", "")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %s", err)
	}
	if err := m.Archive(ctx, inst.DbID); err != nil {
		t.Fatalf("Archive returned error: %s", err)
	}
	if _, err := store.GetInstance(inst.DbID); !apperr.Is(err, apperr.DbNotFound) {
		t.Errorf("Expected the instance to be destroyed when backup is unconfigured, instead found %v", err)
	}
}

func TestArchiveAndRestoreRoundTrip(t *testing.T) {
	bs := newFakeBackup()
	m, _, store := newTestManager(t, bs)
	ctx := context.Background()

	inst, _, err := m.GetOrCreate(ctx, "mysql", "round-trip-1")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %s", err)
	}

	if err := m.Archive(ctx, inst.DbID); err != nil {
		t.Fatalf("Archive returned error: %s", err)
	}
	archived, err := store.GetInstance(inst.DbID)
	if err != nil {
		t.Fatalf("GetInstance returned error: %s", err)
	}
	if archived.Status != metadata.StatusArchived {
		t.Fatalf("Expected status archived, instead found %s", archived.Status)
	}
	if archived.ContainerID.Valid {
		t.Error("Expected container_id to be null after archive")
	}
	if !archived.BackupKey.Valid {
		t.Fatal("Expected backup_key to be set after archive")
	}
	if dump, err := bs.Download(ctx, archived.BackupKey.String); err != nil || len(dump) == 0 {
		t.Errorf("Expected a non-empty dump at the backup key, instead found %q (err %v)", dump, err)
	}
	if _, err := m.Get(inst.DbID); !apperr.Is(err, apperr.DbNotFound) {
		t.Errorf("Expected Get on an archived instance to report DbNotFound, instead found %v", err)
	}

	restoredInst, restored, err := m.GetOrCreate(ctx, "mysql", inst.DbID)
	if err != nil {
		t.Fatalf("GetOrCreate (restore) returned error: %s", err)
	}
	if !restored {
		t.Error("Expected restored=true for an archived instance")
	}
	if restoredInst.Status != metadata.StatusActive {
		t.Errorf("Expected status active after restore, instead found %s", restoredInst.Status)
	}
	if restoredInst.DbName != inst.DbName || restoredInst.DbUser != inst.DbUser || restoredInst.DbPassword != inst.DbPassword {
		t.Errorf("Expected the restored instance to keep its identity, instead found %+v", restoredInst)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	inst, _, err := m.GetOrCreate(ctx, "mysql", "")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %s", err)
	}
	if err := m.Destroy(inst.DbID); err != nil {
		t.Fatalf("Destroy returned error: %s", err)
	}
	if err := m.Destroy(inst.DbID); !apperr.Is(err, apperr.DbNotFound) {
		t.Errorf("Expected a second Destroy to return DbNotFound, instead found %v", err)
	}
}

func TestRecoverExistingInstances(t *testing.T) {
	m, driver, store := newTestManager(t, nil)
	now := time.Now()

	// Pool record whose container is "running" in the fake driver.
	driver.running["pool-mysql"] = true
	if err := store.UpsertPool("mysql", "pool-mysql", 13306, "rootpw", now); err != nil {
		t.Fatalf("UpsertPool returned error: %s", err)
	}

	active := &metadata.Instance{
		DbID: "rec1", Dialect: "mysql", DbName: "db_rec1", DbUser: "user_rec1",
		DbPassword: "pwd", Status: metadata.StatusActive,
		ContainerID:  sql.NullString{String: "stale-container", Valid: true},
		HostPort:     sql.NullInt64{Int64: 9999, Valid: true},
		CreatedAt:    now.Format(time.RFC3339Nano),
		LastActivity: now.Format(time.RFC3339Nano),
	}
	if err := store.InsertInstance(active); err != nil {
		t.Fatalf("InsertInstance returned error: %s", err)
	}

	stuck := &metadata.Instance{
		DbID: "rec2", Dialect: "mysql", DbName: "db_rec2", DbUser: "user_rec2",
		DbPassword: "pwd", Status: metadata.StatusRestoring,
		CreatedAt:    now.Format(time.RFC3339Nano),
		LastActivity: now.Format(time.RFC3339Nano),
		BackupKey:    sql.NullString{String: "backups/rec2/20260101_000000.sql.gz", Valid: true},
	}
	if err := store.InsertInstance(stuck); err != nil {
		t.Fatalf("InsertInstance returned error: %s", err)
	}

	count, err := m.RecoverExistingInstances(context.Background())
	if err != nil {
		t.Fatalf("RecoverExistingInstances returned error: %s", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 instance restored to cache, instead found %d", count)
	}

	recovered, err := m.Get("rec1")
	if err != nil {
		t.Fatalf("Get after recovery returned error: %s", err)
	}
	if recovered.ContainerID.String != "pool-mysql" {
		t.Errorf("Expected the recovered instance to point at the current pool, instead found %v", recovered.ContainerID)
	}

	repaired, err := store.GetInstance("rec2")
	if err != nil {
		t.Fatalf("GetInstance returned error: %s", err)
	}
	if repaired.Status != metadata.StatusArchived {
		t.Errorf("Expected a Restoring row to be demoted to Archived on startup, instead found %s", repaired.Status)
	}
}

func TestConcurrentColdCreatesShareOnePool(t *testing.T) {
	m, driver, store := newTestManager(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*metadata.Instance, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = m.GetOrCreate(ctx, "sqlserver", "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("GetOrCreate #%d returned error: %s", i, errs[i])
		}
	}
	if results[0].ContainerID.String != results[1].ContainerID.String {
		t.Errorf("Expected both instances to share one pool container, instead found %q and %q",
			results[0].ContainerID.String, results[1].ContainerID.String)
	}
	pools, err := store.ListPools()
	if err != nil {
		t.Fatalf("ListPools returned error: %s", err)
	}
	if len(pools) != 1 {
		t.Errorf("Expected exactly one pool record, instead found %d", len(pools))
	}
	if len(driver.running) != 1 {
		t.Errorf("Expected exactly one running container, instead found %v", driver.running)
	}
}

func TestSweepOnceDestroysExpiredWithoutBackup(t *testing.T) {
	m, _, store := newTestManager(t, nil)
	ctx := context.Background()

	inst, _, err := m.GetOrCreate(ctx, "mysql", "")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %s", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := store.TouchActivity(inst.DbID, old); err != nil {
		t.Fatalf("TouchActivity returned error: %s", err)
	}

	swept, err := m.sweepOnce(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("sweepOnce returned error: %s", err)
	}
	if swept != 1 {
		t.Errorf("Expected 1 swept instance, instead found %d", swept)
	}
	if _, err := store.GetInstance(inst.DbID); !apperr.Is(err, apperr.DbNotFound) {
		t.Errorf("Expected the expired instance to be gone, instead found %v", err)
	}
}
