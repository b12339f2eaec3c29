package metadata

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/skeema/dbctl/internal/apperr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "dbctl.db"))
	if err != nil {
		t.Fatalf("Open returned error: %s", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleInstance(dbID string, now time.Time) *Instance {
	return &Instance{
		DbID:         dbID,
		Dialect:      "mysql",
		DbName:       "db_" + dbID,
		DbUser:       "user_" + dbID,
		DbPassword:   "pwd",
		Status:       StatusActive,
		ContainerID:  sql.NullString{String: "container123", Valid: true},
		HostPort:     sql.NullInt64{Int64: 13306, Valid: true},
		CreatedAt:    now.Format(timeLayout),
		LastActivity: now.Format(timeLayout),
	}
}

func TestInsertAndGetInstance(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	inst := sampleInstance("abc123", now)

	if err := s.InsertInstance(inst); err != nil {
		t.Fatalf("InsertInstance returned error: %s", err)
	}

	fetched, err := s.GetInstance("abc123")
	if err != nil {
		t.Fatalf("GetInstance returned error: %s", err)
	}
	if fetched.DbName != inst.DbName || fetched.Status != StatusActive {
		t.Errorf("Expected fetched instance to match inserted, instead found %+v", fetched)
	}
}

func TestGetInstanceNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetInstance("does-not-exist")
	if !apperr.Is(err, apperr.DbNotFound) {
		t.Errorf("Expected DbNotFound error, instead found %v", err)
	}
}

func TestMarkArchivedThenActive(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	inst := sampleInstance("arch1", now)
	if err := s.InsertInstance(inst); err != nil {
		t.Fatalf("InsertInstance returned error: %s", err)
	}

	if err := s.MarkArchived("arch1", "backups/arch1/20260101_000000.sql.gz", 4096, now); err != nil {
		t.Fatalf("MarkArchived returned error: %s", err)
	}
	archived, err := s.GetInstance("arch1")
	if err != nil {
		t.Fatalf("GetInstance returned error: %s", err)
	}
	if archived.Status != StatusArchived {
		t.Errorf("Expected status archived, instead found %s", archived.Status)
	}
	if archived.ContainerID.Valid {
		t.Errorf("Expected container_id to be null after archive, instead found %v", archived.ContainerID)
	}
	if !archived.BackupKey.Valid || archived.BackupKey.String == "" {
		t.Errorf("Expected backup_key to be set after archive, instead found %v", archived.BackupKey)
	}

	if err := s.MarkActive("arch1", "newcontainer", 13307, now); err != nil {
		t.Fatalf("MarkActive returned error: %s", err)
	}
	active, err := s.GetInstance("arch1")
	if err != nil {
		t.Fatalf("GetInstance returned error: %s", err)
	}
	if active.Status != StatusActive {
		t.Errorf("Expected status active, instead found %s", active.Status)
	}
	if active.ArchivedAt.Valid {
		t.Errorf("Expected archived_at to be cleared, instead found %v", active.ArchivedAt)
	}
}

func TestGetExpiredInstances(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	stale := sampleInstance("stale1", now.Add(-2*time.Hour))
	fresh := sampleInstance("fresh1", now)
	if err := s.InsertInstance(stale); err != nil {
		t.Fatalf("InsertInstance returned error: %s", err)
	}
	if err := s.InsertInstance(fresh); err != nil {
		t.Fatalf("InsertInstance returned error: %s", err)
	}

	expired, err := s.GetExpiredInstances(30*time.Minute, now)
	if err != nil {
		t.Fatalf("GetExpiredInstances returned error: %s", err)
	}
	if len(expired) != 1 || expired[0].DbID != "stale1" {
		t.Errorf("Expected exactly stale1 to be expired, instead found %+v", expired)
	}
}

func TestPoolContainerUpsert(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	if err := s.UpsertPool("mysql", "c1", 13306, "rootpw1", now); err != nil {
		t.Fatalf("UpsertPool returned error: %s", err)
	}
	pc, err := s.GetPool("mysql")
	if err != nil {
		t.Fatalf("GetPool returned error: %s", err)
	}
	if pc == nil || pc.ContainerID != "c1" || pc.RootPassword != "rootpw1" {
		t.Fatalf("Expected pool container c1 with root password rootpw1, instead found %+v", pc)
	}

	if err := s.UpsertPool("mysql", "c2", 13307, "rootpw2", now); err != nil {
		t.Fatalf("UpsertPool (update) returned error: %s", err)
	}
	pc, err = s.GetPool("mysql")
	if err != nil {
		t.Fatalf("GetPool returned error: %s", err)
	}
	if pc.ContainerID != "c2" || pc.HostPort != 13307 || pc.RootPassword != "rootpw2" {
		t.Errorf("Expected upsert to update existing row, instead found %+v", pc)
	}

	missing, err := s.GetPool("sqlserver")
	if err != nil {
		t.Fatalf("GetPool returned error: %s", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unknown dialect, instead found %+v", missing)
	}
}
