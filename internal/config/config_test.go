package config

import (
	"testing"
	"time"
)

func clearBackupEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"BACKUP_ON_EXPIRY", "R2_ACCOUNT_ID", "R2_BUCKET", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY"} {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearBackupEnv(t)
	c := FromEnv()
	if c.Host != "0.0.0.0" {
		t.Errorf("Expected default host 0.0.0.0, instead found %q", c.Host)
	}
	if c.Port != 8080 {
		t.Errorf("Expected default port 8080, instead found %d", c.Port)
	}
	if c.InactivityTimeout != 1800*time.Second {
		t.Errorf("Expected default inactivity timeout 1800s, instead found %s", c.InactivityTimeout)
	}
	if c.QueryTimeout != 60*time.Second {
		t.Errorf("Expected default query timeout 60s, instead found %s", c.QueryTimeout)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("QUERY_TIMEOUT_SECS", "30")
	c := FromEnv()
	if c.Port != 9999 {
		t.Errorf("Expected overridden port 9999, instead found %d", c.Port)
	}
	if c.QueryTimeout != 30*time.Second {
		t.Errorf("Expected overridden query timeout 30s, instead found %s", c.QueryTimeout)
	}
}

func TestBackupEnabledRequiresAllFields(t *testing.T) {
	c := Config{BackupOnExpiry: true, R2AccountID: "acct", R2Bucket: "bucket", R2AccessKeyID: "key"}
	if c.BackupEnabled() {
		t.Error("Expected BackupEnabled to be false when R2SecretKey is missing")
	}
	c.R2SecretKey = "secret"
	if !c.BackupEnabled() {
		t.Error("Expected BackupEnabled to be true when toggle on and all fields set")
	}
	c.BackupOnExpiry = false
	if c.BackupEnabled() {
		t.Error("Expected BackupEnabled to be false when toggle off, regardless of fields")
	}
}
