// Package config loads dbctl's runtime configuration from the environment.
// Grounded on original_source's config.rs (Config::from_env, defaults
// applied per-field); translated to Go's os.LookupEnv/strconv idiom since
// neither the teacher nor any other example repo in the retrieved pack
// imports a dedicated environment-config library (env loading is named an
// out-of-scope external collaborator in spec.md §1) — see DESIGN.md.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is dbctl's full runtime configuration.
type Config struct {
	Host                string
	Port                int
	InactivityTimeout   time.Duration
	QueryTimeout        time.Duration
	ContainerMemoryMB   int
	MaxDbSizeMB         int
	MaxConnections      int
	MetadataDBPath      string

	BackupOnExpiry bool
	R2AccountID    string
	R2Bucket       string
	R2AccessKeyID  string
	R2SecretKey    string
}

// FromEnv builds a Config from the process environment, applying the same
// defaults as the original Rust implementation.
func FromEnv() Config {
	return Config{
		Host:              envString("HOST", "0.0.0.0"),
		Port:              envInt("PORT", 8080),
		InactivityTimeout: time.Duration(envInt("INACTIVITY_TIMEOUT_SECS", 1800)) * time.Second,
		QueryTimeout:      time.Duration(envInt("QUERY_TIMEOUT_SECS", 60)) * time.Second,
		ContainerMemoryMB: envInt("CONTAINER_MEMORY_MB", 512),
		MaxDbSizeMB:       envInt("MAX_DB_SIZE_MB", 10),
		MaxConnections:    envInt("MAX_CONNECTIONS", 10),
		MetadataDBPath:    envString("METADATA_DB_PATH", "dbctl.db"),

		BackupOnExpiry: envBool("BACKUP_ON_EXPIRY", false),
		R2AccountID:    envString("R2_ACCOUNT_ID", ""),
		R2Bucket:       envString("R2_BUCKET", ""),
		R2AccessKeyID:  envString("R2_ACCESS_KEY_ID", ""),
		R2SecretKey:    envString("R2_SECRET_ACCESS_KEY", ""),
	}
}

// BackupEnabled reports whether the backup store should be constructed: the
// toggle must be on AND every credential field must be non-empty, per
// spec.md §6.
func (c Config) BackupEnabled() bool {
	return c.BackupOnExpiry &&
		c.R2AccountID != "" &&
		c.R2Bucket != "" &&
		c.R2AccessKeyID != "" &&
		c.R2SecretKey != ""
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
