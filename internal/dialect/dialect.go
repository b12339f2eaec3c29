// Package dialect provides the per-engine strategy objects that parameterize
// every lifecycle and query operation in dbctl. A dialect answers, as pure
// functions of (db_name, db_user, db_password, root_password, query), the
// commands needed to provision, query, dump, and restore a logical database
// living inside a shared pool container.
package dialect

import (
	"fmt"
	"strings"
	"time"

	"github.com/skeema/dbctl/internal/apperr"
)

// Dialect is a strategy object for one supported SQL engine family. All
// methods are pure functions of their arguments; no Dialect implementation
// holds connection state or talks to a container directly. Avoid growing an
// inheritance chain here — new engines are added as new implementations of
// this interface, not by subclassing an existing one.
type Dialect interface {
	// Name is the canonical (non-alias) dialect identifier.
	Name() string

	// Image is the container image reference used to boot the pool.
	Image() string

	// DefaultPort is the TCP port the engine listens on inside the container.
	DefaultPort() int

	// StartupTimeout bounds how long to wait for the pool container to
	// become ready after creation.
	StartupTimeout() time.Duration

	// PoolEnv returns the environment pairs ("KEY=VALUE") needed to boot the
	// pool container with the given root password.
	PoolEnv(rootPassword string) []string

	// ExecSQLArgv returns the argv and environment run by `container exec` to
	// apply arbitrary DDL/DQL as the root principal.
	ExecSQLArgv(rootPassword, sql string) (argv, env []string)

	// CreateDatabaseSQL and DropDatabaseSQL return idempotent DDL strings.
	CreateDatabaseSQL(dbName string) string
	DropDatabaseSQL(dbName string) string

	// CreateUserSQL grants the new role full rights on dbName only.
	// DropUserSQL is idempotent.
	CreateUserSQL(user, password, dbName string) string
	DropUserSQL(user string) string

	// CLIArgv returns the argv and environment for a machine-parsable
	// (tab-separated/batch) query invocation. Passwords travel via env, never
	// argv, to avoid process-table leakage and CLI warnings corrupting
	// stdout.
	CLIArgv(dbUser, dbName, password, query string) (argv, env []string)

	// CLIArgvText is the pretty ASCII-table variant used for format=text.
	CLIArgvText(dbUser, dbName, password, query string) (argv, env []string)

	// DumpArgv and RestoreArgv build the commands used for archive/restore.
	// Restore reads SQL from stdin.
	DumpArgv(dbUser, dbName, password string) (argv, env []string)
	RestoreArgv(dbUser, dbName, password string) (argv, env []string)

	// IsErrorLine applies the dialect's error-prefix heuristic to one line of
	// CLI output.
	IsErrorLine(line string) bool

	// SupportsBackup reports whether archive can dump this dialect. If
	// false, archive degrades to destroy.
	SupportsBackup() bool
}

var registry = map[string]Dialect{}

func register(d Dialect, aliases ...string) {
	registry[d.Name()] = d
	for _, alias := range aliases {
		registry[alias] = d
	}
}

func init() {
	register(mysqlDialect{}, "mariadb")
	register(sqlServerDialect{}, "mssql")
}

// Lookup resolves a dialect by name, case-insensitively, honoring aliases
// ("mariadb" -> mysql, "mssql" -> sqlserver). Unknown names fail with
// DialectUnsupported.
func Lookup(name string) (Dialect, error) {
	d, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		detail := fmt.Sprintf("%q is not a supported dialect; supported: %s", name, strings.Join(Supported(), ", "))
		return nil, apperr.New(apperr.DialectUnsupported, detail)
	}
	return d, nil
}

// Supported returns the canonical names of every registered dialect, used by
// the DIALECT_UNSUPPORTED error detail and the OpenAPI document's enum for
// the dialect field.
func Supported() []string {
	seen := map[string]bool{}
	var names []string
	for _, d := range registry {
		if !seen[d.Name()] {
			seen[d.Name()] = true
			names = append(names, d.Name())
		}
	}
	return names
}

// EscapeIdentifier safely quotes a backtick-delimited identifier (table,
// database, or user name) for use in generated DDL. Adapted from the
// teacher's internal/tengo/util.go, which uses the same doubling technique
// for MySQL backtick-quoted identifiers.
func EscapeIdentifier(input string) string {
	escaped := strings.ReplaceAll(input, "`", "``")
	return "`" + escaped + "`"
}
