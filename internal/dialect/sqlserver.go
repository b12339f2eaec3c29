package dialect

import (
	"fmt"
	"strings"
	"time"
)

// sqlServerDialect implements Dialect for SQL Server pool containers.
// Grounded on original_source/src/db/dialects/sqlserver.rs.
type sqlServerDialect struct{}

func (sqlServerDialect) Name() string              { return "sqlserver" }
func (sqlServerDialect) Image() string             { return "mcr.microsoft.com/mssql/server:2022-latest" }
func (sqlServerDialect) DefaultPort() int          { return 1433 }
func (sqlServerDialect) StartupTimeout() time.Duration { return 90 * time.Second }

func (sqlServerDialect) PoolEnv(rootPassword string) []string {
	return []string{"ACCEPT_EULA=Y", "MSSQL_SA_PASSWORD=" + rootPassword}
}

const rootUser = "sa"

func (sqlServerDialect) ExecSQLArgv(rootPassword, sql string) (argv, env []string) {
	argv = []string{
		"/opt/mssql-tools18/bin/sqlcmd",
		"-S", "localhost",
		"-U", rootUser,
		"-Q", sql,
		"-C",
	}
	env = []string{"SQLCMDPASSWORD=" + rootPassword}
	return argv, env
}

func (sqlServerDialect) CreateDatabaseSQL(dbName string) string {
	ident := EscapeSQLServerIdentifier(dbName)
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT name FROM sys.databases WHERE name = N'%s') CREATE DATABASE %s",
		strings.ReplaceAll(dbName, "'", "''"), ident,
	)
}

func (sqlServerDialect) DropDatabaseSQL(dbName string) string {
	ident := EscapeSQLServerIdentifier(dbName)
	return fmt.Sprintf(
		"IF EXISTS (SELECT name FROM sys.databases WHERE name = N'%s') DROP DATABASE %s",
		strings.ReplaceAll(dbName, "'", "''"), ident,
	)
}

func (sqlServerDialect) CreateUserSQL(user, password, dbName string) string {
	userIdent := EscapeSQLServerIdentifier(user)
	dbIdent := EscapeSQLServerIdentifier(dbName)
	escapedPassword := strings.ReplaceAll(password, "'", "''")
	return fmt.Sprintf(
		"USE [master]; IF NOT EXISTS (SELECT name FROM sys.sql_logins WHERE name = N'%s') CREATE LOGIN %s WITH PASSWORD = '%s'; "+
			"USE %s; IF NOT EXISTS (SELECT name FROM sys.database_principals WHERE name = N'%s') CREATE USER %s FOR LOGIN %s; "+
			"ALTER ROLE db_owner ADD MEMBER %s;",
		strings.ReplaceAll(user, "'", "''"), userIdent, escapedPassword,
		dbIdent, strings.ReplaceAll(user, "'", "''"), userIdent, userIdent,
		userIdent,
	)
}

func (sqlServerDialect) DropUserSQL(user string) string {
	userIdent := EscapeSQLServerIdentifier(user)
	return fmt.Sprintf(
		"USE [master]; IF EXISTS (SELECT name FROM sys.sql_logins WHERE name = N'%s') DROP LOGIN %s;",
		strings.ReplaceAll(user, "'", "''"), userIdent,
	)
}

func (sqlServerDialect) CLIArgv(dbUser, dbName, password, query string) (argv, env []string) {
	argv = []string{
		"/opt/mssql-tools18/bin/sqlcmd",
		"-S", "localhost",
		"-U", dbUser,
		"-d", dbName,
		"-Q", query,
		"-s", "\t",
		"-W",
		"-C",
	}
	env = []string{"SQLCMDPASSWORD=" + password}
	return argv, env
}

func (s sqlServerDialect) CLIArgvText(dbUser, dbName, password, query string) (argv, env []string) {
	argv = []string{
		"/opt/mssql-tools18/bin/sqlcmd",
		"-S", "localhost",
		"-U", dbUser,
		"-d", dbName,
		"-Q", query,
		"-C",
	}
	env = []string{"SQLCMDPASSWORD=" + password}
	return argv, env
}

func (sqlServerDialect) DumpArgv(dbUser, dbName, password string) (argv, env []string) {
	// SQL Server has no first-party logical dump/restore CLI equivalent to
	// mysqldump; BACKUP DATABASE writes to the server's filesystem instead of
	// stdout, so dbctl does not support archiving SQL Server instances.
	return nil, nil
}

func (sqlServerDialect) RestoreArgv(dbUser, dbName, password string) (argv, env []string) {
	return nil, nil
}

func (sqlServerDialect) IsErrorLine(line string) bool {
	return strings.Contains(line, "Msg ") || strings.Contains(line, "Error:") || strings.Contains(line, "Sqlcmd: Error:")
}

func (sqlServerDialect) SupportsBackup() bool { return false }

// EscapeSQLServerIdentifier quotes a bracket-delimited identifier for
// SQL Server DDL, doubling any closing brackets already present.
func EscapeSQLServerIdentifier(input string) string {
	escaped := strings.ReplaceAll(input, "]", "]]")
	return "[" + escaped + "]"
}
