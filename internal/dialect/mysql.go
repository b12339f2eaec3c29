package dialect

import (
	"fmt"
	"strings"
	"time"
)

// mysqlDialect implements Dialect for MySQL/MariaDB pool containers.
// Grounded on original_source/src/db/dialects/mysql.rs.
type mysqlDialect struct{}

func (mysqlDialect) Name() string          { return "mysql" }
func (mysqlDialect) Image() string         { return "mysql:8" }
func (mysqlDialect) DefaultPort() int      { return 3306 }
func (mysqlDialect) StartupTimeout() time.Duration { return 60 * time.Second }

func (mysqlDialect) PoolEnv(rootPassword string) []string {
	return []string{"MYSQL_ROOT_PASSWORD=" + rootPassword}
}

func (mysqlDialect) ExecSQLArgv(rootPassword, sql string) (argv, env []string) {
	return []string{"mysql", "-uroot", "-e", sql}, []string{"MYSQL_PWD=" + rootPassword}
}

func (m mysqlDialect) CreateDatabaseSQL(dbName string) string {
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", EscapeIdentifier(dbName))
}

func (m mysqlDialect) DropDatabaseSQL(dbName string) string {
	return fmt.Sprintf("DROP DATABASE IF EXISTS %s", EscapeIdentifier(dbName))
}

func (m mysqlDialect) CreateUserSQL(user, password, dbName string) string {
	escapedUser := strings.ReplaceAll(user, "'", "''")
	escapedPassword := strings.ReplaceAll(password, "'", "''")
	return fmt.Sprintf(
		"CREATE USER IF NOT EXISTS '%s'@'%%' IDENTIFIED BY '%s'; GRANT ALL PRIVILEGES ON %s.* TO '%s'@'%%'; FLUSH PRIVILEGES;",
		escapedUser, escapedPassword, EscapeIdentifier(dbName), escapedUser,
	)
}

func (m mysqlDialect) DropUserSQL(user string) string {
	escapedUser := strings.ReplaceAll(user, "'", "''")
	return fmt.Sprintf("DROP USER IF EXISTS '%s'@'%%';", escapedUser)
}

func (mysqlDialect) CLIArgv(dbUser, dbName, password, query string) (argv, env []string) {
	argv = []string{"mysql", "-u", dbUser, dbName, "-e", query, "--batch", "--raw"}
	env = []string{"MYSQL_PWD=" + password}
	return argv, env
}

func (mysqlDialect) CLIArgvText(dbUser, dbName, password, query string) (argv, env []string) {
	argv = []string{"mysql", "-u", dbUser, dbName, "-e", query, "--table"}
	env = []string{"MYSQL_PWD=" + password}
	return argv, env
}

func (mysqlDialect) DumpArgv(dbUser, dbName, password string) (argv, env []string) {
	argv = []string{"mysqldump", "-u", dbUser, "--single-transaction", "--routines", "--triggers", dbName}
	env = []string{"MYSQL_PWD=" + password}
	return argv, env
}

func (mysqlDialect) RestoreArgv(dbUser, dbName, password string) (argv, env []string) {
	argv = []string{"mysql", "-u", dbUser, dbName}
	env = []string{"MYSQL_PWD=" + password}
	return argv, env
}

func (mysqlDialect) IsErrorLine(line string) bool {
	return strings.HasPrefix(line, "ERROR") || strings.Contains(line, "error:")
}

func (mysqlDialect) SupportsBackup() bool { return true }
