package dialect

import (
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	assertLookup := func(name, expectCanonical string, expectErr bool) {
		d, err := Lookup(name)
		if expectErr {
			if err == nil {
				t.Errorf("Expected Lookup(%q) to return an error, instead found nil", name)
			}
			return
		}
		if err != nil {
			t.Errorf("Expected Lookup(%q) to not return an error, instead found %s", name, err)
			return
		}
		if d.Name() != expectCanonical {
			t.Errorf("Expected Lookup(%q) to resolve to %q, instead found %q", name, expectCanonical, d.Name())
		}
	}

	assertLookup("mysql", "mysql", false)
	assertLookup("MySQL", "mysql", false)
	assertLookup(" mysql ", "mysql", false)
	assertLookup("mariadb", "mysql", false)
	assertLookup("sqlserver", "sqlserver", false)
	assertLookup("mssql", "sqlserver", false)
	assertLookup("postgres", "", true)
	assertLookup("", "", true)
}

func TestSupported(t *testing.T) {
	names := Supported()
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["mysql"] || !found["sqlserver"] {
		t.Errorf("Expected Supported() to include mysql and sqlserver, instead found %v", names)
	}
	if len(names) != 2 {
		t.Errorf("Expected Supported() to return exactly 2 canonical names, instead found %v", names)
	}
}

func TestEscapeIdentifier(t *testing.T) {
	cases := map[string]string{
		"simple":    "`simple`",
		"with`tick": "`with``tick`",
	}
	for input, expect := range cases {
		if actual := EscapeIdentifier(input); actual != expect {
			t.Errorf("Expected EscapeIdentifier(%q) to return %q, instead found %q", input, expect, actual)
		}
	}
}

func TestMySQLCLIArgvPasswordNotInArgv(t *testing.T) {
	d := mysqlDialect{}
	argv, env := d.CLIArgv("user_abc", "db_abc", "s3cr3t", "SELECT 1")
	for _, a := range argv {
		if strings.Contains(a, "s3cr3t") {
			t.Errorf("Expected password to never appear in argv, instead found it in %q", a)
		}
	}
	if len(env) == 0 || !strings.Contains(env[0], "s3cr3t") {
		t.Errorf("Expected password to travel via env, instead found env=%v", env)
	}
}

func TestMySQLIsErrorLine(t *testing.T) {
	d := mysqlDialect{}
	assertErr := func(line string, expect bool) {
		if actual := d.IsErrorLine(line); actual != expect {
			t.Errorf("Expected IsErrorLine(%q) to return %t, instead found %t", line, expect, actual)
		}
	}
	assertErr("ERROR 1064 (42000): syntax error", true)
	assertErr("some error: detail", true)
	assertErr("col1\tcol2", false)
	assertErr("Query OK, 1 row affected", false)
}

func TestSQLServerIsErrorLine(t *testing.T) {
	d := sqlServerDialect{}
	assertErr := func(line string, expect bool) {
		if actual := d.IsErrorLine(line); actual != expect {
			t.Errorf("Expected IsErrorLine(%q) to return %t, instead found %t", line, expect, actual)
		}
	}
	assertErr("Msg 207, Level 16, State 1", true)
	assertErr("Sqlcmd: Error: Syntax error", true)
	assertErr("(1 rows affected)", false)
}

func TestSQLServerSupportsBackupFalse(t *testing.T) {
	d := sqlServerDialect{}
	if d.SupportsBackup() {
		t.Error("Expected sqlserver dialect to not support backup")
	}
	if argv, env := d.DumpArgv("u", "db", "p"); argv != nil || env != nil {
		t.Errorf("Expected DumpArgv to return nil, nil for sqlserver, instead found %v, %v", argv, env)
	}
}

func TestMySQLSupportsBackupTrue(t *testing.T) {
	d := mysqlDialect{}
	if !d.SupportsBackup() {
		t.Error("Expected mysql dialect to support backup")
	}
	argv, _ := d.DumpArgv("u", "db", "p")
	if len(argv) == 0 {
		t.Error("Expected DumpArgv to return a non-empty argv for mysql")
	}
}
