// Package query executes ad-hoc SQL against a running instance via
// container exec and parses the CLI's output into typed events. Grounded on
// original_source's db/query.rs (QueryEvent, parse_cli_output, parse_value).
package query

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/skeema/dbctl/internal/apperr"
	"github.com/skeema/dbctl/internal/containerdriver"
	"github.com/skeema/dbctl/internal/dialect"
)

// EventKind tags the variant of an Event.
type EventKind int

const (
	// EventLine is an informational line (e.g. "Query OK, 1 row affected")
	// that isn't part of a result set.
	EventLine EventKind = iota
	// EventRecord is one row of a result set, paired with its column names.
	EventRecord
	// EventError is a line the dialect's error heuristic flagged.
	EventError
	// EventDone signals the end of the stream.
	EventDone
)

// Event is one unit of query output, following the Rust original's
// QueryEvent enum translated to Go's tagged-struct idiom instead of an enum.
type Event struct {
	Kind         EventKind
	Text         string        // EventLine, EventError
	Columns      []string      // EventRecord
	Row          []interface{} // EventRecord, cell values per parseValue
	AffectedRows *int64        // EventDone, nil if unknown
}

// Executor runs queries inside a pool container via an Execer (satisfied by
// *containerdriver.Driver; an interface here so tests can supply a fake).
type Executor struct {
	execer Execer
}

// Execer is the subset of containerdriver.Driver the query executor needs.
type Execer interface {
	Exec(ctx context.Context, containerID string, argv, env []string, stdin io.Reader) (containerdriver.ExecResult, error)
}

// NewExecutor builds an Executor over execer.
func NewExecutor(execer Execer) *Executor {
	return &Executor{execer: execer}
}

// ExecuteRaw runs query in the dialect's pretty/text mode and returns
// {stdout, stderr} unmodified (spec.md §4.5): it does not classify stderr as
// an error, since format=text responses surface stderr to the caller
// verbatim rather than rejecting the request. The only errors returned here
// are exec-level failures (timeout, driver error).
func (e *Executor) ExecuteRaw(ctx context.Context, d dialect.Dialect, containerID, dbUser, dbName, password, query string) (stdout, stderr string, err error) {
	argv, env := d.CLIArgvText(dbUser, dbName, password, query)
	result, err := e.execer.Exec(ctx, containerID, argv, env, nil)
	if err != nil {
		return "", "", translateExecErr(err)
	}
	return result.Stdout, result.Stderr, nil
}

// Execute runs query in the dialect's machine-parsable mode and returns the
// parsed event stream.
func (e *Executor) Execute(ctx context.Context, d dialect.Dialect, containerID, dbUser, dbName, password, query string) ([]Event, error) {
	argv, env := d.CLIArgv(dbUser, dbName, password, query)
	result, err := e.execer.Exec(ctx, containerID, argv, env, nil)
	if err != nil {
		return nil, translateExecErr(err)
	}
	return parseCLIOutput(d, result.Stdout, result.Stderr), nil
}

func translateExecErr(err error) error {
	if apperr.Is(err, apperr.QueryTimeout) {
		return err
	}
	return apperr.Wrap(apperr.DockerError, err)
}

// affectedRowsMarkers are substrings that indicate a CLI status line is
// reporting an affected-row count rather than emitting a data row.
var affectedRowsMarkers = []string{
	"Query OK",
	"rows matched",
	"Rows matched",
	"row(s) affected",
	"rows affected",
}

// parseCLIOutput classifies stderr lines first (each non-empty trimmed line
// becomes an Error or a Line per the dialect's heuristic), then walks stdout
// splitting it into record blocks: status lines become Line events and error
// lines Error events; of the remaining lines, the first of a block is the
// header and subsequent lines are rows, each split on tabs (a line without a
// tab is a single-column header or row), and a blank line ends the block.
// Separator lines made of only dashes, plus signs, spaces, and tabs (sqlcmd's
// underline row) are skipped.
func parseCLIOutput(d dialect.Dialect, stdout, stderr string) []Event {
	var events []Event

	for _, raw := range strings.Split(stderr, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if d.IsErrorLine(line) {
			events = append(events, Event{Kind: EventError, Text: line})
		} else {
			events = append(events, Event{Kind: EventLine, Text: line})
		}
	}

	var columns []string

	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) == "" {
			columns = nil
			continue
		}
		if isSeparatorLine(line) {
			continue
		}
		if isStatusLine(line) {
			events = append(events, Event{Kind: EventLine, Text: line})
			continue
		}
		if d.IsErrorLine(line) {
			events = append(events, Event{Kind: EventError, Text: line})
			continue
		}
		cells := strings.Split(line, "\t")
		if columns == nil {
			columns = cells
			continue
		}
		row := make([]interface{}, len(cells))
		for i, cell := range cells {
			row[i] = parseValue(cell)
		}
		events = append(events, Event{Kind: EventRecord, Columns: columns, Row: row})
	}

	// Done.AffectedRows is always nil: the parser never extracts an
	// affected-row count from text output (spec.md §4.5 rule 5).
	// Integrations that need it read the preceding Line event instead.
	events = append(events, Event{Kind: EventDone})
	return events
}

func isSeparatorLine(line string) bool {
	for _, r := range line {
		switch r {
		case '-', '+', ' ', '\t':
		default:
			return false
		}
	}
	return true
}

func isStatusLine(line string) bool {
	for _, marker := range affectedRowsMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// parseValue converts one tab-separated cell into a typed value following,
// in order: null/empty -> nil, integer -> int64, float -> float64, boolean
// -> bool, else the original string. Integers are checked before booleans,
// so cells "0" and "1" become integers rather than booleans; this is an
// intentional, documented fallthrough (see DESIGN.md) matching the CLI
// tools' own convention of using 0/1 for small integers, not booleans, in
// tab-separated output.
func parseValue(cell string) interface{} {
	if cell == "" || cell == "\\N" || strings.EqualFold(cell, "null") {
		return nil
	}
	if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	switch strings.ToLower(cell) {
	case "true":
		return true
	case "false":
		return false
	}
	return cell
}
