package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/skeema/dbctl/internal/apperr"
	"github.com/skeema/dbctl/internal/query"
)

// errorEnvelope is the shape of every failure response, per spec.md §6.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Code: apperr.Code(err), Message: err.Error()}
	var appErr *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		appErr = e
	}
	if appErr != nil && appErr.Detail != "" {
		body.Detail = appErr.Detail
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// outputFormat is the resolved (format, transport) combination from spec.md
// §6's selection table.
type outputFormat int

const (
	formatJSON outputFormat = iota
	formatText
	formatJSONL
)

// resolveFormat implements spec.md §6's precedence table exactly, including
// the two special cases property 7 calls out: {format:null, transport:"sse"}
// resolves the same as {format:"jsonl"}, and an unrecognized format string
// falls back to json rather than erroring.
func resolveFormat(format, transport string) outputFormat {
	switch format {
	case "text":
		return formatText
	case "json":
		return formatJSON
	case "jsonl":
		return formatJSONL
	}
	if format == "" && transport == "sse" {
		return formatJSONL
	}
	return formatJSON
}

// jsonQueryResponse is the collapsed JSON-array shape spec.md §6 calls for:
// {columns?, rows?, affected_rows?, error?, messages[]}.
type jsonQueryResponse struct {
	Columns      []string        `json:"columns,omitempty"`
	Rows         [][]interface{} `json:"rows,omitempty"`
	AffectedRows *int64          `json:"affected_rows,omitempty"`
	Error        string          `json:"error,omitempty"`
	Messages     []string        `json:"messages"`
}

// collapseEvents folds an event stream into the single JSON object format=json
// responses use.
func collapseEvents(events []query.Event) jsonQueryResponse {
	resp := jsonQueryResponse{Messages: []string{}}
	for _, e := range events {
		switch e.Kind {
		case query.EventRecord:
			if resp.Columns == nil {
				resp.Columns = e.Columns
			}
			resp.Rows = append(resp.Rows, e.Row)
		case query.EventLine:
			resp.Messages = append(resp.Messages, e.Text)
		case query.EventError:
			if resp.Error == "" {
				resp.Error = e.Text
			}
		case query.EventDone:
			resp.AffectedRows = e.AffectedRows
		}
	}
	return resp
}

func eventTypeName(k query.EventKind) string {
	switch k {
	case query.EventLine:
		return "line"
	case query.EventRecord:
		return "record"
	case query.EventError:
		return "error"
	case query.EventDone:
		return "done"
	default:
		return "line"
	}
}

// sseEvent is the JSON payload carried by an SSE "data:" line for one event.
type sseEvent struct {
	Text         string        `json:"text,omitempty"`
	Columns      []string      `json:"columns,omitempty"`
	Row          []interface{} `json:"row,omitempty"`
	AffectedRows *int64        `json:"affected_rows,omitempty"`
}

func writeSSE(w http.ResponseWriter, events []query.Event) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	// A keep-alive comment up front for clients that expect an early byte on
	// the wire. It is the only one sent: the events are already fully
	// collected, so the stream is written in one pass with no periodic
	// keep-alives.
	fmt.Fprint(w, ": keep-alive\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	for _, e := range events {
		payload := sseEvent{Text: e.Text, Columns: e.Columns, Row: e.Row, AffectedRows: e.AffectedRows}
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventTypeName(e.Kind), data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// tableBorder matches a standalone ASCII-table border line such as
// "+----+----+", per spec.md §4.5's raw-mode separator rule.
var tableBorder = regexp.MustCompile(`^\+[-+]*\+$`)

// formatRawText implements spec.md §4.5's response-layer rule for format=text:
// non-empty stderr is prepended, and a literal "---" line is inserted between
// adjacent ASCII-table blocks so multi-statement output is visually delimited.
func formatRawText(stdout, stderr string) string {
	var b strings.Builder
	if strings.TrimSpace(stderr) != "" {
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteString("\n")
		}
	}

	lines := strings.Split(stdout, "\n")
	for i, line := range lines {
		if i > 0 && tableBorder.MatchString(line) && tableBorder.MatchString(lines[i-1]) {
			b.WriteString("---\n")
		}
		b.WriteString(line)
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
