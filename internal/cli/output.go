package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jspreddy/dql/engine"
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// Exit codes for the dql command.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // A statement failed against DynamoDB
	ExitCommandError = 2 // Bad flags, input or statements
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	return ExitFailure
}

// OutputFormatter writes statement results as text or JSON lines.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // defaults to os.Stderr
}

// statusLine is the JSON output of statements that return no rows.
type statusLine struct {
	Action string   `json:"action"`
	Table  string   `json:"table,omitempty"`
	Count  *int64   `json:"count,omitempty"`
	Schema string   `json:"schema,omitempty"`
	Plan   []string `json:"plan,omitempty"`
	File   string   `json:"file,omitempty"`
}

// errorLine is the JSON output of a failed statement.
type errorLine struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result writes res and closes its rows.
func (f *OutputFormatter) Result(res *engine.Result) error {
	if res == nil || res.Action == "" {
		return nil
	}

	if res.Rows != nil {
		defer res.Rows.Close()

		return f.rows(res.Rows)
	}

	if f.Format == "json" {
		return f.status(res)
	}

	switch {
	case res.Plan != nil:
		_, err := fmt.Fprintln(f.Writer, strings.Join(res.Plan, "\n"))
		return err
	case res.Schema != "":
		_, err := fmt.Fprintln(f.Writer, res.Schema)
		return err
	case res.Action == language.ActionLoad:
		_, err := fmt.Fprintf(f.Writer, "%d item(s) loaded from %s\n", res.Count, res.File)
		return err
	case res.File != "":
		_, err := fmt.Fprintf(f.Writer, "%d item(s) saved to %s\n", res.Count, res.File)
		return err
	case res.Action == language.ActionCount:
		_, err := fmt.Fprintln(f.Writer, res.Count)
		return err
	case res.Action == language.ActionInsert, res.Action == language.ActionUpdate, res.Action == language.ActionDelete:
		_, err := fmt.Fprintf(f.Writer, "%d item(s) affected\n", res.Count)
		return err
	}

	return nil
}

// Error reports a failed statement without stopping the output.
func (f *OutputFormatter) Error(err error) {
	w := f.ErrWriter
	if w == nil {
		w = os.Stderr
	}

	if f.Format != "json" {
		fmt.Fprintln(w, err)
		return
	}

	line := errorLine{Code: "Error", Message: err.Error()}

	var typed types.Error
	if errors.As(err, &typed) {
		line.Code = typed.Code()
	}

	_ = json.NewEncoder(w).Encode(line)
}

func (f *OutputFormatter) status(res *engine.Result) error {
	line := statusLine{Action: string(res.Action), Table: res.Table, Schema: res.Schema, Plan: res.Plan, File: res.File}

	switch {
	case res.File != "":
		line.Count = &res.Count
	case res.Action == language.ActionCount, res.Action == language.ActionInsert,
		res.Action == language.ActionUpdate, res.Action == language.ActionDelete:
		line.Count = &res.Count
	}

	return json.NewEncoder(f.Writer).Encode(line)
}

func (f *OutputFormatter) rows(rows *engine.Rows) error {
	enc := json.NewEncoder(f.Writer)

	for rows.Next() {
		record := rows.Record()

		var err error
		if f.Format == "json" {
			err = enc.Encode(toJSON(&types.Map{Value: record}))
		} else {
			_, err = fmt.Fprintln(f.Writer, (&types.Map{Value: record}).Inspect())
		}

		if err != nil {
			return err
		}
	}

	return rows.Err()
}

// toJSON converts a value to its encoding/json form. Numbers keep their
// decimal text and sets become arrays.
func toJSON(v types.Value) any {
	switch val := v.(type) {
	case *types.Number:
		return json.Number(val.Text)
	case *types.String:
		return val.Value
	case *types.Binary:
		return val.Value
	case *types.Boolean:
		return val.Value
	case *types.Null:
		return nil
	case *types.List:
		out := make([]any, 0, len(val.Value))
		for _, elem := range val.Value {
			out = append(out, toJSON(elem))
		}

		return out
	case *types.Map:
		out := make(map[string]any, len(val.Value))
		for k, elem := range val.Value {
			out[k] = toJSON(elem)
		}

		return out
	case *types.StringSet:
		return val.Value
	case *types.NumberSet:
		out := make([]json.Number, 0, len(val.Value))
		for _, n := range val.Value {
			out = append(out, json.Number(n))
		}

		return out
	case *types.BinarySet:
		return val.Value
	}

	return nil
}
