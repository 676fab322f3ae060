package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
	"github.com/roach88/relfill/internal/store"
)

// Error codes raised by the CLI itself. Schema load codes (E001-E006) and
// validation codes (E101-E110) come from the schema package.
const (
	ErrCodeInvalidPayload = "E201" // payload is not a JSON or YAML object
	ErrCodeInvalidTarget  = "E202" // --type missing or unknown, or bad --key
	ErrCodeDatabase       = "E203" // database could not be opened
	ErrCodeStore          = "E204" // store failure outside the fill rules
	ErrCodeWriteFailed    = "E205" // file write error
	ErrCodeTestFailed     = "E206" // one or more scenarios failed
)

// loadSchema loads the schema at path and, on failure, reports the problem
// through formatter. The returned error carries the exit code: a missing or
// unreadable path is a command error, a schema that does not compile or
// validate is a failure.
func loadSchema(formatter *OutputFormatter, path string) (*schema.Registry, error) {
	reg, err := schema.Load(path)
	if err == nil {
		for _, w := range reg.Warnings() {
			formatter.VerboseLog("warning: %s", w.Message)
		}
		return reg, nil
	}

	loadErr := schema.AsLoadError(err)
	_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
	return nil, WrapExitError(exitCodeForLoad(err), "schema "+path, loadErr)
}

// exitCodeForLoad separates path problems from invalid schemas.
func exitCodeForLoad(err error) int {
	var loadErr *schema.LoadError
	if errors.As(err, &loadErr) {
		switch loadErr.Code {
		case schema.ErrCodeNotFound, schema.ErrCodeScanError, schema.ErrCodeNoFiles:
			return ExitCommandError
		}
	}
	return ExitFailure
}

// openStore opens the database a command writes to. SQLite paths must
// point at an existing directory; the file itself is created on demand.
func openStore(formatter *OutputFormatter, driver, dsn string, reg *schema.Registry) (*store.Store, error) {
	switch driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		msg := fmt.Sprintf("unknown driver %q: must be %s or %s", driver, store.DriverSQLite, store.DriverPostgres)
		_ = formatter.Error(ErrCodeDatabase, msg, nil)
		return nil, NewExitError(ExitCommandError, msg)
	}
	if dsn == "" {
		_ = formatter.Error(ErrCodeDatabase, "--db is required", nil)
		return nil, NewExitError(ExitCommandError, "--db is required")
	}

	formatter.VerboseLog("opening %s database %s", driver, dsn)
	st, err := store.Open(driver, dsn, reg)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return st, nil
}

// readInput reads a file argument, or r when the argument is absent or "-".
func readInput(args []string, r io.Reader) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(r)
	}
	return os.ReadFile(args[0])
}

// parsePayload decodes a payload read by readInput. Files ending in .yaml or
// .yml are YAML; everything else, stdin included, is JSON.
func parsePayload(args []string, data []byte) (ir.IRObject, error) {
	if len(args) == 0 || args[0] == "-" {
		return ir.ParseObject(data)
	}
	switch filepath.Ext(args[0]) {
	case ".yaml", ".yml":
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse YAML payload: %w", err)
		}
		return ir.ObjectFromGo(m)
	default:
		return ir.ParseObject(data)
	}
}
