package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relfill/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                     `json:"valid"`
	Types    int                      `json:"types"`
	Tables   int                      `json:"tables"`
	Errors   []schema.ValidationError `json:"errors,omitempty"`
	Warnings []schema.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema>",
		Short: "Validate a relation schema",
		Long: `Validate a CUE relation schema, given as a .cue file or a directory.

Compiles every entity declaration, resolves relation keys and pivot tables,
and reports every problem found. Recursive relation graphs are reported as
warnings; fills over them are bounded by the engine's cycle and depth guards.

Exit codes:
  0 - Schema valid (warnings allowed)
  1 - Schema invalid
  2 - Command error (schema path not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	formatter.VerboseLog("Validating schema %s", path)
	reg, err := schema.Load(path)
	if err != nil {
		var verrs schema.ValidationErrors
		if errors.As(err, &verrs) {
			return outputValidationErrors(formatter, verrs)
		}

		loadErr := schema.AsLoadError(err)
		if exitCodeForLoad(err) == ExitCommandError {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		msg := loadErr.Message
		if loadErr.Pos.IsValid() {
			msg = fmt.Sprintf("line %d: %s", loadErr.Pos.Line(), msg)
		}
		return outputValidationErrors(formatter, []schema.ValidationError{{
			Field:   "schema",
			Message: msg,
			Code:    loadErr.Code,
		}})
	}

	result := ValidationResult{
		Valid:    true,
		Types:    len(reg.Types()),
		Tables:   len(reg.Tables()),
		Warnings: reg.Warnings(),
	}
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Schema valid: %d types, %d tables\n", result.Types, result.Tables)
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  warning: %s\n", w.Message)
	}
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every problem found in the schema.
func outputValidationErrors(formatter *OutputFormatter, errs []schema.ValidationError) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "%s\n  %s: %s\n\n", e.Field, e.Code, e.Message)
	}
	return exitErr
}
