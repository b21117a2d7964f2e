package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/batteries/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Types  []string                   `json:"types,omitempty"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [types-dir]",
		Short: "Validate record type definitions",
		Long: `Validate the CUE record type definitions in a directory.

Every record is compiled and checked against the type rules; all problems
are reported, not just the first. Defaults to the --types directory.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.TypesDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, typesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	// Directory-level failures are command errors; per-record failures are
	// collected so one bad definition does not hide the rest.
	loadResult, loadErrors := LoadTypes(typesDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, typesDir)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "load",
				Message: loadErrorMessage(loadErr),
				Code:    loadErr.Code,
			})
		}
	}

	names := make([]string, 0, len(loadResult.Types))
	for _, typ := range loadResult.Types {
		formatter.VerboseLog("Validating record: %s", typ.Name)
		names = append(names, typ.Name)
		validationErrors = append(validationErrors, compiler.Validate(typ)...)
	}
	if _, err := loadResult.Registry(); err != nil && len(validationErrors) == 0 {
		validationErrors = append(validationErrors, compiler.ValidationError{
			Field:   "record",
			Message: err.Error(),
			Code:    ErrCodeRecordRules,
		})
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}

	return outputValidateSuccess(formatter, names)
}

// loadErrorMessage prefixes the CUE line when the error carries one.
func loadErrorMessage(e *LoadError) string {
	if line := lineOf(e.Pos); line > 0 {
		return fmt.Sprintf("line %d: %s", line, e.Message)
	}
	return e.Message
}

func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, names []string) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Types: names})
	}

	fmt.Fprintf(formatter.Writer, "✓ All record types valid (%d)\n", len(names))
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
