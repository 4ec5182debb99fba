package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/admitlog/internal/feed"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool         `json:"valid"`
	Files    int          `json:"files"`
	Errors   []feed.Issue `json:"errors,omitempty"`
	Warnings []feed.Issue `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate FEED...",
		Short: "Validate feed files without applying them",
		Long: `Check feed files against the event schema without touching a store.

Every record is checked, so one run reports all problems of all files.
Records of unknown kinds are reported as warnings: ingest accepts the
feed and rejects those events one by one.

Exit codes:
  0 - All feeds valid (warnings allowed)
  1 - One or more feeds have errors
  2 - Command error (path not found, etc.)`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	paths, err := feed.Expand(args)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to resolve feeds", err)
	}
	if len(paths) == 0 {
		_ = formatter.Error(ErrCodeGeneric, "no feed files found", nil)
		return NewExitError(ExitCommandError, "no feed files found")
	}

	result := ValidationResult{Files: len(paths)}
	for _, path := range paths {
		formatter.VerboseLog("Checking %s", path)
		for _, issue := range feed.Check(path) {
			if issue.Warning {
				result.Warnings = append(result.Warnings, issue)
			} else {
				result.Errors = append(result.Errors, issue)
			}
		}
	}
	result.Valid = len(result.Errors) == 0

	if formatter.JSON() {
		if result.Valid {
			return formatter.Success(result)
		}
		first := result.Errors[0]
		if err := formatter.Failure(result, first.Code, first.Message); err != nil {
			return err
		}
		return validationFailed(result)
	}

	w := formatter.Writer
	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "warning: %s\n", issue.Error())
	}
	if result.Valid {
		fmt.Fprintf(w, "✓ %d feed(s) valid\n", result.Files)
		return nil
	}

	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "  %s\n", issue.Error())
	}
	return validationFailed(result)
}

func validationFailed(result ValidationResult) error {
	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}
