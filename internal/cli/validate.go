package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emberfall/cinder/internal/compiler"
	"github.com/emberfall/cinder/internal/rule"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// validationReport is the per-file result.
type validationReport struct {
	Path     string   `json:"path"`
	Rules    int      `json:"rules"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "validate <rule-file>...",
		Short: "Validate rule documents",
		Long: `Validate one or more JSON rule documents without touching engine state.

Each file may hold a single rule object or a top-level array. Errors fail
the command; warnings (such as template references to unknown roots) are
reported but do not.

Example:
  cinder validate ./rules/orders.json
  cinder validate --format json ./rules/*.json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(opts, cmd, args)
		},
	}
}

func validateFiles(opts *ValidateOptions, cmd *cobra.Command, paths []string) error {
	out := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	failed := false
	reports := make([]validationReport, 0, len(paths))

	for _, path := range paths {
		report := validationReport{Path: path}
		raw, err := os.ReadFile(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "read "+path, err)
		}
		var rules []*rule.Rule
		if strings.HasSuffix(path, ".cue") {
			rules, err = compiler.CompileRules(path, string(raw))
		} else {
			rules, err = decodeRules(raw)
		}
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			failed = true
			reports = append(reports, report)
			continue
		}
		report.Rules = len(rules)
		for _, r := range rules {
			warnings, err := rule.Validate(r)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
				failed = true
			}
			report.Warnings = append(report.Warnings, warnings...)
		}
		reports = append(reports, report)
	}

	if opts.Format == "json" {
		if err := out.Success(reports); err != nil {
			return err
		}
	} else {
		for _, rep := range reports {
			status := "ok"
			if len(rep.Errors) > 0 {
				status = "FAILED"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d rules)\n", rep.Path, status, rep.Rules)
			for _, e := range rep.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", e)
			}
			for _, w := range rep.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "  warning: %s\n", w)
			}
		}
	}

	if failed {
		return WrapExitError(ExitFailure, "validation failed", nil)
	}
	return nil
}

// decodeRules parses a single rule or a top-level array. A $schema
// field is tolerated and ignored.
func decodeRules(raw []byte) ([]*rule.Rule, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		out := make([]*rule.Rule, 0, len(arr))
		for _, item := range arr {
			var r rule.Rule
			if err := json.Unmarshal(item, &r); err != nil {
				return nil, err
			}
			out = append(out, &r)
		}
		return out, nil
	}
	var r rule.Rule
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return []*rule.Rule{&r}, nil
}
