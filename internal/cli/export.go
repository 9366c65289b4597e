package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emberfall/cinder/internal/clock"
	"github.com/emberfall/cinder/internal/config"
	"github.com/emberfall/cinder/internal/registry"
	"github.com/emberfall/cinder/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Config string
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the persisted rule set",
		Long: `Export the persisted rule set as a deterministic JSON document:
an array sorted by rule id, suitable for version control and re-import.

Example:
  cinder export --config ./cinder.yaml
  cinder export --config ./cinder.yaml -o rules.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportRules(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file (required)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to file instead of stdout")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func exportRules(opts *ExportOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cfg.Persistence.Path == "" {
		return WrapExitError(ExitCommandError, "config has no persistence.path to export from", nil)
	}

	adapter, err := store.OpenSQLite(cfg.Persistence.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer adapter.Close() //nolint:errcheck

	reg := registry.New(clock.System(), nil, registry.WithAdapter(adapter))
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := reg.Load(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}

	doc, err := reg.Export()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to export rules", err)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, doc, 0o644); err != nil {
			return WrapExitError(ExitCommandError, "write "+opts.Output, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d rules to %s\n", reg.Len(), opts.Output)
		return nil
	}
	_, err = cmd.OutOrStdout().Write(doc)
	return err
}
