package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/batteries/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	TypesDir   string

	// MetricsPath and TracePath name where --metrics and --trace write on
	// exit; "-" is stderr.
	MetricsPath string
	TracePath   string

	// Config is loaded in PersistentPreRunE and shared by subcommands.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the batteries CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "batteries",
		Short: "batteries - keyed, slugged, serializable records",
		Long: `Declare record types in CUE and manage their records: derive keys,
resolve unique slugs, serialize to JSON and keep an audit log.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				_ = newFormatter(opts, cmd).Error(ErrCodeConfig, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			opts.Config = cfg
			return setupLogging(opts, cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to batteries.yaml")
	cmd.PersistentFlags().StringVarP(&opts.TypesDir, "types", "t", "types", "directory of CUE record type definitions")
	cmd.PersistentFlags().StringVar(&opts.MetricsPath, "metrics", "", `write Prometheus metrics on exit ("-" for stderr)`)
	cmd.PersistentFlags().StringVar(&opts.TracePath, "trace", "", `write finished spans as JSON lines ("-" for stderr)`)

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSlugifyCommand(opts))
	cmd.AddCommand(NewKeyCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))
	cmd.AddCommand(NewAttachmentsCommand(opts))

	return cmd
}

// setupLogging installs the default slog handler on stderr so diagnostics
// never mix with command output.
func setupLogging(opts *RootOptions, cmd *cobra.Command) error {
	level, err := opts.Config.SlogLevel()
	if err != nil {
		return err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newFormatter builds the formatter every command writes through.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// configOf returns the loaded config, falling back to defaults when a
// subcommand runs without the root's pre-run hook (as in tests).
func configOf(opts *RootOptions) *config.Config {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	return opts.Config
}
