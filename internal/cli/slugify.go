package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/batteries/internal/slug"
)

// SlugifyResult is the JSON payload of the slugify command.
type SlugifyResult struct {
	Input string `json:"input"`
	Slug  string `json:"slug"`
}

// NewSlugifyCommand creates the slugify command.
func NewSlugifyCommand(rootOpts *RootOptions) *cobra.Command {
	var separator string

	cmd := &cobra.Command{
		Use:           "slugify <text>",
		Short:         "Normalize text into a URL-safe slug",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			sep := separator
			if sep == "" {
				sep = configOf(rootOpts).Slug.Separator
			}
			s := slug.Slugify(args[0], sep)
			if formatter.Format == "json" {
				return formatter.Success(SlugifyResult{Input: args[0], Slug: s})
			}
			return formatter.Success(s)
		},
	}

	cmd.Flags().StringVar(&separator, "separator", "", "separator replacing whitespace (default from config)")

	return cmd
}
