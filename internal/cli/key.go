package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/batteries/internal/keys"
	"github.com/roach88/batteries/internal/model"
)

// KeyResult is the JSON payload of the key command.
type KeyResult struct {
	Type string `json:"type"`
	Key  string `json:"key"`
	Mode string `json:"mode"` // "uuid" or "attributes"
}

// NewKeyCommand creates the key command, which derives the key a record
// would receive without touching any store.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "key <type>",
		Short: "Derive the key of a record without storing it",
		Long: `Derive the key a record of <type> would be stored under.

Types keyed on attributes produce the same key for the same values; types
keyed on a random nonce produce a fresh key on every call.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			typ, err := loadType(rootOpts, args[0])
			if err != nil {
				return formatter.Fail("failed to load record type", err)
			}
			if typ.Key == nil {
				return formatter.Fail("cannot derive key", model.NewConfigurationError(typ.Name, "", "type is not keyed"))
			}
			attrs, err := parseAssignments(typ, sets)
			if err != nil {
				return formatter.Fail("invalid attributes", err)
			}
			rec, err := model.New(typ, attrs)
			if err != nil {
				return formatter.Fail("invalid attributes", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			tel, err := NewTelemetry(rootOpts, formatter.GetErrWriter())
			if err != nil {
				return formatter.Fail("failed to set up telemetry", err)
			}
			defer flushTelemetry(ctx, tel, formatter)

			key, err := keys.NewDeriver(keys.WithLogger(slog.Default()), keys.WithObserver(tel.metrics)).EnsureKey(rec)
			if err != nil {
				return formatter.Fail("failed to derive key", err)
			}

			if formatter.Format == "json" {
				mode := "attributes"
				if typ.Key.FromUUID() {
					mode = "uuid"
				}
				return formatter.Success(KeyResult{Type: typ.Name, Key: key, Mode: mode})
			}
			return formatter.Success(key)
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "attribute assignment name=value (repeatable)")

	return cmd
}
