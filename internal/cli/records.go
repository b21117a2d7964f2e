package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/batteries/internal/model"
	"github.com/roach88/batteries/internal/serial"
	"github.com/roach88/batteries/internal/session"
)

// withSession loads the named type, opens a session over the configured
// stores and runs fn, closing the store afterwards.
func withSession(cmd *cobra.Command, opts *RootOptions, formatter *OutputFormatter, typeName string,
	fn func(ctx context.Context, sess *session.Session, typ *model.Type) error) error {
	typ, err := loadType(opts, typeName)
	if err != nil {
		return formatter.Fail("failed to load record type", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := configOf(opts)
	tel, err := NewTelemetry(opts, formatter.GetErrWriter())
	if err != nil {
		return formatter.Fail("failed to set up telemetry", err)
	}
	defer flushTelemetry(ctx, tel, formatter)
	sess, closeStore, err := OpenSession(ctx, cfg, tel)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			formatter.VerboseLog("close store: %v", cerr)
		}
	}()

	formatter.VerboseLog("Using %s store, %s blobs", cfg.Store.Driver, cfg.Blob.Driver)
	return fn(ctx, sess, typ)
}

// selectionFlags registers the field selection and format flags shared by
// commands that print records.
type selectionFlags struct {
	fields  []string
	include []string
	exclude []string

	dateFormat     string
	dateTimeFormat string
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.fields, "fields", nil, "serialize exactly these fields")
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "fields added to the default set")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "fields removed from the default set")
	cmd.Flags().StringVar(&f.dateFormat, "date-format", "", "strftime pattern for dates (overrides config)")
	cmd.Flags().StringVar(&f.dateTimeFormat, "datetime-format", "", `strftime pattern for timestamps, "%s" for epoch seconds (overrides config)`)
}

func (f *selectionFlags) selection() serial.Selection {
	return serial.Selection{Fields: f.fields, Include: f.include, Exclude: f.exclude}
}

func (f *selectionFlags) print(ctx context.Context, formatter *OutputFormatter, sess *session.Session, e *model.Entity) error {
	var (
		tree map[string]any
		err  error
	)
	if f.dateFormat == "" && f.dateTimeFormat == "" {
		tree, err = sess.Serialize(ctx, e, f.selection())
	} else {
		opts := sess.Serializer().Options()
		if f.dateFormat != "" {
			opts = opts.WithDateFormat(f.dateFormat)
		}
		if f.dateTimeFormat != "" {
			opts = opts.WithDateTimeFormat(f.dateTimeFormat)
		}
		tree, err = sess.SerializeWith(ctx, e, f.selection(), opts)
	}
	if err != nil {
		return formatter.Fail("failed to serialize record", err)
	}
	return formatter.Tree(tree)
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		sets []string
		logs []string
		sel  selectionFlags
	)

	cmd := &cobra.Command{
		Use:   "insert <type>",
		Short: "Insert a record, deriving its key and slug",
		Long: `Insert a record of <type> built from --set assignments.

The key and slug are derived when absent, timestamps are maintained and
queued --log messages are written with the record. The stored record is
printed in its serialized form.`,
		Example:       `  batteries insert post --set title="Hello, World" --log "info:cli:created"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withSession(cmd, rootOpts, formatter, args[0], func(ctx context.Context, sess *session.Session, typ *model.Type) error {
				attrs, err := parseAssignments(typ, sets)
				if err != nil {
					return formatter.Fail("invalid attributes", err)
				}
				rec, err := model.New(typ, attrs)
				if err != nil {
					return formatter.Fail("invalid attributes", err)
				}
				if err := queueLogs(rec, logs); err != nil {
					return formatter.Fail("invalid log message", err)
				}
				if err := sess.Insert(ctx, rec); err != nil {
					return formatter.Fail("failed to insert record", err)
				}
				formatter.VerboseLog("Inserted %s", rec)
				return sel.print(ctx, formatter, sess, rec)
			})
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "attribute assignment name=value (repeatable)")
	cmd.Flags().StringArrayVar(&logs, "log", nil, "audit message [level:]qualifier:message (repeatable)")
	sel.register(cmd)

	return cmd
}

func queueLogs(rec *model.Entity, logs []string) error {
	for _, s := range logs {
		level, qualifier, message, err := parseLogFlag(s)
		if err != nil {
			return err
		}
		if _, err := rec.Log(level, qualifier, message, nil); err != nil {
			return err
		}
	}
	return nil
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		bySlug bool
		sel    selectionFlags
	)

	cmd := &cobra.Command{
		Use:           "get <type> <key>",
		Short:         "Print a stored record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withSession(cmd, rootOpts, formatter, args[0], func(ctx context.Context, sess *session.Session, typ *model.Type) error {
				var (
					rec *model.Entity
					err error
				)
				if bySlug {
					rec, err = sess.GetBySlug(ctx, typ, args[1])
				} else {
					rec, err = sess.Get(ctx, typ, args[1])
				}
				if err != nil {
					return formatter.Fail("failed to get record", err)
				}
				return sel.print(ctx, formatter, sess, rec)
			})
		},
	}

	cmd.Flags().BoolVar(&bySlug, "slug", false, "look the record up by slug instead of key")
	sel.register(cmd)

	return cmd
}

// DeleteResult is the JSON payload of the delete command.
type DeleteResult struct {
	Type string `json:"type"`
	Key  string `json:"key"`
	Soft bool   `json:"soft"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var logs []string

	cmd := &cobra.Command{
		Use:           "delete <type> <key>",
		Short:         "Delete a record (soft when the type opts in)",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withSession(cmd, rootOpts, formatter, args[0], func(ctx context.Context, sess *session.Session, typ *model.Type) error {
				rec, err := sess.Get(ctx, typ, args[1])
				if err != nil {
					return formatter.Fail("failed to get record", err)
				}
				if err := queueLogs(rec, logs); err != nil {
					return formatter.Fail("invalid log message", err)
				}
				if err := sess.Delete(ctx, rec); err != nil {
					return formatter.Fail("failed to delete record", err)
				}
				if formatter.Format == "json" {
					return formatter.Success(DeleteResult{Type: typ.Name, Key: rec.Key(), Soft: typ.SoftDelete})
				}
				return formatter.Success(fmt.Sprintf("deleted %s", rec))
			})
		},
	}

	cmd.Flags().StringArrayVar(&logs, "log", nil, "audit message [level:]qualifier:message (repeatable)")

	return cmd
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	var layout string

	cmd := &cobra.Command{
		Use:           "logs <type> <key>",
		Short:         "Print the audit log of a record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withSession(cmd, rootOpts, formatter, args[0], func(ctx context.Context, sess *session.Session, typ *model.Type) error {
				msgs, err := sess.Logs(ctx, typ, args[1])
				if err != nil {
					return formatter.Fail("failed to read logs", err)
				}
				if formatter.Format == "json" {
					if msgs == nil {
						msgs = []model.LogMessage{}
					}
					return formatter.Success(msgs)
				}
				lines := make([]string, len(msgs))
				for i, m := range msgs {
					lines[i] = m.Format(layout)
				}
				return formatter.Success(strings.Join(lines, "\n"))
			})
		},
	}

	cmd.Flags().StringVar(&layout, "time-layout", "", "Go time layout for timestamps")

	return cmd
}
