package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/batteries/internal/blob"
	"github.com/roach88/batteries/internal/model"
	"github.com/roach88/batteries/internal/session"
)

// AttachmentsResult is the JSON payload of the attachments command.
type AttachmentsResult struct {
	Type        string               `json:"type"`
	Key         string               `json:"key"`
	Driver      blob.Driver          `json:"driver"`
	Attachments []session.Attachment `json:"attachments"`
}

// NewAttachmentsCommand creates the attachments command, which lists the
// stored blobs a record's file attributes point at.
func NewAttachmentsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "attachments <type> <key>",
		Short:         "List the stored attachments of a record",
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
				found, err := sess.Attachments(ctx, rec)
				if err != nil {
					return formatter.Fail("failed to list attachments", err)
				}
				driver := sess.Blobs().Driver()

				if formatter.Format == "json" {
					if found == nil {
						found = []session.Attachment{}
					}
					return formatter.Success(AttachmentsResult{Type: typ.Name, Key: rec.Key(), Driver: driver, Attachments: found})
				}
				lines := make([]string, 0, len(found)+1)
				lines = append(lines, fmt.Sprintf("%d attachment(s) in %s store", len(found), driver))
				for _, a := range found {
					lines = append(lines, fmt.Sprintf("  %s\t%s\t%s", a.Attribute, a.Blob.Key, humanize.IBytes(uint64(a.Blob.Size))))
				}
				return formatter.Success(strings.Join(lines, "\n"))
			})
		},
	}

	return cmd
}
