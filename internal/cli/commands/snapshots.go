package commands

import (
	"time"

	"github.com/leapstack-labs/leaplineage/internal/cli/output"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/spf13/cobra"
)

// SnapshotsOptions holds options for the snapshots command.
type SnapshotsOptions struct {
	At string
}

// NewSnapshotsCommand creates the snapshots command.
func NewSnapshotsCommand() *cobra.Command {
	opts := &SnapshotsOptions{}

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List stored graph snapshots",
		Long: `List graph snapshots stored with "leaplineage graph --snapshot".

With --at, print the latest snapshot taken at or before that time.`,
		Example: `  leaplineage snapshots
  leaplineage snapshots --at 2024-06-01 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSnapshots(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.At, "at", "", "Show the snapshot in effect at this time (RFC 3339)")

	return cmd
}

func runSnapshots(cmd *cobra.Command, opts *SnapshotsOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	eng := cmdCtx.Engine
	r := cmdCtx.Renderer

	if opts.At != "" {
		at, err := parseTime(opts.At)
		if err != nil {
			return err
		}
		snap, err := eng.SnapshotAt(cmd.Context(), at)
		if err != nil {
			return err
		}
		if r.EffectiveMode() == output.ModeJSON {
			return r.JSON(snap)
		}
		r.Header("Snapshot " + snap.ID)
		r.KeyValue("created", snap.CreatedAt.Format(time.RFC3339))
		r.KeyValue("verified", eng.VerifySnapshot(snap))
		r.Println(string(snap.Data))
		return nil
	}

	snaps, err := eng.Snapshots(cmd.Context())
	if err != nil {
		return err
	}
	if r.EffectiveMode() == output.ModeJSON {
		if snaps == nil {
			snaps = []core.Snapshot{}
		}
		return r.JSON(snaps)
	}

	rows := make([][]any, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, []any{s.ID, s.CreatedAt.Format(time.RFC3339), len(s.Data), s.Signature != "", eng.VerifySnapshot(s)})
	}
	r.Header("Snapshots")
	r.Table([]string{"ID", "Created", "Bytes", "Signed", "Verified"}, rows)
	return nil
}
