package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leaplineage/internal/cli/output"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/spf13/cobra"
)

// CurateOptions holds options shared by the curate subcommands.
type CurateOptions struct {
	Role         string
	Relationship string
	Columns      []string
	Notes        string
	ProposedBy   string
}

// NewCurateCommand creates the curate command and its subcommands.
func NewCurateCommand() *cobra.Command {
	opts := &CurateOptions{}

	cmd := &cobra.Command{
		Use:   "curate",
		Short: "Propose and approve manual lineage edges",
		Long: `Manage human-asserted lineage edges.

Proposing and approving require the configured curation role
(curation.required_role, "admin" by default) passed with --role.
Approved edges enter the graph with confidence 0.95.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Role, "role", "", "Role claim used for authorization")

	propose := &cobra.Command{
		Use:   "propose <source> <target>",
		Short: "Propose an edge from source to target",
		Example: `  leaplineage curate propose raw.orders analytics.orders --role admin \
    --column order_id:order_id --notes "loaded by nightly job"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPropose(cmd, args[0], args[1], opts)
		},
	}
	propose.Flags().StringVar(&opts.Relationship, "relationship", string(core.RelManual), "Relationship kind, optionally \"kind (annotation)\"")
	propose.Flags().StringArrayVar(&opts.Columns, "column", nil, "Column mapping source_col:target_col (repeatable)")
	propose.Flags().StringVar(&opts.Notes, "notes", "", "Free-text notes")
	propose.Flags().StringVar(&opts.ProposedBy, "proposed-by", "", "Proposer name (defaults to the role)")

	approve := &cobra.Command{
		Use:     "approve <source> <target>",
		Short:   "Approve a proposed edge",
		Example: `  leaplineage curate approve raw.orders analytics.orders --role admin`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprove(cmd, args[0], args[1], opts)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List curation proposals",
		Args:  cobra.NoArgs,
		RunE:  runProposals,
	}

	cmd.AddCommand(propose, approve, list)
	return cmd
}

func runPropose(cmd *cobra.Command, source, target string, opts *CurateOptions) error {
	rel, err := core.ParseRelationship(opts.Relationship)
	if err != nil {
		return core.ErrValidation("%v", err)
	}
	columns, err := parseColumnMappings(source, target, opts.Columns)
	if err != nil {
		return err
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := cmdCtx.Engine.Propose(cmd.Context(), opts.Role, core.CurationProposal{
		Source:        source,
		Target:        target,
		Relationship:  rel,
		ColumnLineage: columns,
		ProposedBy:    opts.ProposedBy,
		Notes:         opts.Notes,
	})
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(p)
	}
	r.Success(fmt.Sprintf("Proposed %s -> %s (%s)", p.Source, p.Target, p.ID))
	return nil
}

func runApprove(cmd *cobra.Command, source, target string, opts *CurateOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	edge, err := cmdCtx.Engine.Approve(cmd.Context(), opts.Role, source, target)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(edge)
	}
	r.Success(fmt.Sprintf("Approved %s -> %s (confidence %.2f)", edge.Source, edge.Target, edge.ConfidenceScore))
	return nil
}

func runProposals(cmd *cobra.Command, _ []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	proposals, err := cmdCtx.Engine.Proposals(cmd.Context())
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if proposals == nil {
			proposals = []core.CurationProposal{}
		}
		return r.JSON(proposals)
	}

	rows := make([][]any, 0, len(proposals))
	for _, p := range proposals {
		approved := ""
		if p.ApprovedAt != nil {
			approved = p.ApprovedAt.Format(time.RFC3339)
		}
		rows = append(rows, []any{p.Source, p.Target, p.Relationship.String(), string(p.Status), p.ProposedBy, approved})
	}
	r.Header("Curation Proposals")
	r.Table([]string{"Source", "Target", "Relationship", "Status", "Proposed By", "Approved At"}, rows)
	return nil
}

// parseColumnMappings turns "src:tgt" pairs into direct column mappings.
func parseColumnMappings(source, target string, pairs []string) ([]core.ColumnLineage, error) {
	out := make([]core.ColumnLineage, 0, len(pairs))
	for _, pair := range pairs {
		src, tgt, ok := strings.Cut(pair, ":")
		src, tgt = strings.TrimSpace(src), strings.TrimSpace(tgt)
		if !ok || src == "" || tgt == "" {
			return nil, core.ErrValidation("invalid column mapping %q: want source_col:target_col", pair)
		}
		out = append(out, core.ColumnLineage{
			SourceTable:      source,
			SourceColumn:     src,
			TargetTable:      target,
			TargetColumn:     tgt,
			RelationshipType: core.ColDirectMatch,
		})
	}
	return out, nil
}
