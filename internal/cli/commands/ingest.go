package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leaplineage/internal/cli/output"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// QueryLogKind is the ingest kind for query-log evidence.
const QueryLogKind = "query_log"

// NewIngestCommand creates the ingest command.
func NewIngestCommand() *cobra.Command {
	kinds := make([]string, 0, len(core.BatchKinds)+1)
	for _, k := range core.BatchKinds {
		kinds = append(kinds, string(k))
	}
	kinds = append(kinds, QueryLogKind)

	cmd := &cobra.Command{
		Use:   "ingest <kind> <file>",
		Short: "Store an external lineage artifact",
		Long: fmt.Sprintf(`Store a lineage artifact for the next reconcile.

Kinds: %s.
The file may be JSON or YAML; use "-" to read JSON from stdin.
Ingesting never reconciles; run "leaplineage reconcile" afterwards.`, strings.Join(kinds, ", ")),
		Example: `  # OpenLineage events exported from Marquez
  leaplineage ingest openlineage events.json

  # A dbt manifest
  leaplineage ingest dbt target/manifest.json

  # Query history as evidence for inferred edges
  leaplineage ingest query_log queries.yaml`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], args[1])
		},
	}
	return cmd
}

func runIngest(cmd *cobra.Command, kind, path string) error {
	if kind != QueryLogKind && !core.BatchKind(kind).Valid() {
		return core.ErrValidation("unknown artifact kind %q", kind)
	}

	payload, err := readPayload(cmd, path)
	if err != nil {
		return err
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	r := cmdCtx.Renderer

	if kind == QueryLogKind {
		var entries []core.QueryLogEntry
		if err := json.Unmarshal(payload, &entries); err != nil {
			return core.ErrValidation("query log must be a list of {system, sql, timestamp}: %v", err)
		}
		if err := cmdCtx.Engine.IngestQueryLog(cmd.Context(), entries); err != nil {
			return err
		}
		if r.EffectiveMode() == output.ModeJSON {
			return r.JSON(map[string]int{"entries": len(entries)})
		}
		r.Success(fmt.Sprintf("Stored %d query log entries", len(entries)))
		return nil
	}

	batch, err := cmdCtx.Engine.Ingest(cmd.Context(), core.BatchKind(kind), payload)
	if err != nil {
		return err
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"id": batch.ID, "kind": batch.Kind, "received_at": batch.ReceivedAt})
	}
	r.Success(fmt.Sprintf("Stored %s batch %s", batch.Kind, batch.ID))
	return nil
}

// readPayload reads path (or stdin for "-") and returns it as JSON.
func readPayload(cmd *cobra.Command, path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return json.Marshal(doc)
	default:
		return data, nil
	}
}
