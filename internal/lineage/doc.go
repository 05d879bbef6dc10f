// Package lineage assembles the asset lineage graph.
//
// A Builder turns a set of catalog assets into nodes and scored edges by
// running its inference strategies in order: view SQL references,
// structural table signals (foreign keys, id naming, stage conventions), a
// budgeted pairwise metadata scan and finally shared-id inference for pairs
// still unlinked. Stored edges from reconciliation and
// curation are then overlaid before the as-of filter and pagination apply.
//
// This is an internal package designed for use within the leaplineage project.
//
// # Basic Usage
//
//	b := lineage.NewBuilder(lineage.Config{Signer: signer, Logger: logger})
//	resp, err := b.Build(ctx, lineage.Input{Assets: assets, PageSize: 100})
//	if err != nil {
//	    return err
//	}
//	for _, e := range resp.Edges {
//	    fmt.Printf("%s -> %s (%.2f)\n", e.Source, e.Target, e.ConfidenceScore)
//	}
package lineage
