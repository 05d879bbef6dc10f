// Package scoring holds the deterministic scoring rules of the lineage
// engine: edge confidence, column PII tiers and column quality.
//
// Every function here is pure.
package scoring
