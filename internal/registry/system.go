package registry

import "strings"

var systemPrefixes = []struct {
	prefix string
	system string
}{
	{"bq_", "BigQuery"},
	{"starburst_", "Starburst Galaxy"},
	{"pg_", "PostgreSQL"},
	{"mysql_", "MySQL"},
	{"mssql_", "SQL Server"},
	{"duckdb_", "DuckDB"},
}

var systemsByType = map[string]string{
	"file":      "File",
	"duckdb":    "DuckDB",
	"postgres":  "PostgreSQL",
	"mysql":     "MySQL",
	"sqlserver": "SQL Server",
}

// SourceSystem derives the display name of a source system from the source
// id prefix, falling back to the connector type.
func SourceSystem(sourceID, sourceType string) string {
	id := strings.ToLower(sourceID)
	for _, p := range systemPrefixes {
		if strings.HasPrefix(id, p.prefix) {
			return p.system
		}
	}
	if system, ok := systemsByType[sourceType]; ok {
		return system
	}
	return sourceType
}
