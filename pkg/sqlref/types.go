// Package sqlref extracts table references, transformation operators and
// column usage from view and query text.
//
// Extraction runs in two tiers. The token tier lexes the statement and walks
// it clause by clause; when it cannot make sense of the input the regex tier
// takes over. The regex tier over-matches on purpose: its output is only ever
// used as evidence for lineage, never as ground truth.
package sqlref

// Transformation categories.
const (
	CategoryAggregation = "aggregation"
	CategoryConditional = "conditional"
	CategorySet         = "set"
	CategoryString      = "string"
	CategoryDate        = "date"
	CategoryStructural  = "structural"
	CategoryPipeline    = "pipeline"
	CategoryEvidence    = "evidence"
)

// Transformation type tags that are not SQL functions. Pipeline tags are
// injected by structural inference, QUERY_LOG by the query-log signal.
const (
	TypeForeignKey     = "FOREIGN_KEY"
	TypeETLPipeline    = "ETL_PIPELINE"
	TypeELTPipeline    = "ELT_PIPELINE"
	TypeIDRelationship = "ID_RELATIONSHIP"
	TypeQueryLog       = "QUERY_LOG"
	TypeJoin           = "JOIN"
	TypeUnion          = "UNION"
	TypeSubquery       = "SUBQUERY"
	TypeDistinct       = "DISTINCT"
	TypeGroupBy        = "GROUP_BY"
	TypeCase           = "CASE"
)

// functionTypes maps recognised function names to their type tag and category.
var functionTypes = map[string]Transformation{
	"COUNT":       {Type: "COUNT", Category: CategoryAggregation},
	"SUM":         {Type: "SUM", Category: CategoryAggregation},
	"AVG":         {Type: "AVG", Category: CategoryAggregation},
	"MIN":         {Type: "MIN", Category: CategoryAggregation},
	"MAX":         {Type: "MAX", Category: CategoryAggregation},
	"COALESCE":    {Type: "COALESCE", Category: CategoryConditional},
	"IFNULL":      {Type: "COALESCE", Category: CategoryConditional},
	"TRIM":        {Type: "TRIM", Category: CategoryString},
	"UPPER":       {Type: "UPPER", Category: CategoryString},
	"LOWER":       {Type: "LOWER", Category: CategoryString},
	"SUBSTRING":   {Type: "SUBSTRING", Category: CategoryString},
	"SUBSTR":      {Type: "SUBSTRING", Category: CategoryString},
	"CONCAT":      {Type: "CONCAT", Category: CategoryString},
	"DATE":        {Type: "DATE", Category: CategoryDate},
	"EXTRACT":     {Type: "EXTRACT", Category: CategoryDate},
	"FORMAT_DATE": {Type: "FORMAT_DATE", Category: CategoryDate},
	"DATE_TRUNC":  {Type: "DATE", Category: CategoryDate},
}

// Pipeline builds a pipeline-category transformation tag.
func Pipeline(typ string) Transformation {
	return Transformation{Type: typ, Category: CategoryPipeline}
}

// QueryLog is the synthetic transformation for the query-log signal.
func QueryLog() Transformation {
	return Transformation{Type: TypeQueryLog, Category: CategoryEvidence}
}

// FunctionCategory returns the category of a function name, or "".
func FunctionCategory(name string) string {
	if t, ok := functionTypes[name]; ok {
		return t.Category
	}
	return ""
}

// Transformation is a detected operator.
type Transformation struct {
	Type     string `json:"type"`
	Category string `json:"category"`
}

// ColumnRef is a column referenced in a select item. Table is the resolved
// table reference, or "" when the qualifier could not be resolved.
type ColumnRef struct {
	Table  string `json:"table,omitempty"`
	Column string `json:"column"`
}

// SelectItem is one projection of the outermost SELECT.
type SelectItem struct {
	// Name is the output column name (alias, or the bare column name).
	Name string `json:"name"`
	// Refs are the columns the expression reads.
	Refs []ColumnRef `json:"refs,omitempty"`
	// Functions are the upper-cased function names wrapping the refs, outermost first.
	Functions []string `json:"functions,omitempty"`
}

// Result is the outcome of extraction.
type Result struct {
	Tables          []string            `json:"tables"`
	Transformations []Transformation    `json:"transformations"`
	ColumnUsage     map[string][]string `json:"column_usage"`
	SelectItems     []SelectItem        `json:"select_items,omitempty"`
	HasJoins        bool                `json:"has_joins"`
	HasUnions       bool                `json:"has_unions"`
	HasSubqueries   bool                `json:"has_subqueries"`
	// Fallback is set when the regex tier produced the result.
	Fallback bool `json:"fallback"`
}

// TransformationTypes returns the type tags in detection order.
func (r Result) TransformationTypes() []string {
	types := make([]string, 0, len(r.Transformations))
	for _, t := range r.Transformations {
		types = append(types, t.Type)
	}
	return types
}

// collector accumulates ordered, de-duplicated output.
type collector struct {
	tables     []string
	tableSet   map[string]struct{}
	transforms []Transformation
	transSet   map[string]struct{}
	usage      map[string][]string
}

func newCollector() *collector {
	return &collector{
		tableSet: make(map[string]struct{}),
		transSet: make(map[string]struct{}),
		usage:    make(map[string][]string),
	}
}

func (c *collector) addTable(name string) {
	if _, ok := c.tableSet[name]; ok {
		return
	}
	c.tableSet[name] = struct{}{}
	c.tables = append(c.tables, name)
}

func (c *collector) addTransform(t Transformation) {
	if _, ok := c.transSet[t.Type]; ok {
		return
	}
	c.transSet[t.Type] = struct{}{}
	c.transforms = append(c.transforms, t)
}

func (c *collector) addUsage(table, column string) {
	for _, existing := range c.usage[table] {
		if existing == column {
			return
		}
	}
	c.usage[table] = append(c.usage[table], column)
}

func (c *collector) result() Result {
	return Result{
		Tables:          c.tables,
		Transformations: c.transforms,
		ColumnUsage:     c.usage,
	}
}
