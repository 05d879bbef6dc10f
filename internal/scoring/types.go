package scoring

import "strings"

// Type families used for type agreement and naming conventions.
const (
	FamilyString    = "string"
	FamilyInteger   = "integer"
	FamilyNumeric   = "numeric"
	FamilyBoolean   = "boolean"
	FamilyDate      = "date"
	FamilyTimestamp = "timestamp"
	FamilyOther     = "other"
)

var typeFamilies = map[string]string{
	"STRING": FamilyString, "VARCHAR": FamilyString, "NVARCHAR": FamilyString, "CHAR": FamilyString,
	"NCHAR": FamilyString, "TEXT": FamilyString, "CHARACTER VARYING": FamilyString, "CHARACTER": FamilyString,
	"INT": FamilyInteger, "INTEGER": FamilyInteger, "INT64": FamilyInteger, "BIGINT": FamilyInteger,
	"SMALLINT": FamilyInteger, "TINYINT": FamilyInteger, "INT32": FamilyInteger, "HUGEINT": FamilyInteger,
	"FLOAT": FamilyNumeric, "FLOAT64": FamilyNumeric, "DOUBLE": FamilyNumeric, "DOUBLE PRECISION": FamilyNumeric,
	"REAL": FamilyNumeric, "NUMERIC": FamilyNumeric, "DECIMAL": FamilyNumeric, "BIGNUMERIC": FamilyNumeric,
	"BOOL": FamilyBoolean, "BOOLEAN": FamilyBoolean, "BIT": FamilyBoolean,
	"DATE":      FamilyDate,
	"TIMESTAMP": FamilyTimestamp, "DATETIME": FamilyTimestamp, "DATETIME2": FamilyTimestamp,
	"TIMESTAMPTZ": FamilyTimestamp, "TIMESTAMP WITH TIME ZONE": FamilyTimestamp,
	"TIMESTAMP WITHOUT TIME ZONE": FamilyTimestamp,
}

// TypeFamily maps a warehouse column type onto a coarse family. An empty
// type yields "".
func TypeFamily(typ string) string {
	t := strings.ToUpper(strings.TrimSpace(typ))
	if t == "" {
		return ""
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if f, ok := typeFamilies[t]; ok {
		return f
	}
	return FamilyOther
}

// TypesAgree reports whether two column types belong to the same family.
// Unknown types agree with anything.
func TypesAgree(a, b string) bool {
	fa, fb := TypeFamily(a), TypeFamily(b)
	if fa == "" || fb == "" {
		return true
	}
	return fa == fb
}
