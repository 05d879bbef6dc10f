package sqlref

import (
	"regexp"
	"strings"
)

var (
	backtick3Pattern    = regexp.MustCompile("`([\\w-]+)\\.([\\w-]+)\\.([\\w-]+)`")
	backtickQualPattern = regexp.MustCompile("`([\\w-]+)`\\.`([\\w-]+)`\\.`([\\w-]+)`")
	plain3Pattern       = regexp.MustCompile(`\b([A-Za-z_][\w-]*)\.([A-Za-z_]\w*)\.([A-Za-z_]\w*)\b`)
	backtick2Pattern    = regexp.MustCompile("`([\\w-]+)\\.([\\w-]+)`")
	from2Pattern        = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_]\w*)\.([A-Za-z_]\w*)(?:[^.\w]|$)`)
	join2Pattern        = regexp.MustCompile(`(?i)\bJOIN\s+([A-Za-z_]\w*)\.([A-Za-z_]\w*)(?:[^.\w]|$)`)
	fromBarePattern     = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_]\w*)\b(?:\s*[^.\w(]|\s*$)`)
	qualifiedColPattern = regexp.MustCompile(`\b([A-Za-z_]\w*)\.([A-Za-z_]\w*)\b`)

	joinPattern     = regexp.MustCompile(`(?i)\bJOIN\b`)
	unionPattern    = regexp.MustCompile(`(?i)\b(UNION|INTERSECT|EXCEPT)\b`)
	subqueryPattern = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
)

// keywordPatterns detects transformations by keyword, in reporting order.
var keywordPatterns = []struct {
	pattern *regexp.Regexp
	tr      Transformation
}{
	{regexp.MustCompile(`(?i)\bCOUNT\s*\(`), functionTypes["COUNT"]},
	{regexp.MustCompile(`(?i)\bSUM\s*\(`), functionTypes["SUM"]},
	{regexp.MustCompile(`(?i)\bAVG\s*\(`), functionTypes["AVG"]},
	{regexp.MustCompile(`(?i)\bMIN\s*\(`), functionTypes["MIN"]},
	{regexp.MustCompile(`(?i)\bMAX\s*\(`), functionTypes["MAX"]},
	{regexp.MustCompile(`(?i)\bCOALESCE\s*\(`), functionTypes["COALESCE"]},
	{regexp.MustCompile(`(?i)\bCASE\b`), Transformation{Type: TypeCase, Category: CategoryConditional}},
	{regexp.MustCompile(`(?i)\bDISTINCT\b`), Transformation{Type: TypeDistinct, Category: CategorySet}},
	{regexp.MustCompile(`(?i)\bGROUP\s+BY\b`), Transformation{Type: TypeGroupBy, Category: CategorySet}},
	{regexp.MustCompile(`(?i)\bDATE\s*\(`), functionTypes["DATE"]},
	{regexp.MustCompile(`(?i)\bTRIM\s*\(`), functionTypes["TRIM"]},
	{regexp.MustCompile(`(?i)\bUPPER\s*\(`), functionTypes["UPPER"]},
	{regexp.MustCompile(`(?i)\bLOWER\s*\(`), functionTypes["LOWER"]},
	{regexp.MustCompile(`(?i)\bJOIN\b`), Transformation{Type: TypeJoin, Category: CategoryStructural}},
}

// extractRegex is the permissive tier: qualified-name patterns and keyword
// detection over the raw text.
func extractRegex(sql string) Result {
	out := newCollector()

	for _, m := range backtickQualPattern.FindAllStringSubmatch(sql, -1) {
		out.addTable(m[1] + "." + m[2] + "." + m[3])
	}
	for _, m := range backtick3Pattern.FindAllStringSubmatch(sql, -1) {
		out.addTable(m[1] + "." + m[2] + "." + m[3])
	}
	for _, m := range plain3Pattern.FindAllStringSubmatch(stripBackticked(sql), -1) {
		out.addTable(m[1] + "." + m[2] + "." + m[3])
	}
	for _, m := range backtick2Pattern.FindAllStringSubmatch(sql, -1) {
		out.addTable(m[1] + "." + m[2])
	}
	for _, p := range []*regexp.Regexp{from2Pattern, join2Pattern} {
		for _, m := range p.FindAllStringSubmatch(sql, -1) {
			if !covered(out.tables, m[1]+"."+m[2]) {
				out.addTable(m[1] + "." + m[2])
			}
		}
	}
	for _, m := range fromBarePattern.FindAllStringSubmatch(sql, -1) {
		if _, kw := keywords[strings.ToUpper(m[1])]; !kw {
			out.addTable(m[1])
		}
	}

	for _, kp := range keywordPatterns {
		if kp.pattern.MatchString(sql) {
			out.addTransform(kp.tr)
		}
	}

	short := make(map[string]string, len(out.tables))
	for _, t := range out.tables {
		parts := strings.Split(t, ".")
		short[strings.ToLower(parts[len(parts)-1])] = t
	}
	for _, m := range qualifiedColPattern.FindAllStringSubmatch(sql, -1) {
		if table, ok := short[strings.ToLower(m[1])]; ok {
			out.addUsage(table, m[2])
		}
	}

	res := out.result()
	res.HasJoins = joinPattern.MatchString(sql)
	res.HasUnions = unionPattern.MatchString(sql)
	res.HasSubqueries = subqueryPattern.MatchString(sql)
	res.Fallback = true
	return res
}

// stripBackticked blanks backticked spans so the plain pattern does not re-match them.
func stripBackticked(sql string) string {
	var sb strings.Builder
	in := false
	for i := 0; i < len(sql); i++ {
		if sql[i] == '`' {
			in = !in
			sb.WriteByte(' ')
			continue
		}
		if in {
			sb.WriteByte(' ')
		} else {
			sb.WriteByte(sql[i])
		}
	}
	return sb.String()
}

// covered reports whether name is the tail of an already found 3-part name.
func covered(tables []string, name string) bool {
	for _, t := range tables {
		if t == name || strings.HasSuffix(t, "."+name) {
			return true
		}
	}
	return false
}
