package sqlref

import (
	"errors"
	"strings"
)

var errUnbalanced = errors.New("unbalanced parentheses")

var keywords = toSet(
	"SELECT", "FROM", "WHERE", "GROUP", "BY", "ORDER", "HAVING", "JOIN", "LEFT", "RIGHT",
	"INNER", "OUTER", "FULL", "CROSS", "NATURAL", "ON", "USING", "AS", "AND", "OR", "NOT", "NULL",
	"IS", "IN", "LIKE", "ILIKE", "BETWEEN", "CASE", "WHEN", "THEN", "ELSE", "END", "DISTINCT",
	"UNION", "ALL", "INTERSECT", "EXCEPT", "WITH", "RECURSIVE", "LIMIT", "OFFSET", "ASC", "DESC",
	"TRUE", "FALSE", "OVER", "PARTITION", "LATERAL", "QUALIFY", "WINDOW", "INTERVAL", "EXISTS",
	"ANY", "SOME", "CAST", "CREATE", "VIEW", "REPLACE", "TABLE", "INSERT", "INTO", "VALUES",
	"UPDATE", "SET", "DELETE", "MATERIALIZED", "TEMP", "TEMPORARY", "IF", "NULLS", "FIRST", "LAST",
	"ROWS", "RANGE", "PRECEDING", "FOLLOWING", "UNBOUNDED", "CURRENT", "ROW", "FETCH", "TOP",
)

// clauses that contribute to column usage
var usageClauses = toSet("select", "where", "group", "order", "having", "on")

func toSet(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, item := range items {
		m[item] = struct{}{}
	}
	return m
}

func isKeyword(t token) bool {
	_, ok := keywords[t.upper()]
	return ok
}

// isName reports whether t can name a table, column or alias.
func isName(t token) bool {
	return t.typ == tokenIdent && (t.quoted || !isKeyword(t))
}

// Extract parses sql and returns the referenced tables, transformations and
// column usage. It never fails: input the token tier cannot handle goes to
// the regex tier.
func Extract(sql string) Result {
	if strings.TrimSpace(sql) == "" {
		return newCollector().result()
	}
	res, err := extractTokens(sql)
	if err == nil && len(res.Tables) > 0 {
		return res
	}
	return extractRegex(sql)
}

type rawRef struct {
	qualifier string
	column    string
	clause    string
}

type walker struct {
	toks    []token
	out     *collector
	ctes    map[string]struct{}
	aliases map[string]string
	refs    []rawRef

	hasJoins, hasUnions, hasSubqueries bool
}

func extractTokens(sql string) (Result, error) {
	toks, err := tokenize(sql)
	if err != nil {
		return Result{}, err
	}
	if !balanced(toks) {
		return Result{}, errUnbalanced
	}

	w := &walker{
		toks:    toks,
		out:     newCollector(),
		ctes:    collectCTEs(toks),
		aliases: make(map[string]string),
	}
	w.walk()

	res := w.out.result()
	res.HasJoins = w.hasJoins
	res.HasUnions = w.hasUnions
	res.HasSubqueries = w.hasSubqueries

	for _, ref := range w.refs {
		if _, ok := usageClauses[ref.clause]; !ok {
			continue
		}
		if table := w.resolve(ref.qualifier); table != "" {
			w.out.addUsage(table, ref.column)
		}
	}
	res.ColumnUsage = w.out.usage
	res.SelectItems = w.selectItems()
	return res, nil
}

func balanced(toks []token) bool {
	depth := 0
	for _, t := range toks {
		switch {
		case t.is("("):
			depth++
		case t.is(")"):
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// collectCTEs finds names bound by WITH name AS (...), name AS (...).
func collectCTEs(toks []token) map[string]struct{} {
	ctes := make(map[string]struct{})
	for i := 1; i+2 < len(toks); i++ {
		prev := toks[i-1]
		if !(prev.upper() == "WITH" || prev.upper() == "RECURSIVE" || prev.is(",")) {
			continue
		}
		if isName(toks[i]) && toks[i+1].upper() == "AS" && toks[i+2].is("(") {
			ctes[strings.ToLower(toks[i].text)] = struct{}{}
		}
	}
	return ctes
}

func (w *walker) at(i int) token {
	if i < 0 || i >= len(w.toks) {
		return token{typ: tokenEOF}
	}
	return w.toks[i]
}

func (w *walker) walk() {
	clauses := []string{""}
	// inCall tracks, per paren level, whether the level is a function's argument list
	inCall := []bool{false}
	set := func(c string) { clauses[len(clauses)-1] = c }
	current := func() string { return clauses[len(clauses)-1] }

	for i := 0; i < len(w.toks); i++ {
		t := w.toks[i]
		switch kw := t.upper(); {
		case t.is("("):
			clauses = append(clauses, current())
			inCall = append(inCall, isName(w.at(i-1)))
		case t.is(")"):
			clauses = clauses[:len(clauses)-1]
			inCall = inCall[:len(inCall)-1]
		case kw == "FROM" && inCall[len(inCall)-1]:
			// EXTRACT(YEAR FROM d), TRIM(BOTH ' ' FROM s)
		case kw == "SELECT":
			// a CTE body is "name AS (SELECT", not a subquery
			if w.at(i-1).is("(") && w.at(i-2).upper() != "AS" {
				w.hasSubqueries = true
				w.out.addTransform(Transformation{Type: TypeSubquery, Category: CategoryStructural})
			}
			set("select")
		case kw == "FROM":
			set("from")
			i = w.readTableRef(i+1) - 1
		case kw == "JOIN":
			w.hasJoins = true
			w.out.addTransform(Transformation{Type: TypeJoin, Category: CategoryStructural})
			set("join")
			i = w.readTableRef(i+1) - 1
		case kw == "ON":
			set("on")
		case kw == "WHERE":
			set("where")
		case kw == "HAVING":
			set("having")
		case kw == "GROUP" && w.at(i+1).upper() == "BY":
			w.out.addTransform(Transformation{Type: TypeGroupBy, Category: CategorySet})
			set("group")
			i++
		case kw == "ORDER" && w.at(i+1).upper() == "BY":
			set("order")
			i++
		case kw == "UNION" || kw == "INTERSECT" || kw == "EXCEPT":
			w.hasUnions = true
			w.out.addTransform(Transformation{Type: TypeUnion, Category: CategorySet})
			set("")
		case kw == "DISTINCT":
			w.out.addTransform(Transformation{Type: TypeDistinct, Category: CategorySet})
		case kw == "CASE":
			w.out.addTransform(Transformation{Type: TypeCase, Category: CategoryConditional})
		case kw == "LIMIT" || kw == "QUALIFY" || kw == "WINDOW" || kw == "USING":
			set("")
		case t.is(",") && current() == "from":
			i = w.readTableRef(i+1) - 1
		case isName(t):
			if w.at(i + 1).is("(") {
				if tr, ok := functionTypes[strings.ToUpper(t.text)]; ok && !t.quoted {
					w.out.addTransform(tr)
				}
				continue
			}
			parts, next := w.readQualified(i)
			if !w.isAliasPosition(i) && len(parts) > 0 {
				col := parts[len(parts)-1]
				qualifier := strings.Join(parts[:len(parts)-1], ".")
				if col != "*" {
					w.refs = append(w.refs, rawRef{qualifier: qualifier, column: col, clause: current()})
				}
			}
			i = next - 1
		}
	}
}

// isAliasPosition reports whether the identifier at i names an output alias.
func (w *walker) isAliasPosition(i int) bool {
	prev := w.at(i - 1)
	if prev.upper() == "AS" {
		return true
	}
	return prev.is(")") || prev.typ == tokenString || prev.typ == tokenNumber || isName(prev)
}

// readQualified reads a dotted name starting at i and returns its parts and
// the index after it. Quoted parts may themselves contain dots.
func (w *walker) readQualified(i int) ([]string, int) {
	var parts []string
	appendPart := func(t token) {
		if t.quoted {
			parts = append(parts, strings.Split(t.text, ".")...)
		} else {
			parts = append(parts, t.text)
		}
	}
	appendPart(w.toks[i])
	j := i + 1
	for w.at(j).is(".") {
		nt := w.at(j + 1)
		switch {
		case nt.typ == tokenIdent:
			appendPart(nt)
		case nt.is("*"):
			parts = append(parts, "*")
		default:
			return parts, j
		}
		j += 2
	}
	return parts, j
}

// readTableRef reads one table reference with its optional alias, starting
// at i. Subqueries and table functions are left for the main walk.
func (w *walker) readTableRef(i int) int {
	t := w.at(i)
	if t.upper() == "LATERAL" {
		i++
		t = w.at(i)
	}
	if t.typ != tokenIdent || (!t.quoted && isKeyword(t)) || w.at(i+1).is("(") {
		return i
	}
	parts, j := w.readQualified(i)
	name := strings.Join(parts, ".")
	lower := strings.ToLower(name)
	if _, isCTE := w.ctes[lower]; !isCTE {
		w.out.addTable(name)
	}
	w.aliases[lower] = name
	w.aliases[strings.ToLower(parts[len(parts)-1])] = name

	if w.at(j).upper() == "AS" && isName(w.at(j+1)) {
		w.aliases[strings.ToLower(w.at(j+1).text)] = name
		return j + 2
	}
	if isName(w.at(j)) {
		w.aliases[strings.ToLower(w.at(j).text)] = name
		return j + 1
	}
	return j
}

// resolve maps a column qualifier to a referenced table. A bare column is
// attributed to the only table when exactly one is referenced.
func (w *walker) resolve(qualifier string) string {
	if qualifier == "" {
		if len(w.out.tables) == 1 {
			return w.out.tables[0]
		}
		return ""
	}
	name, ok := w.aliases[strings.ToLower(qualifier)]
	if !ok {
		return ""
	}
	if _, isCTE := w.ctes[strings.ToLower(name)]; isCTE {
		return ""
	}
	return name
}

// selectItems splits the outermost SELECT list into projections.
func (w *walker) selectItems() []SelectItem {
	start := -1
	depth := 0
	for i, t := range w.toks {
		switch {
		case t.is("("):
			depth++
		case t.is(")"):
			depth--
		case depth == 0 && t.upper() == "SELECT":
			start = i + 1
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		return nil
	}

	var items []SelectItem
	var current []token
	depth = 0
	for i := start; i < len(w.toks); i++ {
		t := w.toks[i]
		if depth == 0 && (t.upper() == "FROM" || t.upper() == "UNION" || t.upper() == "WHERE") {
			break
		}
		switch {
		case t.is("("):
			depth++
		case t.is(")"):
			depth--
		}
		if depth == 0 && t.is(",") {
			items = appendItem(items, w.buildItem(current))
			current = nil
			continue
		}
		current = append(current, t)
	}
	return appendItem(items, w.buildItem(current))
}

func appendItem(items []SelectItem, item *SelectItem) []SelectItem {
	if item == nil {
		return items
	}
	return append(items, *item)
}

func (w *walker) buildItem(toks []token) *SelectItem {
	for len(toks) > 0 && (toks[0].upper() == "DISTINCT" || toks[0].upper() == "ALL") {
		toks = toks[1:]
	}
	if len(toks) == 0 {
		return nil
	}

	item := &SelectItem{}
	expr := toks
	n := len(toks)
	switch {
	case n >= 2 && toks[n-2].upper() == "AS" && isName(toks[n-1]):
		item.Name = toks[n-1].text
		expr = toks[:n-2]
	case n >= 2 && isName(toks[n-1]) && !toks[n-2].is(".") && !isOperator(toks[n-2]):
		item.Name = toks[n-1].text
		expr = toks[:n-1]
	}

	sub := &walker{toks: expr, aliases: w.aliases, ctes: w.ctes, out: w.out}
	for i := 0; i < len(expr); i++ {
		t := expr[i]
		if t.upper() == "CASE" {
			item.Functions = append(item.Functions, TypeCase)
			continue
		}
		if !isName(t) {
			continue
		}
		if sub.at(i + 1).is("(") {
			item.Functions = append(item.Functions, strings.ToUpper(t.text))
			continue
		}
		parts, next := sub.readQualified(i)
		col := parts[len(parts)-1]
		if col != "*" {
			qualifier := strings.Join(parts[:len(parts)-1], ".")
			item.Refs = append(item.Refs, ColumnRef{Table: w.resolve(qualifier), Column: col})
		}
		i = next - 1
	}

	if item.Name == "" && len(item.Refs) == 1 && len(item.Functions) == 0 {
		item.Name = item.Refs[0].Column
	}
	if item.Name == "" && len(item.Refs) == 0 {
		return nil
	}
	return item
}

func isOperator(t token) bool {
	if t.typ != tokenPunct {
		return false
	}
	return strings.Contains("+-*/%=<>|,(", t.text)
}
