package db

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Raw is an opaque SQL fragment that is emitted verbatim, bypassing all
// quoting and escaping. Callers are responsible for the content's safety.
type Raw string

// String implements fmt.Stringer.
func (r Raw) String() string { return string(r) }

var (
	// Explicit "expr AS alias" form, case-insensitive.
	aliasExplicitRe = regexp.MustCompile(`(?i)^(.+?)\s+AS\s+(\S+)$`)
	// Implicit "expr alias" form: a single non-space token followed by a
	// bare word. Anything fancier is left alone.
	aliasImplicitRe = regexp.MustCompile(`^(\S+)\s+([A-Za-z_][A-Za-z0-9_]*)$`)
	// Function call wrapper, e.g. COUNT(*), MAX(price).
	funcCallRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\((.*)\)$`)
	// Pure numeric literal.
	numericRe = regexp.MustCompile(`^\d+$`)
)

// Quoter quotes identifiers, table names and scalar values into safe SQL
// fragments following MySQL conventions: backtick-quoted identifiers and
// single-quoted, backslash-escaped string literals.
//
// A Quoter is a pure value and safe for concurrent use.
type Quoter struct {
	// Prefix is prepended to bare table names that do not already
	// carry it.
	Prefix string
}

// QuoteIdentifier quotes a column expression. The input may be a single
// token, or a comma-joined list which is split respecting parentheses and
// quotes. Each token may carry an alias ("expr AS alias" or "expr alias"),
// a function wrapper ("COUNT(*)") and a "table.column" qualifier.
// "*" and pure numeric tokens are never quoted.
func (q Quoter) QuoteIdentifier(spec string) string {
	return q.QuoteIdentifiers(splitList(spec))
}

// QuoteIdentifiers quotes each token and joins them with ", ".
func (q Quoter) QuoteIdentifiers(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		quoted = append(quoted, q.quoteSingle(tok))
	}
	return strings.Join(quoted, ", ")
}

// quoteSingle quotes one identifier token, handling the optional alias.
func (q Quoter) quoteSingle(token string) string {
	expr, alias := splitAlias(token)
	s := q.quoteExpr(expr)
	if alias != "" {
		s += " AS " + quoteToken(alias)
	}
	return s
}

// quoteExpr quotes an identifier expression without alias handling.
func (q Quoter) quoteExpr(expr string) string {
	if m := funcCallRe.FindStringSubmatch(expr); m != nil {
		name, args := m[1], m[2]
		// Nested parentheses or multiple arguments are assumed to be
		// pre-quoted or intentionally raw.
		if strings.ContainsAny(args, "(,") || args == "" {
			return name + "(" + args + ")"
		}
		return name + "(" + q.quoteExpr(strings.TrimSpace(args)) + ")"
	}
	if table, column, ok := strings.Cut(expr, "."); ok {
		table = strings.Trim(table, "` ")
		return quoteToken(table) + "." + quoteToken(column)
	}
	return quoteToken(expr)
}

// QuoteTable quotes a table expression. The same alias and qualifier rules
// as QuoteIdentifier apply; additionally the configured prefix is applied
// to the bare table name unless the name already carries it, and a
// "database.table" qualification is supported.
func (q Quoter) QuoteTable(spec string) string {
	quoted := make([]string, 0, 1)
	for _, tok := range splitList(spec) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		expr, alias := splitAlias(tok)
		s := q.quoteTableExpr(expr)
		if alias != "" {
			s += " AS " + quoteToken(alias)
		}
		quoted = append(quoted, s)
	}
	return strings.Join(quoted, ", ")
}

func (q Quoter) quoteTableExpr(expr string) string {
	database := ""
	name := expr
	if d, t, ok := strings.Cut(expr, "."); ok {
		database, name = strings.Trim(d, "` "), t
	}
	name = strings.Trim(name, "` ")
	if q.Prefix != "" && !strings.HasPrefix(name, q.Prefix) {
		name = q.Prefix + name
	}
	if database != "" {
		return quoteToken(database) + "." + quoteToken(name)
	}
	return quoteToken(name)
}

// QuoteValue renders a scalar as a SQL literal. Strings are wrapped in
// single quotes with backslashes and quote characters escaped; nil renders
// as the NULL keyword; a Raw value is emitted verbatim.
func (q Quoter) QuoteValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case Raw:
		return string(v)
	case string:
		return "'" + escapeString(v) + "'"
	case []byte:
		return "'" + escapeString(string(v)) + "'"
	case bool:
		if v {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(v)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return "'" + v.Format("2006-01-02 15:04:05") + "'"
	default:
		return "'" + escapeString(fmt.Sprint(v)) + "'"
	}
}

// QuoteValueList renders a value list. A slice renders each element via
// QuoteValue joined with ", "; any other value degrades to QuoteValue.
func (q Quoter) QuoteValueList(v any) string {
	list, ok := asList(v)
	if !ok {
		return q.QuoteValue(v)
	}
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = q.QuoteValue(e)
	}
	return strings.Join(parts, ", ")
}

// quoteToken wraps a single bare token in backticks. "*" and pure numeric
// tokens pass through unquoted.
func quoteToken(t string) string {
	t = strings.Trim(t, "` ")
	if t == "*" || numericRe.MatchString(t) {
		return t
	}
	return "`" + t + "`"
}

// escapeString backslash-escapes backslashes and quote characters.
func escapeString(s string) string {
	if !strings.ContainsAny(s, `'"\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	for _, r := range s {
		switch r {
		case '\\', '\'', '"':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// splitAlias splits a trailing alias off a token. It recognizes the
// explicit "expr AS alias" form and the implicit "expr alias" form where
// the expression itself contains no spaces and the alias is a bare word.
func splitAlias(token string) (expr, alias string) {
	if m := aliasExplicitRe.FindStringSubmatch(token); m != nil {
		return strings.TrimSpace(m[1]), m[2]
	}
	if m := aliasImplicitRe.FindStringSubmatch(token); m != nil {
		return m[1], m[2]
	}
	return token, ""
}

// splitList splits a comma-joined field list, respecting parentheses and
// quote characters so function arguments and quoted literals survive.
func splitList(s string) []string {
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
