package db

import (
	"fmt"
	"reflect"
	"strings"
)

// Cond is an ordered condition tree. Each entry is either a named leaf
// ("column" or "column OPERATOR" shorthand key with a value), a raw SQL
// fragment, or a nested group. The first entry may be a bare "AND"/"OR"
// token selecting the group joiner; it defaults to AND.
//
// A leaf whose value is nil is omitted entirely, so conditional filters can
// be passed unconditionally and dropped by the compiler.
type Cond []CondEntry

// CondEntry is a single entry of a Cond. Key is empty for positional
// entries (raw fragments, joiner tokens and nested groups).
type CondEntry struct {
	Key   string
	Value any
}

// P builds a named leaf entry. The key is a column name optionally
// followed by an operator: "id", "id !", "age >=", "id BETWEEN",
// "tag NOT IN", "name LIKE".
func P(key string, value any) CondEntry {
	return CondEntry{Key: key, Value: value}
}

// Fragment builds a positional entry holding an already-rendered SQL
// fragment, appended to the group verbatim.
func Fragment(sql string) CondEntry {
	return CondEntry{Value: sql}
}

// Group nests a condition tree as a sub-group of its parent. The group is
// parenthesized only when it renders more than one joined fragment.
func Group(c Cond) CondEntry {
	return CondEntry{Value: c}
}

// And builds a condition group joined with AND.
func And(entries ...CondEntry) Cond {
	return Cond(entries)
}

// Or builds a condition group joined with OR.
func Or(entries ...CondEntry) Cond {
	return append(Cond{{Value: "OR"}}, entries...)
}

// ConditionCompiler compiles a condition tree (or an already-SQL string)
// into a boolean SQL expression, using a Quoter for all identifiers and
// values. It is a pure value and safe for concurrent use.
type ConditionCompiler struct {
	Quoter Quoter
}

// Compile renders a condition into SQL. A plain string passes through
// unchanged; nil and empty trees compile to "".
func (c ConditionCompiler) Compile(cond any) string {
	switch cond := cond.(type) {
	case nil:
		return ""
	case string:
		return cond
	case Raw:
		return string(cond)
	case CondEntry:
		return c.Compile(Cond{cond})
	case Cond:
		frags, joiner := c.compileGroup(cond)
		return strings.Join(frags, " "+joiner+" ")
	default:
		return fmt.Sprint(cond)
	}
}

// compileGroup compiles the entries of one group and reports the group's
// joiner. Callers decide whether to parenthesize based on the fragment
// count.
func (c ConditionCompiler) compileGroup(entries Cond) ([]string, string) {
	joiner := "AND"
	rest := entries
	if len(entries) > 0 && entries[0].Key == "" {
		if s, ok := entries[0].Value.(string); ok {
			switch u := strings.ToUpper(s); u {
			case "AND", "OR":
				joiner = u
				rest = entries[1:]
			}
		}
	}
	frags := make([]string, 0, len(rest))
	for _, e := range rest {
		if e.Key != "" {
			if leaf := c.compileLeaf(e.Key, e.Value); leaf != "" {
				frags = append(frags, leaf)
			}
			continue
		}
		switch v := e.Value.(type) {
		case Cond:
			sub, subJoiner := c.compileGroup(v)
			switch len(sub) {
			case 0:
			case 1:
				frags = append(frags, sub[0])
			default:
				frags = append(frags, "("+strings.Join(sub, " "+subJoiner+" ")+")")
			}
		case string:
			if v != "" {
				frags = append(frags, v)
			}
		case Raw:
			if v != "" {
				frags = append(frags, string(v))
			}
		}
	}
	return frags, joiner
}

// compileLeaf compiles a single "column operator" shorthand with a value.
// A nil value contributes nothing. Unrecognized operator tokens degrade
// best-effort into an infix rendering.
func (c ConditionCompiler) compileLeaf(key string, value any) string {
	if value == nil {
		return ""
	}
	key = strings.TrimSpace(key)
	if u := strings.ToUpper(key); u == "EXISTS" || u == "NOT EXISTS" {
		return u + " (" + rawFragment(value) + ")"
	}
	column := key
	op := ""
	if col, tok, ok := strings.Cut(key, " "); ok {
		column = col
		op = strings.ToUpper(strings.TrimSpace(tok))
	}
	list, isList := asList(value)
	// MySQL rejects "IN ()", so an empty list compiles to a constant:
	// false for inclusion, true for exclusion.
	if isList && len(list) == 0 {
		if op == "!" || op == "NOT IN" {
			return "1=1"
		}
		return "0=1"
	}
	// A single-element list degrades to its scalar before the operator
	// is resolved.
	if isList && len(list) == 1 && op != "BETWEEN" {
		value = list[0]
		isList = false
	}
	switch op {
	case "":
		if isList {
			op = "IN"
		} else {
			op = "="
		}
	case "!":
		if isList {
			op = "NOT IN"
		} else {
			op = "!="
		}
	}
	q := c.Quoter
	switch op {
	case "=", "!=", ">", ">=", "<", "<=", "<>":
		return q.QuoteIdentifier(column) + op + q.QuoteValue(value)
	case "IN", "NOT IN":
		return q.QuoteIdentifier(column) + " " + op + "(" + q.QuoteValueList(value) + ")"
	case "EXISTS", "NOT EXISTS":
		return op + " (" + rawFragment(value) + ")"
	case "BETWEEN":
		if !isList || len(list) != 2 {
			return q.QuoteIdentifier(column) + " BETWEEN " + q.QuoteValueList(value)
		}
		return q.QuoteIdentifier(column) + " BETWEEN " +
			betweenSide(q, list[0]) + " AND " + betweenSide(q, list[1])
	default:
		return q.QuoteIdentifier(column) + " " + op + " " + q.QuoteValueList(value)
	}
}

// betweenSide quotes one side of a BETWEEN range. A string that is already
// a pure numeric literal passes through unquoted.
func betweenSide(q Quoter, v any) string {
	if s, ok := v.(string); ok && numericRe.MatchString(s) {
		return s
	}
	return q.QuoteValue(v)
}

// rawFragment renders a value as an unquoted SQL fragment (subquery text).
func rawFragment(v any) string {
	switch v := v.(type) {
	case Raw:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// asList normalizes slice values into []any. Strings, byte slices and Raw
// fragments are scalars, not lists.
func asList(v any) ([]any, bool) {
	switch v.(type) {
	case nil, string, []byte, Raw:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}
