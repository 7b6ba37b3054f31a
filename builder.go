package db

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Join kinds.
const (
	JoinNone  = ""
	JoinLeft  = "LEFT"
	JoinRight = "RIGHT"
	JoinInner = "INNER"
	JoinOuter = "OUTER"
)

// JoinSpec describes one JOIN clause. If Cond is a single bare column
// token it renders as USING(column); otherwise it compiles through the
// condition grammar and renders as ON.
type JoinSpec struct {
	Kind  string
	Table string
	Cond  any
}

// Order is one ORDER BY pair.
type Order struct {
	Field string
	Dir   string
}

// Sort directions for Order.Dir.
const (
	SortAsc  = "ASC"
	SortDesc = "DESC"
)

var bareColumnRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QueryBuilder accumulates fluent clause state and renders full SELECT,
// INSERT, UPDATE, DELETE and REPLACE statements. Read operations leave the
// state untouched and are repeatable; terminal mutation operations clear
// the state on return, so a builder must be reconfigured after any
// mutation.
//
// A QueryBuilder represents one in-flight statement under construction and
// must not be shared across concurrently executing operations.
type QueryBuilder struct {
	db *DB

	fields      string
	quoteFields bool
	table       string
	alias       string
	joins       []JoinSpec
	union       string
	where       any
	having      any
	groupBy     string
	orderBy     string
	limit       int
	offset      int
	indexBy     string
	cached      bool
}

func newQueryBuilder(d *DB, table string) *QueryBuilder {
	return &QueryBuilder{
		db:          d,
		table:       table,
		quoteFields: true,
		limit:       -1,
		offset:      -1,
	}
}

// Select sets the select list. The fields are identifier-quoted.
func (b *QueryBuilder) Select(fields string) *QueryBuilder {
	b.fields = fields
	b.quoteFields = true
	return b
}

// SelectRaw sets the select list emitted verbatim, without quoting.
func (b *QueryBuilder) SelectRaw(fields string) *QueryBuilder {
	b.fields = fields
	b.quoteFields = false
	return b
}

// From sets the table.
func (b *QueryBuilder) From(table string) *QueryBuilder {
	b.table = table
	return b
}

// Alias sets the table alias.
func (b *QueryBuilder) Alias(alias string) *QueryBuilder {
	b.alias = alias
	return b
}

// Join appends a plain JOIN clause.
func (b *QueryBuilder) Join(table string, cond any) *QueryBuilder {
	return b.join(JoinNone, table, cond)
}

// LeftJoin appends a LEFT JOIN clause.
func (b *QueryBuilder) LeftJoin(table string, cond any) *QueryBuilder {
	return b.join(JoinLeft, table, cond)
}

// RightJoin appends a RIGHT JOIN clause.
func (b *QueryBuilder) RightJoin(table string, cond any) *QueryBuilder {
	return b.join(JoinRight, table, cond)
}

// InnerJoin appends an INNER JOIN clause.
func (b *QueryBuilder) InnerJoin(table string, cond any) *QueryBuilder {
	return b.join(JoinInner, table, cond)
}

// OuterJoin appends an OUTER JOIN clause.
func (b *QueryBuilder) OuterJoin(table string, cond any) *QueryBuilder {
	return b.join(JoinOuter, table, cond)
}

func (b *QueryBuilder) join(kind, table string, cond any) *QueryBuilder {
	b.joins = append(b.joins, JoinSpec{Kind: kind, Table: table, Cond: cond})
	return b
}

// Union prefixes this select with another select joined by UNION.
func (b *QueryBuilder) Union(other *QueryBuilder) *QueryBuilder {
	b.union = other.BuildSelect() + " UNION "
	return b
}

// UnionAll prefixes this select with another select joined by UNION ALL.
func (b *QueryBuilder) UnionAll(other *QueryBuilder) *QueryBuilder {
	b.union = other.BuildSelect() + " UNION ALL "
	return b
}

// Where adds a condition. Repeated calls are joined with AND.
func (b *QueryBuilder) Where(cond any) *QueryBuilder {
	b.where = mergeCond(b.where, cond)
	return b
}

// Having adds a HAVING condition. Repeated calls are joined with AND.
func (b *QueryBuilder) Having(cond any) *QueryBuilder {
	b.having = mergeCond(b.having, cond)
	return b
}

// GroupBy sets the GROUP BY field list.
func (b *QueryBuilder) GroupBy(fields string) *QueryBuilder {
	b.groupBy = fields
	return b
}

// OrderBy sets the ORDER BY clause. The argument may be a free-text string
// ("created_at desc, id") or an ordered []Order list. Direction tokens are
// uppercased verbatim on output.
func (b *QueryBuilder) OrderBy(spec any) *QueryBuilder {
	b.orderBy = b.renderOrderBy(spec)
	return b
}

// Limit sets the row limit, with an optional offset as the second
// argument (rendered in the MySQL two-argument form).
func (b *QueryBuilder) Limit(limit int, offset ...int) *QueryBuilder {
	b.limit = limit
	if len(offset) > 0 {
		b.offset = offset[0]
	}
	return b
}

// Offset sets the row offset.
func (b *QueryBuilder) Offset(offset int) *QueryBuilder {
	b.offset = offset
	return b
}

// IndexBy requests that the next (and only the next) indexed fetch keys
// its rows by the given column. The setting is consumed and cleared by the
// first fetch that follows.
func (b *QueryBuilder) IndexBy(column string) *QueryBuilder {
	b.indexBy = column
	return b
}

// Cached marks the next reads of this builder as cacheable, when the DB
// has a query cache configured.
func (b *QueryBuilder) Cached() *QueryBuilder {
	b.cached = true
	return b
}

// BuildSelect renders the SELECT statement for the current state. It is a
// pure function of the builder state: it mutates nothing and is safe to
// call repeatedly.
func (b *QueryBuilder) BuildSelect() string {
	q := b.db.quoter
	var sb strings.Builder
	sb.WriteString(b.union)
	sb.WriteString("SELECT ")
	switch {
	case b.fields == "":
		sb.WriteString("*")
	case b.quoteFields:
		sb.WriteString(q.QuoteIdentifier(b.fields))
	default:
		sb.WriteString(b.fields)
	}
	sb.WriteString(" FROM ")
	sb.WriteString(q.QuoteTable(b.table))
	if b.alias != "" {
		sb.WriteString(" AS " + quoteToken(b.alias))
	}
	for _, j := range b.joins {
		sb.WriteString(b.renderJoin(j))
	}
	if w := b.db.compiler.Compile(b.where); w != "" {
		sb.WriteString(" WHERE " + w)
	}
	if b.groupBy != "" {
		sb.WriteString(" GROUP BY " + q.QuoteIdentifier(b.groupBy))
	}
	if h := b.db.compiler.Compile(b.having); h != "" {
		sb.WriteString(" HAVING " + h)
	}
	if b.orderBy != "" {
		sb.WriteString(" ORDER BY " + b.orderBy)
	}
	sb.WriteString(b.renderLimit())
	return sb.String()
}

// renderLimit renders LIMIT/OFFSET. When both are set the MySQL
// two-argument form "LIMIT offset,limit" is used and no separate OFFSET
// clause is emitted; an offset alone renders a trailing OFFSET clause.
func (b *QueryBuilder) renderLimit() string {
	switch {
	case b.limit >= 0 && b.offset >= 0:
		return " LIMIT " + strconv.Itoa(b.offset) + "," + strconv.Itoa(b.limit)
	case b.limit >= 0:
		return " LIMIT " + strconv.Itoa(b.limit)
	case b.offset >= 0:
		return " OFFSET " + strconv.Itoa(b.offset)
	}
	return ""
}

func (b *QueryBuilder) renderJoin(j JoinSpec) string {
	q := b.db.quoter
	var sb strings.Builder
	sb.WriteString(" ")
	if j.Kind != JoinNone {
		sb.WriteString(j.Kind + " ")
	}
	sb.WriteString("JOIN " + q.QuoteTable(j.Table))
	if s, ok := j.Cond.(string); ok && bareColumnRe.MatchString(s) {
		sb.WriteString(" USING(" + quoteToken(s) + ")")
		return sb.String()
	}
	if c := b.db.compiler.Compile(j.Cond); c != "" {
		sb.WriteString(" ON " + c)
	}
	return sb.String()
}

func (b *QueryBuilder) renderOrderBy(spec any) string {
	switch spec := spec.(type) {
	case string:
		normalized := strings.Join(strings.Fields(spec), " ")
		parts := strings.Split(normalized, ",")
		rendered := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			field, dir, _ := strings.Cut(p, " ")
			rendered = append(rendered, b.renderOrder(Order{Field: field, Dir: dir}))
		}
		return strings.Join(rendered, ", ")
	case []Order:
		rendered := make([]string, len(spec))
		for i, o := range spec {
			rendered[i] = b.renderOrder(o)
		}
		return strings.Join(rendered, ", ")
	case Order:
		return b.renderOrder(spec)
	default:
		return fmt.Sprint(spec)
	}
}

func (b *QueryBuilder) renderOrder(o Order) string {
	s := b.db.quoter.QuoteIdentifier(o.Field)
	if o.Dir != "" {
		s += " " + strings.ToUpper(o.Dir)
	}
	return s
}

// All runs the current select and returns every row.
func (b *QueryBuilder) All(ctx context.Context) ([]Row, error) {
	rs, err := b.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return rs.Data, nil
}

// AllIndexed runs the current select and returns the rows keyed by the
// column requested via IndexBy. A row missing that column is a
// configuration fault.
func (b *QueryBuilder) AllIndexed(ctx context.Context) (map[string]Row, error) {
	key := b.indexBy
	if key == "" {
		return nil, NewConfigError("AllIndexed called without IndexBy")
	}
	rs, err := b.fetch(ctx)
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]Row, len(rs.Data))
	for _, row := range rs.Data {
		v, ok := row[key]
		if !ok {
			return nil, NewConfigError("index-by column %q missing from result row", key)
		}
		indexed[fmt.Sprint(v)] = row
	}
	return indexed, nil
}

// First runs the current select with LIMIT 1 and returns the first row,
// or nil if there is none. The configured limit and offset are restored
// afterwards.
func (b *QueryBuilder) First(ctx context.Context) (Row, error) {
	limit, offset := b.limit, b.offset
	b.limit, b.offset = 1, -1
	rs, err := b.fetch(ctx)
	b.limit, b.offset = limit, offset
	if err != nil {
		return nil, err
	}
	if len(rs.Data) == 0 {
		return nil, nil
	}
	return rs.Data[0], nil
}

// Scalar runs the current select and returns one column of the first row:
// by position for an int argument, by name for a string, defaulting to the
// first column. It returns nil if there is no row.
func (b *QueryBuilder) Scalar(ctx context.Context, col ...any) (any, error) {
	rs, err := b.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(rs.Data) == 0 {
		return nil, nil
	}
	row := rs.Data[0]
	var want any = 0
	if len(col) > 0 {
		want = col[0]
	}
	switch want := want.(type) {
	case string:
		return row[want], nil
	case int:
		if want < 0 || want >= len(rs.Columns) {
			return nil, NewConfigError("scalar column index %d out of range", want)
		}
		return row[rs.Columns[want]], nil
	default:
		return nil, NewConfigError("scalar column selector must be an index or a name, got %T", want)
	}
}

// Column runs the current select and returns the named column of every
// row.
func (b *QueryBuilder) Column(ctx context.Context, col string) ([]any, error) {
	rs, err := b.fetch(ctx)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(rs.Data))
	for i, row := range rs.Data {
		v, ok := row[col]
		if !ok {
			return nil, NewConfigError("column %q missing from result row", col)
		}
		values[i] = v
	}
	return values, nil
}

// Exists reports whether the current select matches at least one row.
func (b *QueryBuilder) Exists(ctx context.Context) (bool, error) {
	row, err := b.First(ctx)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// Count runs SELECT COUNT(field) for the current state. The select list,
// quote flag, limit, offset and index-by key are swapped out for the call
// and restored verbatim, so the builder is left exactly as configured.
func (b *QueryBuilder) Count(ctx context.Context, field ...string) (int64, error) {
	f := "*"
	if len(field) > 0 && field[0] != "" {
		f = field[0]
	}
	fields, quote := b.fields, b.quoteFields
	limit, offset, indexBy := b.limit, b.offset, b.indexBy
	b.fields, b.quoteFields = "COUNT("+f+")", false
	b.limit, b.offset, b.indexBy = -1, -1, ""
	v, err := b.Scalar(ctx)
	b.fields, b.quoteFields = fields, quote
	b.limit, b.offset, b.indexBy = limit, offset, indexBy
	if err != nil {
		return 0, err
	}
	return toInt64(v), nil
}

// fetch builds and runs the current select. The index-by key survives for
// the caller but never past this call.
func (b *QueryBuilder) fetch(ctx context.Context) (*Rows, error) {
	defer func() { b.indexBy = "" }()
	query := b.BuildSelect()
	b.logQuery(query)
	run := func(ctx context.Context) (*Rows, error) {
		rs, err := b.db.exec.Query(ctx, query)
		if err != nil {
			return nil, NewQueryError(query, err)
		}
		return rs, nil
	}
	if b.cached && b.db.cache != nil {
		return b.db.cache.fetch(ctx, b.table, query, run)
	}
	return run(ctx)
}

// Insert renders and executes an INSERT, returning the driver-reported
// last-insert-id (0 if no insert occurred).
func (b *QueryBuilder) Insert(ctx context.Context, data map[string]any) (int64, error) {
	return b.insert(ctx, "INSERT INTO ", data, nil)
}

// InsertIgnore renders and executes an INSERT IGNORE.
func (b *QueryBuilder) InsertIgnore(ctx context.Context, data map[string]any) (int64, error) {
	return b.insert(ctx, "INSERT IGNORE INTO ", data, nil)
}

// Replace renders and executes a REPLACE.
func (b *QueryBuilder) Replace(ctx context.Context, data map[string]any) (int64, error) {
	return b.insert(ctx, "REPLACE INTO ", data, nil)
}

// InsertOrUpdate renders and executes an INSERT ... ON DUPLICATE KEY
// UPDATE with the given update map.
func (b *QueryBuilder) InsertOrUpdate(ctx context.Context, data, update map[string]any) (int64, error) {
	return b.insert(ctx, "INSERT INTO ", data, update)
}

func (b *QueryBuilder) insert(ctx context.Context, verb string, data, update map[string]any) (int64, error) {
	defer b.reset()
	q := b.db.quoter
	keys := sortedKeys(data)
	columns := make([]string, len(keys))
	values := make([]string, len(keys))
	for i, k := range keys {
		columns[i] = quoteToken(k)
		// A new row has no prior value, so a relative write starts from
		// its delta.
		if c, ok := data[k].(Counter); ok {
			values[i] = strconv.FormatInt(c.Delta, 10)
		} else {
			values[i] = q.QuoteValue(data[k])
		}
	}
	query := verb + q.QuoteTable(b.table) +
		" (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(values, ", ") + ")"
	if update != nil {
		query += " ON DUPLICATE KEY UPDATE " + b.buildSet(update)
	}
	res, err := b.run(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.LastInsertID, nil
}

// Update renders and executes an UPDATE for the current where condition,
// returning the affected-row count.
func (b *QueryBuilder) Update(ctx context.Context, data map[string]any) (int64, error) {
	defer b.reset()
	q := b.db.quoter
	query := "UPDATE " + q.QuoteTable(b.table) + " SET " + b.buildSet(data)
	if w := b.db.compiler.Compile(b.where); w != "" {
		query += " WHERE " + w
	}
	res, err := b.run(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.AffectedRows, nil
}

// Delete renders and executes a DELETE for the current where condition,
// returning the affected-row count.
func (b *QueryBuilder) Delete(ctx context.Context) (int64, error) {
	defer b.reset()
	q := b.db.quoter
	query := "DELETE FROM " + q.QuoteTable(b.table)
	if w := b.db.compiler.Compile(b.where); w != "" {
		query += " WHERE " + w
	}
	res, err := b.run(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.AffectedRows, nil
}

// buildSet renders the SET fragment shared by Update and InsertOrUpdate.
// A key prefixed with "^" takes its value verbatim as the right-hand side;
// a Counter value renders the column-relative form "col = col ± n"; other
// values are quoted normally. Keys render in sorted order.
func (b *QueryBuilder) buildSet(data map[string]any) string {
	q := b.db.quoter
	parts := make([]string, 0, len(data))
	for _, k := range sortedKeys(data) {
		v := data[k]
		col := k
		var rhs string
		switch {
		case strings.HasPrefix(k, "^"):
			col = k[1:]
			rhs = rawFragment(v)
		default:
			switch v := v.(type) {
			case Counter:
				rhs = counterExpr(col, v.Delta)
			case Raw:
				rhs = string(v)
			default:
				rhs = q.QuoteValue(v)
			}
		}
		parts = append(parts, quoteToken(col)+"="+rhs)
	}
	return strings.Join(parts, ", ")
}

// run executes a mutation statement, wrapping failures with the rendered
// SQL and invalidating cached reads of the table.
func (b *QueryBuilder) run(ctx context.Context, query string) (Result, error) {
	b.logQuery(query)
	res, err := b.db.exec.Exec(ctx, query)
	if err != nil {
		return Result{}, NewQueryError(query, err)
	}
	if b.db.cache != nil {
		b.db.cache.invalidate(ctx, b.table)
	}
	return res, nil
}

func (b *QueryBuilder) logQuery(query string) {
	if b.db.logSQL {
		b.db.logger.Debug("db: executing statement", "sql", query)
	}
}

// reset clears all clause state. The builder keeps its DB binding and can
// be reconfigured from scratch.
func (b *QueryBuilder) reset() {
	d := b.db
	*b = *newQueryBuilder(d, "")
}

func mergeCond(existing, added any) any {
	if added == nil {
		return existing
	}
	if existing == nil {
		return added
	}
	return Cond{condEntry(existing), condEntry(added)}
}

// condEntry wraps an arbitrary condition as a single group entry.
func condEntry(c any) CondEntry {
	switch c := c.(type) {
	case Cond:
		return Group(c)
	case CondEntry:
		return c
	case Raw:
		return Fragment(string(c))
	case string:
		return Fragment(c)
	default:
		return Fragment(fmt.Sprint(c))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func counterExpr(col string, delta int64) string {
	if delta < 0 {
		return quoteToken(col) + "-" + strconv.FormatInt(-delta, 10)
	}
	return quoteToken(col) + "+" + strconv.FormatInt(delta, 10)
}

func toInt64(v any) int64 {
	switch v := v.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	default:
		return 0
	}
}
