package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wind-framework/db"
)

// fakeExec records every statement and plays back canned results.
type fakeExec struct {
	queries []string
	execs   []string
	rows    *db.Rows
	result  db.Result
	err     error
}

func (f *fakeExec) Query(_ context.Context, query string, _ ...any) (*db.Rows, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if f.rows == nil {
		return &db.Rows{}, nil
	}
	return f.rows, nil
}

func (f *fakeExec) Exec(_ context.Context, query string, _ ...any) (db.Result, error) {
	f.execs = append(f.execs, query)
	if f.err != nil {
		return db.Result{}, f.err
	}
	return f.result, nil
}

func newTestDB(opts ...db.Option) (*db.DB, *fakeExec) {
	exec := &fakeExec{}
	return db.New(exec, opts...), exec
}

func TestBuildSelect(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB()
	tests := []struct {
		name  string
		build func() *db.QueryBuilder
		want  string
	}{
		{
			name:  "bare table",
			build: func() *db.QueryBuilder { return d.Table("users") },
			want:  "SELECT * FROM `users`",
		},
		{
			name: "full clause order",
			build: func() *db.QueryBuilder {
				return d.Table("users").
					Select("id, name").
					Where(db.And(db.P("status", 1))).
					GroupBy("name").
					Having("COUNT(*) > 1").
					OrderBy("id desc").
					Limit(10)
			},
			want: "SELECT `id`, `name` FROM `users` WHERE `status`=1 GROUP BY `name` HAVING COUNT(*) > 1 ORDER BY `id` DESC LIMIT 10",
		},
		{
			name: "raw select list",
			build: func() *db.QueryBuilder {
				return d.Table("users").SelectRaw("COUNT(*) AS n")
			},
			want: "SELECT COUNT(*) AS n FROM `users`",
		},
		{
			name: "alias",
			build: func() *db.QueryBuilder {
				return d.Table("users").Alias("u").Where("u.id=1")
			},
			want: "SELECT * FROM `users` AS `u` WHERE u.id=1",
		},
		{
			name: "limit with offset uses two-argument form",
			build: func() *db.QueryBuilder {
				return d.Table("users").Limit(10, 20)
			},
			want: "SELECT * FROM `users` LIMIT 20,10",
		},
		{
			name: "offset alone trails",
			build: func() *db.QueryBuilder {
				return d.Table("users").Offset(20)
			},
			want: "SELECT * FROM `users` OFFSET 20",
		},
		{
			name: "order by pairs",
			build: func() *db.QueryBuilder {
				return d.Table("users").OrderBy([]db.Order{
					{Field: "age", Dir: db.SortDesc},
					{Field: "id", Dir: "asc"},
				})
			},
			want: "SELECT * FROM `users` ORDER BY `age` DESC, `id` ASC",
		},
		{
			name: "order by free text normalizes whitespace",
			build: func() *db.QueryBuilder {
				return d.Table("users").OrderBy("  age   desc ,  id ")
			},
			want: "SELECT * FROM `users` ORDER BY `age` DESC, `id`",
		},
		{
			name: "join with using",
			build: func() *db.QueryBuilder {
				return d.Table("users").LeftJoin("profiles", "user_id")
			},
			want: "SELECT * FROM `users` LEFT JOIN `profiles` USING(`user_id`)",
		},
		{
			name: "join with on condition",
			build: func() *db.QueryBuilder {
				return d.Table("users u").InnerJoin("orders o", "o.user_id = u.id")
			},
			want: "SELECT * FROM `users` AS `u` INNER JOIN `orders` AS `o` ON o.user_id = u.id",
		},
		{
			name: "plain join",
			build: func() *db.QueryBuilder {
				return d.Table("a").Join("b", "b.a_id = a.id")
			},
			want: "SELECT * FROM `a` JOIN `b` ON b.a_id = a.id",
		},
		{
			name: "repeated where joined with AND",
			build: func() *db.QueryBuilder {
				return d.Table("users").
					Where(db.And(db.P("a", 1))).
					Where(db.Or(db.P("b", 2), db.P("c", 3)))
			},
			want: "SELECT * FROM `users` WHERE `a`=1 AND (`b`=2 OR `c`=3)",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.build().BuildSelect())
		})
	}
}

func TestBuildSelectRepeatable(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB()
	b := d.Table("users").
		Select("id, name").
		Where(db.And(db.P("status", 1))).
		OrderBy("id desc").
		Limit(5, 10)
	first := b.BuildSelect()
	second := b.BuildSelect()
	assert.Equal(t, first, second)
}

func TestWhereNilLeavesConditionUntouched(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB()
	sql := d.Table("users").
		Where(db.And(db.P("a", 1))).
		Where(nil).
		BuildSelect()
	assert.Equal(t, "SELECT * FROM `users` WHERE `a`=1", sql)

	// nil as the only condition compiles to no WHERE clause at all.
	assert.Equal(t, "SELECT * FROM `users`", d.Table("users").Where(nil).BuildSelect())
}

func TestBuildSelectWithPrefix(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB(db.WithTablePrefix("wf_"))
	got := d.Table("users").BuildSelect()
	assert.Equal(t, "SELECT * FROM `wf_users`", got)
}

func TestUnion(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB()
	other := d.Table("archived_users").Select("id")
	got := d.Table("users").Select("id").Union(other).BuildSelect()
	assert.Equal(t, "SELECT `id` FROM `archived_users` UNION SELECT `id` FROM `users`", got)

	other2 := d.Table("archived_users").Select("id")
	got = d.Table("users").Select("id").UnionAll(other2).BuildSelect()
	assert.Equal(t, "SELECT `id` FROM `archived_users` UNION ALL SELECT `id` FROM `users`", got)
}

func TestInsert(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	exec.result = db.Result{LastInsertID: 7, AffectedRows: 1}
	id, err := d.Table("users").Insert(context.Background(), map[string]any{
		"name": "alice",
		"age":  30,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.Len(t, exec.execs, 1)
	assert.Equal(t, "INSERT INTO `users` (`age`, `name`) VALUES (30, 'alice')", exec.execs[0])
}

func TestInsertIgnoreAndReplace(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	_, err := d.Table("users").InsertIgnore(context.Background(), map[string]any{"id": 1})
	require.NoError(t, err)
	_, err = d.Table("users").Replace(context.Background(), map[string]any{"id": 1})
	require.NoError(t, err)
	require.Len(t, exec.execs, 2)
	assert.Equal(t, "INSERT IGNORE INTO `users` (`id`) VALUES (1)", exec.execs[0])
	assert.Equal(t, "REPLACE INTO `users` (`id`) VALUES (1)", exec.execs[1])
}

func TestInsertOrUpdate(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	_, err := d.Table("counters").InsertOrUpdate(context.Background(),
		map[string]any{"name": "visits", "hits": 1},
		map[string]any{"hits": db.Incr(1)},
	)
	require.NoError(t, err)
	require.Len(t, exec.execs, 1)
	assert.Equal(t,
		"INSERT INTO `counters` (`hits`, `name`) VALUES (1, 'visits') ON DUPLICATE KEY UPDATE `hits`=`hits`+1",
		exec.execs[0])
}

func TestInsertCounterStartsFromDelta(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	_, err := d.Table("counters").InsertOrUpdate(context.Background(),
		map[string]any{"name": "visits", "hits": db.Incr(1)},
		map[string]any{"hits": db.Incr(1)},
	)
	require.NoError(t, err)
	require.Len(t, exec.execs, 1)
	assert.Equal(t,
		"INSERT INTO `counters` (`hits`, `name`) VALUES (1, 'visits') ON DUPLICATE KEY UPDATE `hits`=`hits`+1",
		exec.execs[0])

	_, err = d.Table("counters").Insert(context.Background(),
		map[string]any{"misses": db.Decr(2), "name": "visits"})
	require.NoError(t, err)
	require.Len(t, exec.execs, 2)
	assert.Equal(t,
		"INSERT INTO `counters` (`misses`, `name`) VALUES (-2, 'visits')",
		exec.execs[1])
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	exec.result = db.Result{AffectedRows: 3}
	n, err := d.Table("users").
		Where(db.And(db.P("status", 0))).
		Update(context.Background(), map[string]any{
			"status": 1,
			"score":  db.Decr(2),
			"^seen":  "NOW()",
		})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, exec.execs, 1)
	assert.Equal(t,
		"UPDATE `users` SET `seen`=NOW(), `score`=`score`-2, `status`=1 WHERE `status`=0",
		exec.execs[0])
}

func TestDelete(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	exec.result = db.Result{AffectedRows: 1}
	n, err := d.Table("users").Where(db.And(db.P("id", 9))).Delete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, exec.execs, 1)
	assert.Equal(t, "DELETE FROM `users` WHERE `id`=9", exec.execs[0])
}

func TestMutationClearsState(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	b := d.Table("users").Where(db.And(db.P("id", 1)))
	_, err := b.Delete(context.Background())
	require.NoError(t, err)
	// The builder must be reconfigured after a mutation: all clause
	// state, including the table, is gone.
	got := b.From("users").BuildSelect()
	assert.Equal(t, "SELECT * FROM `users`", got)
	require.Len(t, exec.execs, 1)
}

func TestCountSwapsAndRestoresState(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	exec.rows = &db.Rows{Columns: []string{"COUNT(*)"}, Data: []db.Row{{"COUNT(*)": int64(42)}}}
	b := d.Table("users").
		Select("id, name").
		Where(db.And(db.P("status", 1))).
		Limit(10, 20).
		IndexBy("id")
	before := "SELECT `id`, `name` FROM `users` WHERE `status`=1 LIMIT 20,10"
	n, err := b.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.Len(t, exec.queries, 1)
	assert.Equal(t, "SELECT COUNT(*) FROM `users` WHERE `status`=1", exec.queries[0])
	// Builder left exactly as configured.
	assert.Equal(t, before, b.BuildSelect())
}

func TestScalar(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	exec.rows = &db.Rows{
		Columns: []string{"id", "name"},
		Data:    []db.Row{{"id": int64(1), "name": "alice"}},
	}
	v, err := d.Table("users").Scalar(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = d.Table("users").Scalar(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	v, err = d.Table("users").Scalar(context.Background(), "name")
	require.NoError(t, err)
	assert.Equal(t, "alice", v)
}

func TestScalarNoRows(t *testing.T) {
	t.Parallel()

	d, _ := newTestDB()
	v, err := d.Table("users").Scalar(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFirst(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	exec.rows = &db.Rows{Columns: []string{"id"}, Data: []db.Row{{"id": int64(5)}}}
	b := d.Table("users").Limit(50)
	row, err := b.First(context.Background())
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(5), row["id"])
	require.Len(t, exec.queries, 1)
	assert.Equal(t, "SELECT * FROM `users` LIMIT 1", exec.queries[0])
	// Configured limit restored.
	assert.Equal(t, "SELECT * FROM `users` LIMIT 50", b.BuildSelect())
}

func TestAllIndexed(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	exec.rows = &db.Rows{
		Columns: []string{"id", "name"},
		Data: []db.Row{
			{"id": int64(1), "name": "alice"},
			{"id": int64(2), "name": "bob"},
		},
	}
	rows, err := d.Table("users").IndexBy("id").AllIndexed(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows["1"]["name"])
	assert.Equal(t, "bob", rows["2"]["name"])
}

func TestAllIndexedFaults(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	_, err := d.Table("users").AllIndexed(context.Background())
	assert.True(t, db.IsConfigError(err))

	exec.rows = &db.Rows{Columns: []string{"name"}, Data: []db.Row{{"name": "alice"}}}
	_, err = d.Table("users").IndexBy("id").AllIndexed(context.Background())
	assert.True(t, db.IsConfigError(err))
}

func TestIndexBySingleUse(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	exec.rows = &db.Rows{Columns: []string{"id"}, Data: []db.Row{{"id": int64(1)}}}
	b := d.Table("users").IndexBy("id")
	_, err := b.All(context.Background())
	require.NoError(t, err)
	// The key was consumed by the fetch and must not leak into the next.
	_, err = b.AllIndexed(context.Background())
	assert.True(t, db.IsConfigError(err))
}

func TestQueryErrorWrapsSQL(t *testing.T) {
	t.Parallel()

	d, exec := newTestDB()
	exec.err = assert.AnError
	_, err := d.Table("users").All(context.Background())
	require.Error(t, err)
	assert.True(t, db.IsQueryError(err))
	var qe *db.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "SELECT * FROM `users`", qe.SQL)
	assert.ErrorIs(t, err, assert.AnError)
}
