package db

import "context"

// ModelQuery binds a QueryBuilder to a model type and hydrates fetched
// rows into instances. Like the builder it wraps, a ModelQuery represents
// one query under construction and is not safe for concurrent sharing.
type ModelQuery struct {
	db   *DB
	meta *Meta
	qb   *QueryBuilder
}

func newModelQuery(d *DB, meta *Meta) *ModelQuery {
	return &ModelQuery{db: d, meta: meta, qb: newQueryBuilder(d, meta.TableName())}
}

// New returns a fresh, unsaved instance of the bound type.
func (mq *ModelQuery) New() *Model {
	return NewModel(mq.db, mq.meta)
}

// Where adds a condition.
func (mq *ModelQuery) Where(cond any) *ModelQuery {
	mq.qb.Where(cond)
	return mq
}

// OrderBy sets the ORDER BY clause.
func (mq *ModelQuery) OrderBy(spec any) *ModelQuery {
	mq.qb.OrderBy(spec)
	return mq
}

// Limit sets the row limit, with an optional offset.
func (mq *ModelQuery) Limit(limit int, offset ...int) *ModelQuery {
	mq.qb.Limit(limit, offset...)
	return mq
}

// Offset sets the row offset.
func (mq *ModelQuery) Offset(offset int) *ModelQuery {
	mq.qb.Offset(offset)
	return mq
}

// IndexBy keys the next AllIndexed fetch by the given column. Single use:
// the setting is consumed by that fetch.
func (mq *ModelQuery) IndexBy(column string) *ModelQuery {
	mq.qb.IndexBy(column)
	return mq
}

// Builder exposes the underlying QueryBuilder for clauses without a
// ModelQuery passthrough.
func (mq *ModelQuery) Builder() *QueryBuilder {
	return mq.qb
}

// Find fetches one instance by primary key, or nil if absent.
func (mq *ModelQuery) Find(ctx context.Context, id any) (*Model, error) {
	pk, err := mq.meta.primaryKey()
	if err != nil {
		return nil, err
	}
	return mq.Where(Cond{P(pk, id)}).First(ctx)
}

// FindBy fetches the first instance matching a condition, or nil if none
// matches.
func (mq *ModelQuery) FindBy(ctx context.Context, cond any) (*Model, error) {
	return mq.Where(cond).First(ctx)
}

// First fetches the first matching instance, or nil if none matches.
func (mq *ModelQuery) First(ctx context.Context) (*Model, error) {
	row, err := mq.qb.First(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return Hydrate(mq.db, mq.meta, row), nil
}

// FirstOrFail fetches the first matching instance or fails with a
// NotFoundError.
func (mq *ModelQuery) FirstOrFail(ctx context.Context) (*Model, error) {
	m, err := mq.First(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, NewNotFoundError(mq.meta.TableName())
	}
	return m, nil
}

// All fetches every matching row hydrated into instances.
func (mq *ModelQuery) All(ctx context.Context) ([]*Model, error) {
	rows, err := mq.qb.All(ctx)
	if err != nil {
		return nil, err
	}
	models := make([]*Model, len(rows))
	for i, row := range rows {
		models[i] = Hydrate(mq.db, mq.meta, row)
	}
	return models, nil
}

// AllIndexed fetches every matching row keyed by the IndexBy column.
func (mq *ModelQuery) AllIndexed(ctx context.Context) (map[string]*Model, error) {
	rows, err := mq.qb.AllIndexed(ctx)
	if err != nil {
		return nil, err
	}
	models := make(map[string]*Model, len(rows))
	for key, row := range rows {
		models[key] = Hydrate(mq.db, mq.meta, row)
	}
	return models, nil
}

// Count runs SELECT COUNT(*) for the current condition.
func (mq *ModelQuery) Count(ctx context.Context, field ...string) (int64, error) {
	return mq.qb.Count(ctx, field...)
}

// Exists reports whether any row matches the current condition.
func (mq *ModelQuery) Exists(ctx context.Context) (bool, error) {
	return mq.qb.Exists(ctx)
}
