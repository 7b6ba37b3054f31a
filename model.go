package db

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-openapi/inflect"
)

// Counter signals a server-side relative update "column = column ± Delta",
// distinct from a literal value assignment. Counters are never merged into
// a model's persisted or changed state as literal values.
type Counter struct {
	Delta int64
}

// Incr returns a Counter that increments a column by n.
func Incr(n int64) Counter { return Counter{Delta: n} }

// Decr returns a Counter that decrements a column by n.
func Decr(n int64) Counter { return Counter{Delta: -n} }

// Getter computes a derived attribute. A Getter configured for a name
// intercepts reads of that name.
type Getter func(m *Model) any

// Setter intercepts writes of a named attribute.
type Setter func(m *Model, v any)

// Meta is the type-level descriptor for a model: its name, table binding,
// identity column, accessor maps and hook methods. A Meta is defined once
// per model type and shared by every instance; it is not mutated after
// definition.
type Meta struct {
	// Name is the CamelCase model type name, e.g. "UserProfile". It keys
	// event registrations and derives the table name.
	Name string

	// Table overrides the derived snake_case table name.
	Table string

	// PrimaryKey is the identity column. Defaults to "id". Set to "-" for
	// a model with no identity; identity-based operations then fail with
	// ErrNoPrimaryKey.
	PrimaryKey string

	// Getters and Setters intercept attribute access by name. They are
	// resolved once here rather than derived per access.
	Getters map[string]Getter
	Setters map[string]Setter

	// Hooks are the type's own lifecycle handlers, dispatched after any
	// hub-registered listeners of the same event.
	Hooks map[Event]Listener
}

// TableName resolves the bound table: the explicit override if set,
// otherwise the snake_case form of the type name.
func (m *Meta) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return inflect.Underscore(m.Name)
}

func (m *Meta) primaryKey() (string, error) {
	switch m.PrimaryKey {
	case "":
		return "id", nil
	case "-":
		return "", ErrNoPrimaryKey
	default:
		return m.PrimaryKey, nil
	}
}

// Model is one aggregate instance: a row's attributes plus its mutation
// state. Attribute state is tracked in three maps: persisted (last known
// saved state), dirty (set since the last save, unsaved) and changed (the
// cumulative union of every field ever dirtied and subsequently saved in
// this instance's life).
//
// A Model is not safe for concurrent mutation; single writer per instance
// is assumed.
type Model struct {
	meta *Meta
	db   *DB

	persisted map[string]any
	dirty     map[string]any
	changed   map[string]any

	isNew           bool
	recentlyCreated bool
}

// NewModel returns a fresh, unsaved instance and fires the init event.
// This is the construction path for user-created records; rows fetched
// from the database come through Hydrate instead.
func NewModel(d *DB, meta *Meta) *Model {
	m := &Model{
		meta:      meta,
		db:        d,
		persisted: make(map[string]any),
		dirty:     make(map[string]any),
		changed:   make(map[string]any),
		isNew:     true,
	}
	d.hub.Fire(EventInit, m)
	return m
}

// Hydrate returns an instance populated from a trusted database row and
// fires the retrieved event. It skips the init path by design: the row is
// the persisted state, not user input.
func Hydrate(d *DB, meta *Meta, row Row) *Model {
	m := &Model{
		meta:      meta,
		db:        d,
		persisted: make(map[string]any, len(row)),
		dirty:     make(map[string]any),
		changed:   make(map[string]any),
	}
	for k, v := range row {
		m.persisted[k] = v
	}
	d.hub.Fire(EventRetrieved, m)
	return m
}

// Meta returns the type descriptor.
func (m *Model) Meta() *Meta { return m.meta }

// IsNew reports whether the instance has no persisted identity yet.
func (m *Model) IsNew() bool { return m.isNew }

// WasRecentlyCreated reports whether the last save inserted the row.
func (m *Model) WasRecentlyCreated() bool { return m.recentlyCreated }

// Get resolves an attribute: dirty first, then persisted, then a
// configured getter. An unknown name is an undefined-attribute fault.
func (m *Model) Get(name string) (any, error) {
	if v, ok := m.dirty[name]; ok {
		return v, nil
	}
	if v, ok := m.persisted[name]; ok {
		return v, nil
	}
	if g, ok := m.meta.Getters[name]; ok {
		return g(m), nil
	}
	return nil, NewConfigError("undefined attribute %q on %s", name, m.meta.Name)
}

// MustGet is Get without the fault path, returning nil for unknown names.
func (m *Model) MustGet(name string) any {
	v, _ := m.Get(name)
	return v
}

// Set writes an attribute. A configured setter intercepts the write;
// otherwise the value is recorded into the dirty set only when it differs
// from the current persisted value.
func (m *Model) Set(name string, v any) {
	if s, ok := m.meta.Setters[name]; ok {
		s(m, v)
		return
	}
	m.SetDirty(name, v)
}

// SetDirty records a value into the dirty set when it differs from the
// persisted value. Setters use it to store their normalized result without
// re-triggering interception.
func (m *Model) SetDirty(name string, v any) {
	if old, ok := m.persisted[name]; ok && reflect.DeepEqual(old, v) {
		return
	}
	m.dirty[name] = v
}

// Fill calls Set for every pair.
func (m *Model) Fill(attrs map[string]any) {
	for k, v := range attrs {
		m.Set(k, v)
	}
}

// IsDirty reports whether any unsaved attribute writes exist.
func (m *Model) IsDirty() bool { return len(m.dirty) > 0 }

// DirtyAttributes returns a copy of the unsaved attribute writes.
func (m *Model) DirtyAttributes() map[string]any {
	return copyAttrs(m.dirty)
}

// ChangedAttributes returns a copy of every field ever dirtied and
// subsequently saved during this instance's life.
func (m *Model) ChangedAttributes() map[string]any {
	return copyAttrs(m.changed)
}

// Attributes returns the effective attribute set: persisted overlaid with
// dirty.
func (m *Model) Attributes() map[string]any {
	attrs := copyAttrs(m.persisted)
	for k, v := range m.dirty {
		attrs[k] = v
	}
	return attrs
}

// OldAttribute returns the persisted value of a field, ignoring any
// pending dirty write.
func (m *Model) OldAttribute(name string) (any, bool) {
	v, ok := m.persisted[name]
	return v, ok
}

// ReplaceDirty swaps the entire pending write-set. Before-update listeners
// use it to rewrite what is about to be written.
func (m *Model) ReplaceDirty(attrs map[string]any) {
	m.dirty = copyAttrs(attrs)
}

// Insert persists a new instance. It fires beforeCreate, executes an
// INSERT with the full effective attribute set, stores a non-zero returned
// id under the identity key, merges dirty into persisted and changed,
// clears dirty and fires created.
func (m *Model) Insert(ctx context.Context) error {
	// A model without an identity column can still insert; only the
	// returned-id write-back needs one.
	pk, _ := m.meta.primaryKey()
	m.db.hub.Fire(EventBeforeCreate, m)
	id, err := m.db.Table(m.meta.TableName()).Insert(ctx, m.Attributes())
	if err != nil {
		return err
	}
	if id != 0 && pk != "" {
		m.persisted[pk] = id
	}
	m.mergeDirty()
	m.isNew = false
	m.recentlyCreated = true
	m.db.hub.Fire(EventCreated, m)
	return nil
}

// Update persists the dirty set of an existing instance, scoped by the
// identity key. With an empty dirty set it returns false and issues no
// statement. On success dirty merges into persisted and changed, and the
// updated event fires.
func (m *Model) Update(ctx context.Context) (bool, error) {
	if !m.IsDirty() {
		return false, nil
	}
	cond, err := m.identityCond()
	if err != nil {
		return false, err
	}
	m.db.hub.Fire(EventBeforeUpdate, m)
	if !m.IsDirty() {
		// A listener emptied the write-set.
		return false, nil
	}
	if _, err := m.db.Table(m.meta.TableName()).Where(cond).Update(ctx, m.dirty); err != nil {
		return false, err
	}
	m.mergeDirty()
	m.db.hub.Fire(EventUpdated, m)
	return true, nil
}

// Save dispatches beforeSave and saved around either Insert (for a new
// instance) or Update-if-dirty (for a persisted one).
func (m *Model) Save(ctx context.Context) error {
	m.recentlyCreated = false
	m.db.hub.Fire(EventBeforeSave, m)
	if m.isNew {
		if err := m.Insert(ctx); err != nil {
			return err
		}
	} else if _, err := m.Update(ctx); err != nil {
		return err
	}
	m.db.hub.Fire(EventSaved, m)
	return nil
}

// Delete removes the row for this instance's identity key. The deleted
// event fires only when a row was actually removed.
func (m *Model) Delete(ctx context.Context) (int64, error) {
	cond, err := m.identityCond()
	if err != nil {
		return 0, err
	}
	m.db.hub.Fire(EventBeforeDelete, m)
	affected, err := m.db.Table(m.meta.TableName()).Where(cond).Delete(ctx)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		m.db.hub.Fire(EventDeleted, m)
	}
	return affected, nil
}

// UpdateCounters applies server-side relative updates ("column = column ±
// n") merged with any extra literal attribute writes, scoped by the
// identity key.
//
// The pending write-set is installed as the instance's dirty set before
// beforeUpdate fires, and re-read afterwards: listeners may replace it.
// Counter entries are stripped before merging into persisted state. On
// success, every counter field already present in the persisted attributes
// is adjusted in place by its delta; this is a best-effort local estimate,
// since concurrent writers may have moved the authoritative value. Fields
// absent from the persisted attributes stay absent, as no estimate exists
// without a fresh read. The updated event fires only when a row was
// matched, unlike Update.
func (m *Model) UpdateCounters(ctx context.Context, counters map[string]int64, extra ...map[string]any) (bool, error) {
	cond, err := m.identityCond()
	if err != nil {
		return false, err
	}
	writeSet := make(map[string]any, len(counters))
	for field, delta := range counters {
		writeSet[field] = Counter{Delta: delta}
	}
	for _, attrs := range extra {
		for k, v := range attrs {
			writeSet[k] = v
		}
	}
	m.dirty = writeSet
	m.db.hub.Fire(EventBeforeUpdate, m)
	// Listeners may have replaced the write-set entirely.
	writeSet = m.dirty
	if len(writeSet) == 0 {
		return false, nil
	}
	affected, err := m.db.Table(m.meta.TableName()).Where(cond).Update(ctx, writeSet)
	if err != nil {
		return false, err
	}
	applied := make(map[string]int64)
	for field, v := range writeSet {
		if c, ok := v.(Counter); ok {
			applied[field] = c.Delta
			delete(m.dirty, field)
		}
	}
	m.mergeDirty()
	if affected == 0 {
		return false, nil
	}
	for field, delta := range applied {
		if old, ok := m.persisted[field]; ok {
			m.persisted[field] = addDelta(old, delta)
		}
	}
	m.db.hub.Fire(EventUpdated, m)
	return true, nil
}

// Refresh re-reads the row for this instance's identity key. The persisted
// attributes are replaced wholesale and pending writes are discarded; a
// missing row fails with a NotFoundError.
func (m *Model) Refresh(ctx context.Context) error {
	cond, err := m.identityCond()
	if err != nil {
		return err
	}
	row, err := m.db.Table(m.meta.TableName()).Where(cond).First(ctx)
	if err != nil {
		return err
	}
	if row == nil {
		pk, _ := m.meta.primaryKey()
		return NewNotFoundErrorWithID(m.meta.TableName(), m.persisted[pk])
	}
	m.persisted = copyAttrs(row)
	m.dirty = make(map[string]any)
	m.changed = make(map[string]any)
	m.isNew = false
	return nil
}

// identityCond builds the primary-key condition for this instance.
func (m *Model) identityCond() (Cond, error) {
	pk, err := m.meta.primaryKey()
	if err != nil {
		return nil, err
	}
	id, ok := m.persisted[pk]
	if !ok {
		return nil, NewConfigError("%s has no value for primary key %q", m.meta.Name, pk)
	}
	return Cond{P(pk, id)}, nil
}

// mergeDirty folds the dirty set into persisted and changed and clears it.
// Raw right-hand sides are resolved by the server, so marker-prefixed keys
// and Raw values carry no local attribute value and are dropped.
func (m *Model) mergeDirty() {
	for k, v := range m.dirty {
		if strings.HasPrefix(k, "^") {
			continue
		}
		switch v.(type) {
		case Raw, Counter:
			continue
		}
		m.persisted[k] = v
		m.changed[k] = v
	}
	m.dirty = make(map[string]any)
}

func copyAttrs(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// addDelta adjusts a numeric attribute by a counter delta, keeping the
// original numeric kind where possible.
func addDelta(v any, delta int64) any {
	switch v := v.(type) {
	case int:
		return v + int(delta)
	case int32:
		return v + int32(delta)
	case int64:
		return v + delta
	case uint:
		return uint(int64(v) + delta)
	case uint64:
		return uint64(int64(v) + delta)
	case float64:
		return v + float64(delta)
	case float32:
		return v + float32(delta)
	case string:
		return toInt64(v) + delta
	default:
		return v
	}
}
