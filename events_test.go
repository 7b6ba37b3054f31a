package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wind-framework/db"
)

func TestHubDispatchOrder(t *testing.T) {
	t.Parallel()

	var order []string
	hub := db.NewHub()
	meta := &db.Meta{
		Name: "Article",
		Hooks: map[db.Event]db.Listener{
			db.EventInit: func(*db.Model) { order = append(order, "hook") },
		},
	}
	hub.On("Article", db.EventInit, func(*db.Model) { order = append(order, "first") })
	hub.On("Article", db.EventInit, func(*db.Model) { order = append(order, "second") })

	d := db.New(&fakeExec{}, db.WithHub(hub))
	db.NewModel(d, meta)

	// Registration order, then the type's own hook.
	assert.Equal(t, []string{"first", "second", "hook"}, order)
}

func TestHubHandleDetach(t *testing.T) {
	t.Parallel()

	var calls int
	hub := db.NewHub()
	meta := &db.Meta{Name: "Article"}
	handle := hub.On("Article", db.EventInit, func(*db.Model) { calls++ })

	d := db.New(&fakeExec{}, db.WithHub(hub))
	db.NewModel(d, meta)
	require.Equal(t, 1, calls)

	handle.Off()
	db.NewModel(d, meta)
	assert.Equal(t, 1, calls)

	// Detaching twice is a no-op.
	handle.Off()
}

func TestHubScopedByType(t *testing.T) {
	t.Parallel()

	var calls int
	hub := db.NewHub()
	hub.On("Article", db.EventInit, func(*db.Model) { calls++ })

	d := db.New(&fakeExec{}, db.WithHub(hub))
	db.NewModel(d, &db.Meta{Name: "Comment"})
	assert.Zero(t, calls)
}

func TestLifecycleEventsAroundSave(t *testing.T) {
	t.Parallel()

	var fired []db.Event
	record := func(ev db.Event) db.Listener {
		return func(*db.Model) { fired = append(fired, ev) }
	}
	hub := db.NewHub()
	for _, ev := range []db.Event{
		db.EventInit, db.EventBeforeSave, db.EventBeforeCreate,
		db.EventCreated, db.EventSaved, db.EventBeforeUpdate, db.EventUpdated,
	} {
		hub.On("Article", ev, record(ev))
	}

	exec := &fakeExec{result: db.Result{LastInsertID: 1, AffectedRows: 1}}
	d := db.New(exec, db.WithHub(hub))
	m := db.NewModel(d, &db.Meta{Name: "Article"})
	m.Set("title", "hello")
	require.NoError(t, m.Save(context.Background()))

	assert.Equal(t, []db.Event{
		db.EventInit, db.EventBeforeSave, db.EventBeforeCreate,
		db.EventCreated, db.EventSaved,
	}, fired)
	assert.True(t, m.WasRecentlyCreated())

	fired = nil
	m.Set("title", "updated")
	require.NoError(t, m.Save(context.Background()))
	assert.Equal(t, []db.Event{
		db.EventBeforeSave, db.EventBeforeUpdate, db.EventUpdated, db.EventSaved,
	}, fired)
	assert.False(t, m.WasRecentlyCreated())
}
