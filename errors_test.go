package db_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wind-framework/db"
)

func TestQueryError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		cause := errors.New("gone away")
		err := db.NewQueryError("SELECT * FROM `users`", cause)
		assert.Equal(t, "db: query failed: gone away [sql: SELECT * FROM `users`]", err.Error())
	})

	t.Run("Unwrap", func(t *testing.T) {
		cause := errors.New("gone away")
		err := db.NewQueryError("SELECT 1", cause)
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("IsQueryError", func(t *testing.T) {
		err := db.NewQueryError("SELECT 1", errors.New("x"))
		assert.True(t, db.IsQueryError(err))

		// Wrapped error
		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, db.IsQueryError(wrapped))

		// Non-matching error
		assert.False(t, db.IsQueryError(errors.New("other error")))
		assert.False(t, db.IsQueryError(nil))
	})
}

func TestConfigError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := db.NewConfigError("undefined attribute %q on %s", "x", "Article")
		assert.Equal(t, `db: undefined attribute "x" on Article`, err.Error())
	})

	t.Run("IsConfigError", func(t *testing.T) {
		err := db.NewConfigError("boom")
		assert.True(t, db.IsConfigError(err))

		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, db.IsConfigError(wrapped))

		assert.False(t, db.IsConfigError(errors.New("other error")))
		assert.False(t, db.IsConfigError(nil))
	})
}

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := db.NewNotFoundError("user")
		assert.Equal(t, "db: user not found", err.Error())

		withID := db.NewNotFoundErrorWithID("user", 7)
		assert.Equal(t, "db: user not found (id=7)", withID.Error())
		assert.Equal(t, "user", withID.Table())
		assert.Equal(t, 7, withID.ID())
	})

	t.Run("Is", func(t *testing.T) {
		err := db.NewNotFoundError("post")
		assert.True(t, errors.Is(err, db.ErrNotFound))
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := db.NewNotFoundError("comment")
		assert.True(t, db.IsNotFound(err))

		// Wrapped error
		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, db.IsNotFound(wrapped))

		// Sentinel error
		assert.True(t, db.IsNotFound(db.ErrNotFound))

		assert.False(t, db.IsNotFound(errors.New("other error")))
		assert.False(t, db.IsNotFound(nil))
	})
}

func TestConstraintError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := db.NewConstraintError("duplicate entry", errors.New("1062"))
		assert.Equal(t, "db: constraint failed: duplicate entry", err.Error())
	})

	t.Run("Unwrap", func(t *testing.T) {
		cause := errors.New("1062")
		err := db.NewConstraintError("duplicate entry", cause)
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("IsConstraintError", func(t *testing.T) {
		err := db.NewConstraintError("duplicate entry", nil)
		assert.True(t, db.IsConstraintError(err))
		assert.False(t, db.IsConstraintError(errors.New("other error")))
		assert.False(t, db.IsConstraintError(nil))
	})
}
