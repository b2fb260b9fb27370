package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilder(t *testing.T) {
	t.Run("builds enhanced error with category and context", func(t *testing.T) {
		err := Newf("record %s not found", "abc").
			Component("datastore").
			Category(CategoryNotFound).
			Context("server_id", "abc").
			Build()
		require.Error(t, err)

		var ee *EnhancedError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "datastore", ee.Component)
		assert.Equal(t, CategoryNotFound, ee.Category)
		assert.Equal(t, "abc", ee.GetContext()["server_id"])
		assert.Equal(t, "record abc not found", err.Error())
	})

	t.Run("nil error builds to nil", func(t *testing.T) {
		assert.NoError(t, New(nil).Category(CategoryDatabase).Build())
	})

	t.Run("defaults applied when unset", func(t *testing.T) {
		var ee *EnhancedError
		require.ErrorAs(t, Newf("boom").Build(), &ee)
		assert.Equal(t, CategoryGeneric, ee.Category)
		assert.Equal(t, ComponentUnknown, ee.Component)
	})
}

func TestCategoryPredicates(t *testing.T) {
	notFound := Newf("missing").Category(CategoryNotFound).Build()
	forbidden := Newf("denied").Category(CategoryForbidden).Build()
	validation := Newf("bad vector").Category(CategoryValidation).Build()

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(forbidden))
	assert.True(t, IsForbidden(forbidden))
	assert.True(t, IsValidation(validation))
	assert.False(t, IsValidation(fmt.Errorf("plain error")))
}

func TestUnwrap(t *testing.T) {
	inner := fmt.Errorf("inner")
	wrapped := Wrap(fmt.Errorf("outer: %w", inner)).Category(CategoryDatabase).Build()
	assert.ErrorIs(t, wrapped, inner)
}
