package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepListSet(t *testing.T) {
	t.Run("accepts known steps", func(t *testing.T) {
		s := make(stepList)
		require.NoError(t, s.Set("delete_existing"))
		require.NoError(t, s.Set("import"))
		assert.True(t, s["delete_existing"])
		assert.True(t, s["import"])
	})

	t.Run("accepts comma separated values", func(t *testing.T) {
		s := make(stepList)
		require.NoError(t, s.Set("matches_importer, delete_db"))
		assert.True(t, s["matches_importer"])
		assert.True(t, s["delete_db"])
	})

	t.Run("rejects unknown steps", func(t *testing.T) {
		s := make(stepList)
		err := s.Set("verify_twice")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verify_twice")
	})

	t.Run("ignores empty entries", func(t *testing.T) {
		s := make(stepList)
		require.NoError(t, s.Set("import,"))
		assert.Len(t, s, 1)
	})
}
