package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeRemove(t *testing.T) {
	t.Parallel()

	t.Run("missing file is a no-op", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "missing.db")
		assert.NoError(t, SafeRemove(path, false, "use -f"))
	})

	t.Run("existing file without force errors", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "stale.db")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o664))

		err := SafeRemove(path, false, "use -f")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "use -f")
		assert.True(t, Exists(path))
	})

	t.Run("existing file with force is deleted", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "stale.db")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o664))

		require.NoError(t, SafeRemove(path, true, "use -f"))
		assert.False(t, Exists(path))
	})
}
