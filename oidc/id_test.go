package oidc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Parallel()
	t.Run("no-prefix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		id, err := NewID()
		require.NoError(err)
		// 20 random bytes base64url-encode to 27 characters.
		assert.Len(id, 27)
	})
	t.Run("with-prefix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		id, err := NewID(WithPrefix("st"))
		require.NoError(err)
		assert.True(strings.HasPrefix(id, "st_"))
		assert.Len(id, len("st_")+27)
	})
	t.Run("unique", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			id, err := NewID()
			require.NoError(err)
			assert.False(seen[id])
			seen[id] = true
		}
	})
}
