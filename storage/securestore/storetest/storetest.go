// Package storetest checks that a SecureStore behaves the way the gate expects.
package storetest

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-authgate/core/authgate"
)

// Run exercises an empty store.
func Run(t *testing.T, s authgate.SecureStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, authgate.KeySessionToken)
		assert.Equal(t, authgate.ErrKeyNotFound, errors.Cause(err))
	})

	t.Run("set and overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, authgate.KeyMethod, "pin"))
		require.NoError(t, s.Set(ctx, authgate.KeyMethod, "biometric"))
		got, err := s.Get(ctx, authgate.KeyMethod)
		require.NoError(t, err)
		assert.Equal(t, "biometric", got)
	})

	t.Run("empty and unicode values", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, authgate.KeyPinHash, ""))
		got, err := s.Get(ctx, authgate.KeyPinHash)
		require.NoError(t, err)
		assert.Equal(t, "", got)

		profile := `{"name":"Mwalimu Ñandú 👩‍🏫"}`
		require.NoError(t, s.Set(ctx, authgate.KeySessionProfile, profile))
		got, err = s.Get(ctx, authgate.KeySessionProfile)
		require.NoError(t, err)
		assert.Equal(t, profile, got)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, authgate.KeyPhoneNumber, "+919876543210"))
		require.NoError(t, s.Remove(ctx, authgate.AllKeys...))
		for _, key := range authgate.AllKeys {
			_, err := s.Get(ctx, key)
			assert.Equal(t, authgate.ErrKeyNotFound, errors.Cause(err), key)
		}
		// removing missing keys is fine
		require.NoError(t, s.Remove(ctx, authgate.KeyPhoneNumber))
		require.NoError(t, s.Remove(ctx))
	})
}
