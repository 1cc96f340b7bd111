package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	token, err := auth.CreateJWT("  alice@x.com ")
	require.NoError(t, err)

	email, err := auth.VerifyJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", email)
}

func TestJWTRejects(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	t.Run("empty identity", func(t *testing.T) {
		_, err := auth.CreateJWT(" ")
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewAuthService("other", time.Hour).CreateJWT("alice")
		require.NoError(t, err)
		_, err = auth.VerifyJWT(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewAuthService("secret", time.Hour)
		old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := old.CreateJWT("alice")
		require.NoError(t, err)
		_, err = auth.VerifyJWT(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := auth.VerifyJWT("not.a.token")
		assert.Error(t, err)
	})
}
