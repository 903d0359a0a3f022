package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalContext(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		p := Principal{UserID: "user-7", Role: RoleAdmin, Scopes: []string{"admin"}}
		ctx := WithPrincipal(context.Background(), p)

		got, ok := PrincipalFrom(ctx)
		require.True(t, ok)
		assert.Equal(t, p, got)
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := PrincipalFrom(context.Background())
		assert.False(t, ok)
	})
}

func TestPrincipal_IsAdmin(t *testing.T) {
	assert.True(t, Principal{Role: RoleAdmin}.IsAdmin())
	assert.False(t, Principal{Role: RoleCustomer}.IsAdmin())
}
