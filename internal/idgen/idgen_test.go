package idgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthTokenUnique(t *testing.T) {
	a, err := AuthToken()
	require.NoError(t, err)
	b, err := AuthToken()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestServerPrefixLength(t *testing.T) {
	p, err := ServerPrefix()
	require.NoError(t, err)
	require.Len(t, p, 8)
}

func TestEqual(t *testing.T) {
	tok, err := AuthToken()
	require.NoError(t, err)

	require.True(t, Equal(tok, tok))
	require.False(t, Equal(tok, ""))

	other, err := AuthToken()
	require.NoError(t, err)
	require.False(t, Equal(tok, other))
}
