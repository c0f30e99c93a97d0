package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	token, err := GenerateToken("ops", "42", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := Parse(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "42", claims.ProjectID)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestParseRejects(t *testing.T) {
	token, err := GenerateToken("ops", "", "secret", time.Hour)
	require.NoError(t, err)
	_, err = Parse(token, "other")
	assert.Error(t, err)

	noExpiry, err := GenerateToken("ops", "", "secret", 0)
	require.NoError(t, err)
	claims, err := Parse(noExpiry, "secret")
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)

	_, err = Parse("not-a-token", "secret")
	assert.Error(t, err)

	_, err = GenerateToken("ops", "", " ", time.Hour)
	assert.ErrorIs(t, err, ErrEmptySecret)
}
