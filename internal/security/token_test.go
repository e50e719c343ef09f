package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyCarriesUserID(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	raw, err := tokens.Issue(7, "alice")
	require.NoError(t, err)

	claims, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 7, claims.UserID)
	assert.Equal(t, "alice", claims.Subject)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	raw, err := NewTokens("secret", time.Hour).Issue(7, "alice")
	require.NoError(t, err)

	_, err = NewTokens("other", time.Hour).Verify(raw)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	raw, err := tokens.Issue(7, "alice")
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.Verify(raw)
	assert.Error(t, err)
}

func TestVerifyRejectsMissingUserID(t *testing.T) {
	// Legacy username-only tokens carry no uid claim and must not pass.
	tokens := NewTokens("secret", time.Hour)

	raw, err := tokens.Issue(0, "alice")
	require.NoError(t, err)

	_, err = tokens.Verify(raw)
	assert.ErrorContains(t, err, "claims")
}
