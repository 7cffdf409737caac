package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zane-analytics/meta-ads-mcp/internal/auth"
)

func TestIssueAndVerify(t *testing.T) {
	v := auth.NewVerifier("test-secret")

	tok, err := v.Issue("user-1", time.Hour)
	require.NoError(t, err)

	userID, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := auth.NewVerifier("secret-a")
	verifier := auth.NewVerifier("secret-b")

	tok, err := issuer.Issue("user-1", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := auth.NewVerifier("test-secret")

	tok, err := v.Issue("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := auth.NewVerifier("test-secret")

	cases := []string{"", "not-a-jwt", "a.b.c"}
	for _, tok := range cases {
		_, err := v.Verify(tok)
		assert.ErrorIs(t, err, auth.ErrInvalidToken, tok)
	}
}

func TestTokenWithoutUserIDRejected(t *testing.T) {
	// A structurally valid token missing the user_id claim must not verify.
	v := auth.NewVerifier("test-secret")

	tok, err := v.Issue("", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
