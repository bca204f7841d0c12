package accesstoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "cargolink/pkg/domain-errors"
)

func TestIssueAndValidate(t *testing.T) {
	issuer := New("test-signing-key")
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	token, err := issuer.Issue(42, now, now.Add(30*24*time.Hour))
	require.NoError(t, err)

	claims, err := issuer.Validate(token, now.Add(time.Hour))
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
	assert.Equal(t, "active", claims.Plan)
}

func TestTokensAreRegenerated(t *testing.T) {
	issuer := New("test-signing-key")
	now := time.Now()

	a, err := issuer.Issue(42, now, now.Add(time.Hour))
	require.NoError(t, err)
	b, err := issuer.Issue(42, now, now.Add(time.Hour))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestValidateRejects(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	token, err := New("key-a").Issue(42, now, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = New("key-b").Validate(token, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = New("key-a").Validate(token, now.Add(2*time.Hour))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestIssueRequiresKey(t *testing.T) {
	_, err := New("").Issue(1, time.Now(), time.Now().Add(time.Hour))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
