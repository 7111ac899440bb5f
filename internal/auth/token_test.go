package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	iss := NewIssuer("s3cret", time.Hour)
	token, err := iss.Issue(Identity{AccountID: 42, Role: RolePerformer})
	require.NoError(t, err)

	id, err := iss.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.AccountID)
	assert.Equal(t, RolePerformer, id.Role)
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	token, err := NewIssuer("a", time.Hour).Issue(Identity{AccountID: 1})
	require.NoError(t, err)

	_, err = NewIssuer("b", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	iss := NewIssuer("s3cret", time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := iss.Issue(Identity{AccountID: 1})
	require.NoError(t, err)

	_, err = NewIssuer("s3cret", time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyDefaultsRole(t *testing.T) {
	iss := NewIssuer("s3cret", time.Hour)
	token, err := iss.Issue(Identity{AccountID: 7})
	require.NoError(t, err)

	id, err := iss.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleRegular, id.Role)
}
