package marketplace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateSession(t *testing.T) {
	mgr := NewSessionManager([]byte("a-very-secret-test-key-32-bytes"), time.Hour)

	token, err := mgr.IssueSession("providerAddr1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := mgr.ValidateSession(token)
	require.NoError(t, err)
	require.Equal(t, "providerAddr1", claims.ProviderAddress)
	require.Equal(t, "providerAddr1", claims.Subject)
}

func TestValidateSessionRejectsWrongSecret(t *testing.T) {
	mgr := NewSessionManager([]byte("secret-one-secret-one-secret-one"), time.Hour)
	token, err := mgr.IssueSession("providerAddr1")
	require.NoError(t, err)

	other := NewSessionManager([]byte("secret-two-secret-two-secret-two"), time.Hour)
	_, err = other.ValidateSession(token)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestValidateSessionRejectsExpired(t *testing.T) {
	mgr := NewSessionManager([]byte("a-very-secret-test-key-32-bytes"), -time.Hour)
	token, err := mgr.IssueSession("providerAddr1")
	require.NoError(t, err)

	_, err = mgr.ValidateSession(token)
	require.ErrorIs(t, err, ErrInvalidSession)
}
