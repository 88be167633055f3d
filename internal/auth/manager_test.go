package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	m := NewManager("test-secret")
	require.True(t, m.Enabled())

	token, err := m.IssueToken("agent-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.RegisteredClaims.Subject)
	assert.Equal(t, "crewmesh", claims.Issuer)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a").IssueToken("agent-1")
	require.NoError(t, err)

	_, err = NewManager("secret-b").ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := NewManager("secret").ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestDisabledManager(t *testing.T) {
	m := NewManager("")
	assert.False(t, m.Enabled())

	_, err := m.IssueToken("agent-1")
	assert.Error(t, err)
}
