package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAuthorizerAcceptsNonEmptyToken(t *testing.T) {
	principal, err := OpenAuthorizer{}.Authenticate("tok-123")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", principal)
}

func TestOpenAuthorizerRejectsEmptyToken(t *testing.T) {
	_, err := OpenAuthorizer{}.Authenticate("")
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestOpenAuthorizerGrantsEverything(t *testing.T) {
	assert.True(t, OpenAuthorizer{}.CanAccess("anyone", "any-doc"))
}
