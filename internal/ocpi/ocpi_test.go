package ocpi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorUnwrapsKindAndCause(t *testing.T) {
	err := &Error{Op: "get versions", Kind: ErrNoMatchingEndpoints, Retryable: true, Err: context.DeadlineExceeded}
	wrapped := fmt.Errorf("negotiate: %w", err)

	assert.ErrorIs(t, wrapped, ErrNoMatchingEndpoints)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrNoMatchingEndpoints, KindOf(wrapped))
	assert.Equal(t, "no_matching_endpoints", KindName(wrapped))
}

func TestKindOfPlainSentinel(t *testing.T) {
	err := fmt.Errorf("lookup: %w", ErrUnknownToken)
	assert.Equal(t, ErrUnknownToken, KindOf(err))
	assert.False(t, IsRetryable(err))
	assert.Nil(t, KindOf(errors.New("other")))
	assert.Equal(t, "unknown", KindName(errors.New("other")))
}

func TestStatusCodeMapping(t *testing.T) {
	assert.Equal(t, StatusUnknownToken, StatusCodeFor(ErrUnknownToken))
	assert.Equal(t, StatusUnsupportedVersion, StatusCodeFor(ErrUnsupportedVersion))
	assert.Equal(t, StatusServerError, StatusCodeFor(errors.New("x")))

	kind, retryable := KindForStatusCode(StatusUnknownToken)
	assert.Equal(t, ErrUnknownToken, kind)
	assert.False(t, retryable)

	kind, retryable = KindForStatusCode(StatusUnableToUseClient)
	assert.Equal(t, ErrUnableToUseClient, kind)
	assert.True(t, retryable)
}

func TestTokenCandidates(t *testing.T) {
	header := AuthorizationHeader("abc123")
	assert.Equal(t, "Token YWJjMTIz", header)
	assert.Equal(t, []string{"abc123", "YWJjMTIz"}, TokenCandidates(header))

	assert.Equal(t, []string{"plain-token"}, TokenCandidates("Token plain-token"))
	assert.Nil(t, TokenCandidates("Bearer abc"))
	assert.Nil(t, TokenCandidates("Token "))
}

func TestEndpointRolesFor(t *testing.T) {
	assert.Equal(t, []EndpointRole{EndpointRoleCPO}, EndpointRolesFor([]Role{RoleCPO}))
	assert.Equal(t, []EndpointRole{EndpointRoleCPO, EndpointRoleEMSP}, EndpointRolesFor([]Role{RoleHUB}))
	assert.Empty(t, EndpointRolesFor(nil))

	role, ok := ParseEndpointRole("EMSP")
	require.True(t, ok)
	assert.Equal(t, EndpointRoleEMSP, role)
	_, ok = ParseEndpointRole("SENDER")
	assert.False(t, ok)
}
