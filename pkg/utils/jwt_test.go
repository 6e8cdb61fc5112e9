package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"

	token, expireAt, err := GenerateToken(secret, 42, RoleInstructor, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, expireAt)

	claims, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, RoleInstructor, claims.Role)

	_, err = ParseToken("another-secret-another-secret-xx", token)
	assert.Error(t, err)
}

func TestPagination(t *testing.T) {
	p := Pagination{Page: 0, Limit: 500}
	offset, limit := p.GetPageOffset()
	assert.Equal(t, 0, offset)
	assert.Equal(t, 100, limit)

	p = Pagination{Page: 3, Limit: 20}
	offset, limit = p.GetPageOffset()
	assert.Equal(t, 40, offset)
	assert.Equal(t, 20, limit)
}
