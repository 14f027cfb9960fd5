package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "togoretrouve/pkg/domain-errors"
)

func TestGenerate(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), MinPasswordLength)
}

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("correct horse battery")
	require.NoError(t, err)

	assert.NoError(t, Verify("correct horse battery", hash))
	assert.True(t, dErrors.HasCode(Verify("wrong horse", hash), dErrors.CodeUnauthorized))
}

func TestHashRejectsShortPasswords(t *testing.T) {
	_, err := Hash("short")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
