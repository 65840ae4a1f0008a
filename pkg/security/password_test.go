package security_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/security"
)

var cheapParams = config.PasswordConfig{
	ArgonMemoryKB:    1024,
	ArgonTime:        1,
	ArgonParallelism: 1,
	ArgonSaltLen:     16,
	ArgonKeyLen:      32,
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := security.HashPassword("shop-owner-pass", cheapParams)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"), hash)

	ok, err := security.VerifyPassword("shop-owner-pass", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = security.VerifyPassword("shop-owner-pass ", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordSaltsEachCall(t *testing.T) {
	first, err := security.HashPassword("same", cheapParams)
	require.NoError(t, err)
	second, err := security.HashPassword("same", cheapParams)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := security.HashPassword("", cheapParams)
	assert.Error(t, err)
}

func TestVerifyPasswordMalformedHashes(t *testing.T) {
	tests := map[string]struct {
		encoded string
		want    error
	}{
		"not a hash":    {encoded: "not-a-hash", want: security.ErrInvalidHash},
		"bcrypt":        {encoded: "$2a$10$abcdefghijklmnopqrstuv", want: security.ErrInvalidHash},
		"bad params":    {encoded: "$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5", want: security.ErrInvalidHash},
		"zero cost":     {encoded: "$argon2id$v=19$m=0,t=1,p=1$c2FsdA$a2V5", want: security.ErrInvalidHash},
		"bad salt":      {encoded: "$argon2id$v=19$m=1024,t=1,p=1$***$a2V5", want: security.ErrInvalidHash},
		"other version": {encoded: "$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$a2V5", want: security.ErrIncompatibleVersion},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ok, err := security.VerifyPassword("irrelevant", tt.encoded)
			assert.False(t, ok)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNeedsRehash(t *testing.T) {
	hash, err := security.HashPassword("shop-owner-pass", cheapParams)
	require.NoError(t, err)

	assert.False(t, security.NeedsRehash(hash, cheapParams))

	stronger := cheapParams
	stronger.ArgonTime = 3
	assert.True(t, security.NeedsRehash(hash, stronger))

	assert.True(t, security.NeedsRehash("garbage", cheapParams))
}
