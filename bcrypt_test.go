package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "Valid password", password: "securePassword123!"},
		{name: "Unicode password", password: "pässwörd-ñ"},
		{name: "Empty password", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.Hash(tt.password)
			if tt.wantErr {
				assert.ErrorIs(t, err, auth.ErrNoEmptyString)
				return
			}

			require.NoError(t, err)
			assert.NotEqual(t, tt.password, hash)

			cost, err := bcrypt.Cost([]byte(hash))
			require.NoError(t, err)
			assert.Equal(t, bcrypt.MinCost, cost)

			assert.NoError(t, hasher.Verify(tt.password, hash))
			assert.ErrorIs(t, hasher.Verify(tt.password+"x", hash), auth.ErrInvalidCredential)
		})
	}
}

func TestBcryptHasher_VerifyEdgeCases(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	assert.ErrorIs(t, hasher.Verify("anything", ""), auth.ErrInvalidCredential)

	err := hasher.Verify("anything", "not-a-bcrypt-hash")
	assert.Error(t, err)
	assert.Equal(t, auth.KindInternal, auth.ErrorKind(err))
}

func TestNewBcryptHasher_OutOfRangeCost(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MaxCost + 1)

	hash, err := hasher.Hash("password")
	require.NoError(t, err)
	assert.NoError(t, hasher.Verify("password", hash))
}
