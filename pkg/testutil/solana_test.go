package testutil

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateSolanaKeys(t *testing.T) {
	keys := GenerateSolanaKeys(t, 4)
	assert.Len(t, keys, 4)
	for _, key := range keys {
		assert.Len(t, key, ed25519.PublicKeySize)
	}
	assert.NotEqual(t, keys[0], keys[1])

	keypairs := GenerateSolanaKeypairs(t, 2)
	assert.Len(t, keypairs, 2)
	assert.Len(t, keypairs[0], ed25519.PrivateKeySize)
}

func TestIsVerbose(t *testing.T) {
	assert.True(t, isVerbose([]string{"pkg.test", "-test.v"}))
	assert.True(t, isVerbose([]string{"pkg.test", "-test.v=true"}))
	assert.True(t, isVerbose([]string{"pkg.test", "-test.v=test2json"}))
	assert.False(t, isVerbose([]string{"pkg.test", "-test.v=false"}))
	assert.False(t, isVerbose([]string{"pkg.test", "-test.run=TestIsVerbose"}))
}
