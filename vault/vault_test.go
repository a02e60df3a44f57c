package vault

import (
	"testing"

	"warmit/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	v := New("correct-horse-battery-staple")

	ciphertext, err := v.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", ciphertext)

	plaintext, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
}

func TestEncryptionIsNonDeterministic(t *testing.T) {
	v := New("correct-horse-battery-staple")

	a, err := v.Encrypt("hunter2")
	require.NoError(t, err)
	b, err := v.Encrypt("hunter2")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "two encryptions of the same plaintext must differ (fresh nonce)")
}

func TestEncryptWithoutKeyFails(t *testing.T) {
	v := New("")
	_, err := v.Encrypt("hunter2")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.EncryptionUnavailable))
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	v := New("correct-horse-battery-staple")
	ciphertext, err := v.Encrypt("hunter2")
	require.NoError(t, err)

	tampered := ciphertext[:len(ciphertext)-2] + "xx"
	_, err = v.Decrypt(tampered)
	assert.Error(t, err)
}
