package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encrypted, err := Encrypt("master-pass", "erp-secret-token")
	require.NoError(t, err)
	assert.NotEqual(t, "erp-secret-token", encrypted)

	decrypted, err := Decrypt("master-pass", encrypted)
	require.NoError(t, err)
	assert.Equal(t, "erp-secret-token", decrypted)
}

func TestEncryptNonceIsRandom(t *testing.T) {
	a, err := Encrypt("pass", "same plaintext")
	require.NoError(t, err)
	b, err := Encrypt("pass", "same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	encrypted, err := Encrypt("right", "secret")
	require.NoError(t, err)

	_, err = Decrypt("wrong", encrypted)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	_, err := Decrypt("pass", "not base64 %%%")
	assert.Error(t, err)

	_, err = Decrypt("pass", "dG9vc2hvcnQ=")
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"task_id":"01J"}`)
	sig := Sign("shared-secret", body)

	assert.Len(t, sig, 64) // hex SHA-256
	assert.True(t, Verify("shared-secret", body, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	body := []byte(`{"amount":"100"}`)
	sig := Sign("shared-secret", body)

	assert.False(t, Verify("shared-secret", []byte(`{"amount":"999"}`), sig))
	assert.False(t, Verify("other-secret", body, sig))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, VerifyPassword(hash, "hunter2"))
	assert.False(t, VerifyPassword(hash, "hunter3"))
}
