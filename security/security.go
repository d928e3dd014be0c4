/*
Package security provides the cryptographic utilities the platform needs:
AES-256-GCM secret encryption, HMAC-SHA256 request signing and bcrypt
password hashing.

Webhook credentials are encrypted at rest with a key derived from the
configured master passphrase (SHA-256 of the passphrase yields the 32-byte
AES-256 key). Outbound webhook requests are signed with the webhook's
shared secret so receivers can verify origin and integrity.
*/
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// Encrypt encrypts plaintext with AES-256-GCM using a key derived from
// pass and returns the base64-encoded nonce+ciphertext.
func Encrypt(pass, plaintext string) (string, error) {
	key := sha256.Sum256([]byte(pass)) // 32 bytes = AES-256 key
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := aesGCM.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. It verifies authenticity and integrity and
// fails if the ciphertext was tampered with or the passphrase is wrong.
func Decrypt(pass, encoded string) (string, error) {
	key := sha256.Sum256([]byte(pass))
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}
	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Sign computes the hex-encoded HMAC-SHA256 of the raw request body
// under secret. Receivers recompute it and compare against the
// X-IDP-Signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid Sign output for the given
// secret and body. Comparison is constant-time.
func Verify(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
