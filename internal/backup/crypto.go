package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

var errCiphertextTooShort = errors.New("encrypted snapshot too small")

// deriveKey derives a 32-byte AES-256 key from a passphrase and salt using Argon2id.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// seal encrypts a snapshot with a fresh salt and nonce.
// Output format: [16-byte salt][12-byte nonce][AES-256-GCM ciphertext]
func seal(plaintext []byte, passphrase string) ([]byte, error) {
	header := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return nil, fmt.Errorf("generate salt and nonce: %w", err)
	}

	gcm, err := newGCM(passphrase, header[:saltSize])
	if err != nil {
		return nil, err
	}
	return gcm.Seal(header, header[saltSize:], plaintext, nil), nil
}

// Open decrypts a snapshot produced by an encrypted backup run.
func Open(data []byte, passphrase string) ([]byte, error) {
	if len(data) < saltSize+nonceSize {
		return nil, errCiphertextTooShort
	}

	gcm, err := newGCM(passphrase, data[:saltSize])
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, data[saltSize:saltSize+nonceSize], data[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
