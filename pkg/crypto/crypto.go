package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// EntropyBytes is the number of random bytes embedded in each token's
// private block as a correlation secret.
const EntropyBytes = 32

// ErrInvalidPadding signals that a decrypted block did not carry valid
// PKCS#7 padding, typically because the wrong key or IV was used.
var ErrInvalidPadding = errors.New("crypto: invalid padding")

// GenerateIV returns a fresh random initialization vector sized for AES-CBC.
func GenerateIV() ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("crypto: generate iv: %w", err)
	}
	return iv, nil
}

// GenerateEntropy returns EntropyBytes of cryptographically secure random
// data, base64 encoded for safe embedding in JSON payloads.
func GenerateEntropy() (string, error) {
	buffer := make([]byte, EntropyBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("crypto: generate entropy: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buffer), nil
}

// EncryptCBC encrypts plaintext with AES-256-CBC under the supplied key and
// IV and returns the ciphertext as a base64 string. The key must be exactly
// 32 bytes and the IV one AES block; anything else is a configuration error.
func EncryptCBC(plaintext, key, iv []byte) (string, error) {
	block, err := newBlock(key)
	if err != nil {
		return "", err
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("crypto: iv must be %d bytes (got %d)", aes.BlockSize, len(iv))
	}

	padded := padPKCS7(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptCBC decrypts a base64 AES-256-CBC ciphertext using the supplied key
// and IV, stripping PKCS#7 padding.
func DecryptCBC(encoded string, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("crypto: iv must be %d bytes (got %d)", aes.BlockSize, len(iv))
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("crypto: ciphertext is not block aligned")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return unpadPKCS7(plaintext, aes.BlockSize)
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: encryption key must be 32 bytes (got %d)", len(key))
	}
	return aes.NewCipher(key)
}

func padPKCS7(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPadding
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padding], nil
}
