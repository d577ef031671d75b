package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"reachly/config"
)

// Encrypt seals a credential or session token for storage on a sender
// row. Empty input stays empty so optional secrets round-trip cleanly.
func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher([]byte(config.AppConfig.EncryptionKey))
	if err != nil {
		return "", fmt.Errorf("bad encryption key: %w", err)
	}

	sealed := make([]byte, aes.BlockSize+len(plaintext))
	iv := sealed[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(sealed[aes.BlockSize:], []byte(plaintext))

	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	block, err := aes.NewCipher([]byte(config.AppConfig.EncryptionKey))
	if err != nil {
		return "", fmt.Errorf("bad encryption key: %w", err)
	}

	sealed, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("stored value is not valid base64: %w", err)
	}
	if len(sealed) < aes.BlockSize {
		return "", fmt.Errorf("stored value too short to hold an IV")
	}

	iv := sealed[:aes.BlockSize]
	payload := sealed[aes.BlockSize:]
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(payload, payload)

	return string(payload), nil
}
