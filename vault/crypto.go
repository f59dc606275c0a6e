package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

// randReader is swapped in tests to exercise the nonce failure path.
var randReader io.Reader = rand.Reader

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeriveKey turns a passphrase into the 32-byte session key. The salt is
// fixed, so the same passphrase always yields the same key.
func DeriveKey(passphrase string) SessionKey {
	return pbkdf2.Key([]byte(passphrase), []byte(KDFSalt), KDFIterations, KeyLen, sha256.New)
}

// HashPassphrase returns base64(SHA-256(passphrase)), the value kept in the
// master key record.
func HashPassphrase(passphrase string) string {
	sum := sha256.Sum256([]byte(passphrase))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Cipher seals and opens single vault values.
type Cipher interface {
	Seal(plaintext string) (string, error)
	Open(blob string) (string, error)
}

// AESCipher is AES-256-GCM keyed with a session key. It is safe for
// concurrent use.
type AESCipher struct {
	aead cipher.AEAD
}

func NewCipher(key SessionKey) (*AESCipher, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", KeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESCipher{aead: aead}, nil
}

func mustCipher(key SessionKey) *AESCipher {
	c, err := NewCipher(key)
	if err != nil {
		panic(err)
	}
	return c
}

// Seal encrypts plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext || tag).
func (c *AESCipher) Seal(plaintext string) (string, error) {
	nonce, err := randBytes(NonceLen)
	if err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Any failure, whatever the stage, is ErrDecrypt.
func (c *AESCipher) Open(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(raw) < NonceLen+TagLen {
		return "", ErrDecrypt
	}
	pt, err := c.aead.Open(nil, raw[:NonceLen], raw[NonceLen:], nil)
	if err != nil || !utf8.Valid(pt) {
		return "", ErrDecrypt
	}
	return string(pt), nil
}

// Encrypt derives the key from passphrase and seals plaintext.
func Encrypt(plaintext, passphrase string) (string, error) {
	key := DeriveKey(passphrase)
	defer key.Zero()
	return mustCipher(key).Seal(plaintext)
}

// Decrypt derives the key from passphrase and opens blob.
func Decrypt(blob, passphrase string) (string, error) {
	key := DeriveKey(passphrase)
	defer key.Zero()
	return mustCipher(key).Open(blob)
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".fvlt-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
