// Package cipher provides AEAD encryption of broker secrets at rest, keyed
// by a versioned key fetched from the external secret store. Output format:
// "v<version>:" + base64(nonce | ciphertext | tag). Tampering or a wrong key
// version yields ErrDecryptionFailed, never corrupted plaintext.
package cipher

import (
	"context"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/secrets"
)

const (
	keySize    = 32 // AES-256
	nonceSize  = 12
	iterations = 210_000 // PBKDF2-SHA-256, derived once per key version
)

// salt binds derived keys to this service; rotating it invalidates every
// ciphertext, so it is fixed for the lifetime of the data.
var salt = []byte("trademaster-broker-auth/credential-cipher/v1")

var (
	// ErrEncryptionFailed is returned when sealing fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrDecryptionFailed is returned on tamper, wrong key, or malformed input.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Cipher encrypts and decrypts credential payloads. Derived keys are cached
// per version; the secret store is consulted once per version.
type Cipher struct {
	store   secrets.Store
	keyPath string
	version int

	mu   sync.RWMutex
	keys map[int][]byte
}

// New returns a Cipher that encrypts with the given current key version.
// keyPath is the secret-store path holding the key material; versions are
// addressed as keyPath + "#v<N>".
func New(store secrets.Store, keyPath string, version int) *Cipher {
	return &Cipher{
		store:   store,
		keyPath: keyPath,
		version: version,
		keys:    make(map[int][]byte),
	}
}

// Encrypt seals plaintext under the current key version.
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	aead, err := c.aead(ctx, c.version)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("v%d:%s", c.version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decrypt opens a ciphertext produced by Encrypt, honoring the version
// prefix so older ciphertexts remain readable after a key rotation.
func (c *Cipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	version, raw, err := parse(ciphertext)
	if err != nil {
		return "", err
	}
	aead, err := c.aead(ctx, version)
	if err != nil {
		return "", fmt.Errorf("%w: key version %d unavailable", ErrDecryptionFailed, version)
	}
	if len(raw) < nonceSize {
		return "", ErrDecryptionFailed
	}
	plain, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		// Authentication tag mismatch: tampered data or wrong key.
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

func parse(ciphertext string) (int, []byte, error) {
	rest, ok := strings.CutPrefix(ciphertext, "v")
	if !ok {
		return 0, nil, ErrDecryptionFailed
	}
	verStr, b64, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, nil, ErrDecryptionFailed
	}
	version, err := strconv.Atoi(verStr)
	if err != nil || version <= 0 {
		return 0, nil, ErrDecryptionFailed
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return 0, nil, ErrDecryptionFailed
	}
	return version, raw, nil
}

func (c *Cipher) aead(ctx context.Context, version int) (stdcipher.AEAD, error) {
	key, err := c.key(ctx, version)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return stdcipher.NewGCM(block)
}

func (c *Cipher) key(ctx context.Context, version int) ([]byte, error) {
	c.mu.RLock()
	key, ok := c.keys[version]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	material, err := c.store.Get(ctx, fmt.Sprintf("%s#v%d", c.keyPath, version))
	if err != nil {
		return nil, err
	}
	key = pbkdf2.Key([]byte(material), salt, iterations, keySize, sha256.New)

	c.mu.Lock()
	c.keys[version] = key
	c.mu.Unlock()
	return key, nil
}
