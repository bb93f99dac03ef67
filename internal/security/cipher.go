package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/brianly1003/msgr/internal/domain"
)

// Algorithm is the only algorithm produced by AESCipher.
const Algorithm = "aes-256-gcm"

const (
	keyLength = 32
	ivLength  = 12
	tagLength = 16
)

// Cipher is the encryption boundary of the messenger. The contract is the
// interface; the strength of any implementation is out of scope.
type Cipher interface {
	// Encrypt returns an opaque, self-describing envelope for plaintext.
	Encrypt(plaintext string) (string, error)

	// Decrypt reverses Encrypt. It fails if the envelope was tampered with.
	Decrypt(envelope string) (string, error)
}

// envelope is the JSON form produced by AESCipher.Encrypt.
type envelope struct {
	IV   string `json:"iv"`
	Tag  string `json:"tag"`
	Data string `json:"data"`
	Alg  string `json:"alg"`
}

// AESCipher implements Cipher with AES-256-GCM.
type AESCipher struct {
	aead cipher.AEAD
}

// NewAESCipher creates a cipher from a 32-byte key.
func NewAESCipher(key []byte) (*AESCipher, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESCipher{aead: aead}, nil
}

// KeyFromString turns a configured key into 32 key bytes. A 64-character
// hex string is used verbatim; anything else is hashed with SHA-256. An
// empty string yields a random key.
func KeyFromString(s string) ([]byte, error) {
	if s == "" {
		key := make([]byte, keyLength)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		return key, nil
	}
	if len(s) == keyLength*2 {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	sum := sha256.Sum256([]byte(s))
	return sum[:], nil
}

// Encrypt seals plaintext under a fresh random IV.
func (c *AESCipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	data, err := json.Marshal(envelope{
		IV:   base64.StdEncoding.EncodeToString(iv),
		Tag:  base64.StdEncoding.EncodeToString(tag),
		Data: base64.StdEncoding.EncodeToString(ciphertext),
		Alg:  Algorithm,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (c *AESCipher) Decrypt(encoded string) (string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(encoded), &env); err != nil {
		return "", fmt.Errorf("%w: invalid envelope format", domain.ErrDecrypt)
	}
	// Data is empty for an empty plaintext.
	if env.IV == "" || env.Tag == "" {
		return "", fmt.Errorf("%w: missing required envelope fields", domain.ErrDecrypt)
	}
	if env.Alg != "" && env.Alg != Algorithm {
		return "", fmt.Errorf("%w: unsupported algorithm %q", domain.ErrDecrypt, env.Alg)
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != ivLength {
		return "", fmt.Errorf("%w: invalid iv", domain.ErrDecrypt)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != tagLength {
		return "", fmt.Errorf("%w: invalid tag", domain.ErrDecrypt)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return "", fmt.Errorf("%w: invalid data", domain.ErrDecrypt)
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// Ensure AESCipher implements Cipher.
var _ Cipher = (*AESCipher)(nil)
