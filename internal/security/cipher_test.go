package security

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/brianly1003/msgr/internal/domain"
)

func newTestCipher(t *testing.T) *AESCipher {
	t.Helper()
	key, err := KeyFromString("test passphrase")
	if err != nil {
		t.Fatalf("KeyFromString() error = %v", err)
	}
	c, err := NewAESCipher(key)
	if err != nil {
		t.Fatalf("NewAESCipher() error = %v", err)
	}
	return c
}

func TestAESCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{"", "hi", strings.Repeat("long body ", 500), "ünïcödé"} {
		enc, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		dec, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if dec != plaintext {
			t.Errorf("Decrypt(Encrypt(%q)) = %q", plaintext, dec)
		}
	}
}

func TestAESCipher_EnvelopeShape(t *testing.T) {
	c := newTestCipher(t)

	enc, err := c.Encrypt("hello")
	if err != nil {
		t.Fatal(err)
	}

	var env map[string]string
	if err := json.Unmarshal([]byte(enc), &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	for _, key := range []string{"iv", "tag", "data", "alg"} {
		if env[key] == "" {
			t.Errorf("envelope missing %q: %s", key, enc)
		}
	}
	if env["alg"] != Algorithm {
		t.Errorf("alg = %q, want %q", env["alg"], Algorithm)
	}

	// Fresh IV per call.
	enc2, _ := c.Encrypt("hello")
	if enc == enc2 {
		t.Error("two encryptions of the same plaintext are identical")
	}
}

func TestAESCipher_DecryptFailures(t *testing.T) {
	c := newTestCipher(t)
	enc, err := c.Encrypt("hello")
	if err != nil {
		t.Fatal(err)
	}

	var env envelope
	_ = json.Unmarshal([]byte(enc), &env)
	tampered := env
	tampered.Data = "AAAA" + env.Data[4:]
	tamperedJSON, _ := json.Marshal(tampered)
	stripped := env
	stripped.Data = ""
	strippedJSON, _ := json.Marshal(stripped)

	other, _ := NewAESCipher(make([]byte, keyLength))

	tests := []struct {
		name   string
		cipher *AESCipher
		input  string
	}{
		{"not json", c, "garbage"},
		{"missing fields", c, `{"iv":"x"}`},
		{"tampered data", c, string(tamperedJSON)},
		{"data stripped", c, string(strippedJSON)},
		{"missing tag", c, `{"iv":"AAAAAAAAAAAAAAAA","data":""}`},
		{"wrong key", other, enc},
		{"wrong alg", c, strings.Replace(enc, Algorithm, "rot13", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cipher.Decrypt(tt.input); !errors.Is(err, domain.ErrDecrypt) {
				t.Errorf("Decrypt() error = %v, want ErrDecrypt", err)
			}
		})
	}
}

func TestAESCipher_EmptyPlaintext(t *testing.T) {
	c := newTestCipher(t)
	enc, err := c.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(enc), &env); err != nil {
		t.Fatal(err)
	}
	if env.Data != "" {
		t.Errorf("data = %q, want empty", env.Data)
	}

	dec, err := c.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if dec != "" {
		t.Errorf("Decrypt() = %q, want empty", dec)
	}
}

func TestNewAESCipher_KeyLength(t *testing.T) {
	if _, err := NewAESCipher([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestKeyFromString(t *testing.T) {
	hexKey := strings.Repeat("ab", keyLength)
	key, err := KeyFromString(hexKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != keyLength || key[0] != 0xab {
		t.Errorf("hex key not decoded verbatim: %x", key)
	}

	a, _ := KeyFromString("passphrase")
	b, _ := KeyFromString("passphrase")
	if string(a) != string(b) || len(a) != keyLength {
		t.Error("passphrase keys must be deterministic and 32 bytes")
	}

	r1, _ := KeyFromString("")
	r2, _ := KeyFromString("")
	if len(r1) != keyLength || string(r1) == string(r2) {
		t.Error("empty key should produce distinct random keys")
	}
}

func TestNewMessageID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewMessageID(now)

	pattern := regexp.MustCompile(`^msg_1700000000123_[0-9a-f]{32}$`)
	if !pattern.MatchString(id) {
		t.Errorf("NewMessageID() = %q, does not match %s", id, pattern)
	}
	if NewMessageID(now) == id {
		t.Error("NewMessageID() returned duplicate ids")
	}
}
