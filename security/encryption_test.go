package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	if len(key) != KeySize {
		t.Errorf("GenerateKey() returned key of length %d, want %d", len(key), KeySize)
	}

	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	if bytes.Equal(key, key2) {
		t.Error("GenerateKey() returned identical keys")
	}
}

func TestDeriveKey(t *testing.T) {
	a := DeriveKey("correct horse battery staple")
	b := DeriveKey("correct horse battery staple")
	c := DeriveKey("another secret")

	if len(a) != KeySize {
		t.Fatalf("DeriveKey() length = %d, want %d", len(a), KeySize)
	}
	if !bytes.Equal(a, b) {
		t.Error("DeriveKey() is not deterministic for the same secret")
	}
	if bytes.Equal(a, c) {
		t.Error("DeriveKey() returned the same key for different secrets")
	}
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32)},
		{name: "nil key", key: nil, wantErr: true},
		{name: "16-byte key", key: make([]byte, 16), wantErr: true},
		{name: "64-byte key", key: make([]byte, 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncryptor_SealOpen(t *testing.T) {
	enc, err := NewEncryptor(DeriveKey("test-secret"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "simple", plaintext: []byte("hello world")},
		{name: "empty", plaintext: []byte{}},
		{name: "json", plaintext: []byte(`{"typ":"access","scopes":["galaxy:full"]}`)},
		{name: "unicode", plaintext: []byte("Hello 世界")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if strings.ContainsAny(sealed, "+/=") {
				t.Errorf("Seal() output %q is not unpadded base64url", sealed)
			}

			opened, err := enc.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(opened, tt.plaintext) {
				t.Errorf("Open() = %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestEncryptor_SealIsRandomized(t *testing.T) {
	enc, err := NewEncryptor(DeriveKey("test-secret"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	a, _ := enc.Seal([]byte("same"))
	b, _ := enc.Seal([]byte("same"))
	if a == b {
		t.Error("Seal() produced identical ciphertexts for identical input")
	}
}

func TestEncryptor_OpenFailures(t *testing.T) {
	enc, err := NewEncryptor(DeriveKey("test-secret"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	other, err := NewEncryptor(DeriveKey("other-secret"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	sealed, err := enc.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	raw, _ := base64.RawURLEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	tests := []struct {
		name  string
		enc   *Encryptor
		input string
	}{
		{name: "not base64", enc: enc, input: "!!!not-base64!!!"},
		{name: "too short", enc: enc, input: base64.RawURLEncoding.EncodeToString([]byte("short"))},
		{name: "tampered tag", enc: enc, input: tampered},
		{name: "wrong key", enc: other, input: sealed},
		{name: "empty", enc: enc, input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.enc.Open(tt.input)
			if !errors.Is(err, ErrDecrypt) {
				t.Errorf("Open() error = %v, want ErrDecrypt", err)
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	s, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("GenerateSecret() returned non-base64url value: %v", err)
	}
	if len(decoded) != KeySize {
		t.Errorf("decoded secret length = %d, want %d", len(decoded), KeySize)
	}
}
