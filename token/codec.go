package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/galaxyproject/galaxy-mcp/security"
)

// ErrInvalidToken is returned when a token cannot be decrypted, is malformed,
// or carries a different type than the caller expects.
var ErrInvalidToken = errors.New("invalid token")

// Codec converts Claims to opaque strings and back.
type Codec struct {
	enc *security.Encryptor
}

// NewCodec creates a codec over an existing encryptor.
func NewCodec(enc *security.Encryptor) *Codec {
	return &Codec{enc: enc}
}

// NewCodecFromSecret derives the codec key from secret. An empty secret gets a
// random key, which means every token is lost when the process restarts.
func NewCodecFromSecret(secret string, logger *slog.Logger) (*Codec, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var key []byte
	if secret != "" {
		key = security.DeriveKey(secret)
	} else {
		var err error
		key, err = security.GenerateKey()
		if err != nil {
			return nil, err
		}
		logger.Warn("session secret is not set; generated a volatile key, all tokens become invalid on restart",
			"hint", "run `galaxy-mcp secret` to create one")
	}

	enc, err := security.NewEncryptor(key)
	if err != nil {
		return nil, err
	}
	return NewCodec(enc), nil
}

// Encode seals claims into a token string.
func (c *Codec) Encode(claims *Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	return c.enc.Seal(payload)
}

// Decode opens a token and checks that it is of the expected type. Expiry is
// left to the caller, since each token kind handles it differently.
func (c *Codec) Decode(raw string, expected Type) (*Claims, error) {
	payload, err := c.enc.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: malformed claims", ErrInvalidToken)
	}

	if claims.Type != expected {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, expected, claims.Type)
	}

	return &claims, nil
}
