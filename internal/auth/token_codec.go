package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/charlesng35/maglink/pkg/crypto"
	"github.com/charlesng35/maglink/pkg/logger"
)

// DefaultTokenLifetime is the fallback validity period for magic links.
const DefaultTokenLifetime = time.Hour

// ErrTokenInvalid is the single outcome for every validation failure:
// malformed token, bad header, signature mismatch, expiry, decryption
// failure, or correlation mismatch. The failing stage is logged at debug
// level and never surfaced, so callers cannot be used as a validation
// oracle.
var ErrTokenInvalid = errors.New("auth: invalid or expired token")

// TokenRecord carries the server-side secrets persisted alongside an issued
// token. The IV is required to decrypt the private block; email and entropy
// are compared against the decrypted content as correlation checks.
type TokenRecord struct {
	IV        []byte
	Email     string
	Entropy   string
	ExpiresAt int64
}

// IssuedToken bundles a freshly encoded token with the record the caller
// must persist before handing the token to the user.
type IssuedToken struct {
	Token  string
	Record TokenRecord
}

// CodecConfig bundles the configuration required to build a TokenCodec.
type CodecConfig struct {
	SigningKey    string
	EncryptionKey []byte
	TokenLifetime time.Duration
	Clock         func() time.Time
}

// TokenCodec builds and validates the signed, partially encrypted magic link
// tokens. It is stateless and performs no I/O; persistence belongs to the
// token store.
type TokenCodec struct {
	signingKey    []byte
	encryptionKey []byte
	lifetime      time.Duration
	now           func() time.Time
	log           *zap.Logger
}

// NewTokenCodec validates the key material and returns a codec. A missing
// signing key or an encryption key that is not 32 bytes is a configuration
// error; no token work can begin without both.
func NewTokenCodec(cfg CodecConfig) (*TokenCodec, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("token codec: signing key must be provided")
	}
	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("token codec: encryption key must be 32 bytes (got %d)", len(cfg.EncryptionKey))
	}

	lifetime := cfg.TokenLifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenCodec{
		signingKey:    []byte(cfg.SigningKey),
		encryptionKey: cfg.EncryptionKey,
		lifetime:      lifetime,
		now:           now,
		log:           logger.WithModule("token-codec"),
	}, nil
}

// linkClaims is the payload of an issued magic link token. Private holds
// the AES-256-CBC encrypted block; iat and exp come from RegisteredClaims.
type linkClaims struct {
	Private string `json:"private"`
	jwt.RegisteredClaims
}

// privateBlock is the plaintext of the encrypted claim.
type privateBlock struct {
	Email   string `json:"email"`
	Entropy string `json:"entropy"`
}

// Encode builds a signed HS256 token for the given email address and returns
// it together with the server-side record to persist. Each call generates a
// fresh IV and fresh entropy; encryption failures indicate broken key
// configuration and are returned as-is.
func (c *TokenCodec) Encode(email string) (*IssuedToken, error) {
	if email == "" {
		return nil, errors.New("token codec: email is required")
	}

	iv, err := crypto.GenerateIV()
	if err != nil {
		return nil, err
	}
	entropy, err := crypto.GenerateEntropy()
	if err != nil {
		return nil, err
	}

	block, err := json.Marshal(privateBlock{Email: email, Entropy: entropy})
	if err != nil {
		return nil, fmt.Errorf("token codec: marshal private block: %w", err)
	}

	ciphertext, err := crypto.EncryptCBC(block, c.encryptionKey, iv)
	if err != nil {
		return nil, fmt.Errorf("token codec: encrypt private block: %w", err)
	}

	now := c.now()
	expiresAt := now.Add(c.lifetime)

	claims := linkClaims{
		Private: ciphertext,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return nil, fmt.Errorf("token codec: sign token: %w", err)
	}

	return &IssuedToken{
		Token: signed,
		Record: TokenRecord{
			IV:        iv,
			Email:     email,
			Entropy:   entropy,
			ExpiresAt: expiresAt.Unix(),
		},
	}, nil
}

// Decode validates a presented token against the stored record and returns
// the authenticated email address. Checks run in order: structure, header,
// signature, expiry, decryption with the stored IV, then constant-time email
// and entropy correlation. The first failing check aborts with
// ErrTokenInvalid.
func (c *TokenCodec) Decode(tokenString string, record TokenRecord) (string, error) {
	if tokenString == "" {
		return "", c.fail("empty token")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)

	var claims linkClaims
	token, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return c.signingKey, nil
	})
	if err != nil {
		return "", c.fail("parse", zap.Error(err))
	}

	if typ, _ := token.Header["typ"].(string); typ != "JWT" {
		return "", c.fail("header type")
	}

	if claims.Private == "" {
		return "", c.fail("missing private block")
	}

	plaintext, err := crypto.DecryptCBC(claims.Private, c.encryptionKey, record.IV)
	if err != nil {
		return "", c.fail("decrypt private block", zap.Error(err))
	}

	var block privateBlock
	if err := json.Unmarshal(plaintext, &block); err != nil {
		return "", c.fail("unmarshal private block")
	}

	if block.Email == "" {
		return "", c.fail("missing email claim")
	}
	if subtle.ConstantTimeCompare([]byte(block.Email), []byte(record.Email)) != 1 {
		return "", c.fail("email correlation")
	}
	if subtle.ConstantTimeCompare([]byte(block.Entropy), []byte(record.Entropy)) != 1 {
		return "", c.fail("entropy correlation")
	}

	return block.Email, nil
}

// fail logs the failing validation stage internally and collapses it into
// the undifferentiated ErrTokenInvalid.
func (c *TokenCodec) fail(stage string, fields ...zap.Field) error {
	c.log.Debug("token validation failed", append([]zap.Field{zap.String("stage", stage)}, fields...)...)
	return ErrTokenInvalid
}
