package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/maglink/internal/auth"
	apperrors "github.com/charlesng35/maglink/pkg/errors"
)

const encryptionKeyBytes = 32

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// CodecConfig converts AuthConfig into token codec parameters. Both keys are
// mandatory; a server without them cannot authenticate anyone and must say so
// at startup rather than on the first request.
func (c AuthConfig) CodecConfig() (auth.CodecConfig, error) {
	if strings.TrimSpace(c.MagicLink.SigningKey) == "" {
		return auth.CodecConfig{}, apperrors.ErrCannotAuthenticate.WithInternal(
			fmt.Errorf("auth.magic_link.signing_key is not set"))
	}
	if strings.TrimSpace(c.MagicLink.EncryptionKey) == "" {
		return auth.CodecConfig{}, apperrors.ErrCannotAuthenticate.WithInternal(
			fmt.Errorf("auth.magic_link.encryption_key is not set"))
	}

	key, err := DecodeKey(c.MagicLink.EncryptionKey)
	if err != nil {
		return auth.CodecConfig{}, apperrors.ErrCannotAuthenticate.WithInternal(
			fmt.Errorf("decode auth.magic_link.encryption_key: %w", err))
	}
	if len(key) != encryptionKeyBytes {
		return auth.CodecConfig{}, apperrors.ErrCannotAuthenticate.WithInternal(
			fmt.Errorf("auth.magic_link.encryption_key must decode to %d bytes, got %d", encryptionKeyBytes, len(key)))
	}

	lifetime := c.MagicLink.TokenLifetime
	if lifetime <= 0 {
		lifetime = auth.DefaultTokenLifetime
	}

	return auth.CodecConfig{
		SigningKey:    c.MagicLink.SigningKey,
		EncryptionKey: key,
		TokenLifetime: lifetime,
	}, nil
}
