package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults populates the session JWT secret when none is
// configured. Magic-link keys are deliberately never generated: a throwaway
// key would invalidate every outstanding link on restart, and this service
// has no other way to sign anyone in. It returns a map describing which keys
// were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := generateHexKey(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
