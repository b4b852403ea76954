package hipaa

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// KeyRingConfig locates the current PHI key.
type KeyRingConfig struct {
	Source  string
	Version int
	// AllowEphemeral generates a throwaway key when the source holds none.
	// Data sealed with it cannot be read after a restart.
	AllowEphemeral bool
}

// OpenKeyRing loads the configured key and builds a KeyRing around it. An
// invalid key always fails so the service refuses to start misconfigured.
func OpenKeyRing(ctx context.Context, store *KeyStore, cfg KeyRingConfig, logger zerolog.Logger) (*KeyRing, error) {
	if cfg.Version <= 0 {
		cfg.Version = 1
	}

	key, err := store.Load(ctx, cfg.Source)
	switch {
	case err == nil:
	case errors.Is(err, ErrKeyNotFound) && cfg.AllowEphemeral:
		logger.Warn().Str("source", describeSource(cfg.Source)).
			Msg("PHI encryption key not configured; using an ephemeral key")
		if key, err = GenerateEncryptionKey(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load PHI encryption key: %w", err)
	}

	ring, err := NewKeyRing(key, cfg.Version, store.alg)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("key_version", cfg.Version).Str("algorithm", ring.Algorithm()).
		Msg("PHI field-level encryption enabled")
	return ring, nil
}
