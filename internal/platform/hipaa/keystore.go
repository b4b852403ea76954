package hipaa

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

const (
	envSourcePrefix   = "env:"
	vaultSourcePrefix = "vault:"
)

// VaultLogical is the subset of the Vault client used for KV reads and
// writes. *vault.Logical satisfies it.
type VaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vault.Secret, error)
}

// NewVaultClient builds a Vault client for addr authenticated with token.
// Empty values fall back to VAULT_ADDR and VAULT_TOKEN.
func NewVaultClient(addr, token string) (*vault.Client, error) {
	cfg := vault.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	return client, nil
}

// KeyStore loads and saves hex encryption keys. A source is "env:NAME",
// "vault:<kv v2 path>" or a filesystem path.
type KeyStore struct {
	vault  VaultLogical
	alg    string
	logger zerolog.Logger
}

// NewKeyStore returns a KeyStore. v may be nil when no vault source is used.
func NewKeyStore(v VaultLogical, alg string, logger zerolog.Logger) *KeyStore {
	if alg == "" {
		alg = DefaultAlgorithm
	}
	return &KeyStore{
		vault:  v,
		alg:    alg,
		logger: logger.With().Str("component", "keystore").Logger(),
	}
}

// Load reads and validates the key at source.
func (s *KeyStore) Load(ctx context.Context, source string) (string, error) {
	key, err := s.read(ctx, source)
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrKeyNotFound, describeSource(source))
	}
	if err := ValidateKey(key, s.alg); err != nil {
		return "", fmt.Errorf("%s: %w", describeSource(source), err)
	}
	return key, nil
}

func (s *KeyStore) read(ctx context.Context, source string) (string, error) {
	switch {
	case strings.HasPrefix(source, envSourcePrefix):
		return os.Getenv(strings.TrimPrefix(source, envSourcePrefix)), nil

	case strings.HasPrefix(source, vaultSourcePrefix):
		if s.vault == nil {
			return "", fmt.Errorf("keystore: %s requires a vault client", describeSource(source))
		}
		path := strings.TrimPrefix(source, vaultSourcePrefix)
		secret, err := s.vault.ReadWithContext(ctx, path)
		if err != nil {
			return "", fmt.Errorf("keystore: read vault secret at %s: %w", path, err)
		}
		if secret == nil || secret.Data == nil {
			return "", fmt.Errorf("%w: no vault secret at %s", ErrKeyNotFound, path)
		}
		data, ok := secret.Data["data"].(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("keystore: invalid secret format at %s", path)
		}
		value, ok := data["value"].(string)
		if !ok {
			return "", fmt.Errorf("%w: no value at %s", ErrKeyNotFound, path)
		}
		return value, nil

	default:
		b, err := os.ReadFile(source)
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, describeSource(source))
		}
		if err != nil {
			return "", fmt.Errorf("keystore: read key file: %w", err)
		}
		return string(b), nil
	}
}

// Save writes hexKey to source. Files are written with mode 0600; env
// sources are read-only.
func (s *KeyStore) Save(ctx context.Context, source, hexKey string) error {
	if err := ValidateKey(hexKey, s.alg); err != nil {
		return err
	}
	switch {
	case strings.HasPrefix(source, envSourcePrefix):
		return fmt.Errorf("keystore: %s is read-only", describeSource(source))

	case strings.HasPrefix(source, vaultSourcePrefix):
		if s.vault == nil {
			return fmt.Errorf("keystore: %s requires a vault client", describeSource(source))
		}
		path := strings.TrimPrefix(source, vaultSourcePrefix)
		_, err := s.vault.WriteWithContext(ctx, path, map[string]interface{}{
			"data": map[string]interface{}{"value": hexKey},
		})
		if err != nil {
			return fmt.Errorf("keystore: write vault secret at %s: %w", path, err)
		}
		return nil

	default:
		if err := os.MkdirAll(filepath.Dir(source), 0o700); err != nil {
			return fmt.Errorf("keystore: create key directory: %w", err)
		}
		tmp := source + ".tmp"
		if err := os.WriteFile(tmp, []byte(hexKey+"\n"), 0o600); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("keystore: write key file: %w", err)
		}
		if err := os.Chmod(tmp, 0o600); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("keystore: chmod key file: %w", err)
		}
		if err := os.Rename(tmp, source); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("keystore: replace key file: %w", err)
		}
		return nil
	}
}

// Rotate generates a new key for source, saves it, then calls reencrypt with
// the old and new keys so stored ciphertext can be migrated. If reencrypt
// fails the new key stays saved and the error is returned. The new key is
// returned on success.
func (s *KeyStore) Rotate(ctx context.Context, source string, reencrypt func(oldKey, newKey string) error) (string, error) {
	oldKey, err := s.Load(ctx, source)
	if err != nil {
		return "", fmt.Errorf("rotate: load current key: %w", err)
	}
	newKey, err := GenerateEncryptionKey()
	if err != nil {
		return "", err
	}
	if err := s.Save(ctx, source, newKey); err != nil {
		return "", fmt.Errorf("rotate: save new key: %w", err)
	}
	s.logger.Info().Str("source", describeSource(source)).Msg("encryption key rotated")

	if reencrypt != nil {
		if err := reencrypt(oldKey, newKey); err != nil {
			s.logger.Error().Err(err).Str("source", describeSource(source)).Msg("re-encryption after key rotation failed")
			return newKey, fmt.Errorf("rotate: re-encrypt: %w", err)
		}
	}
	return newKey, nil
}

// describeSource names a source for logs and errors without any key content.
func describeSource(source string) string {
	switch {
	case strings.HasPrefix(source, envSourcePrefix):
		return "environment variable " + strings.TrimPrefix(source, envSourcePrefix)
	case strings.HasPrefix(source, vaultSourcePrefix):
		return "vault path " + strings.TrimPrefix(source, vaultSourcePrefix)
	default:
		return "key file " + source
	}
}
