package hipaa

import (
	"fmt"
	"sync"
)

// KeyRing holds versioned keys. New ciphertext is sealed with the current
// version and stamped with it; older versions stay available for decryption
// until data has been re-encrypted.
type KeyRing struct {
	mu         sync.RWMutex
	alg        string
	currentVer int
	keys       map[int]string
}

// NewKeyRing creates a ring whose current key is hexKey at version. Versions
// must be positive.
func NewKeyRing(hexKey string, version int, alg string) (*KeyRing, error) {
	if alg == "" {
		alg = DefaultAlgorithm
	}
	if version <= 0 {
		return nil, fmt.Errorf("%w: key version must be positive, got %d", ErrInvalidKey, version)
	}
	if err := ValidateKey(hexKey, alg); err != nil {
		return nil, fmt.Errorf("key ring: current key: %w", err)
	}
	return &KeyRing{
		alg:        alg,
		currentVer: version,
		keys:       map[int]string{version: hexKey},
	}, nil
}

// AddKey makes an older key available for decryption.
func (r *KeyRing) AddKey(hexKey string, version int) error {
	if version <= 0 {
		return fmt.Errorf("%w: key version must be positive, got %d", ErrInvalidKey, version)
	}
	if err := ValidateKey(hexKey, r.alg); err != nil {
		return fmt.Errorf("key ring: key v%d: %w", version, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[version] = hexKey
	return nil
}

// Promote adds hexKey as the new current version. The previous current key
// remains available for decryption.
func (r *KeyRing) Promote(hexKey string, version int) error {
	if err := r.AddKey(hexKey, version); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentVer = version
	return nil
}

// CurrentVersion returns the version new ciphertext is stamped with.
func (r *KeyRing) CurrentVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentVer
}

// Algorithm returns the ring's cipher.
func (r *KeyRing) Algorithm() string {
	return r.alg
}

func (r *KeyRing) encrypt(plaintext string) (*EncryptedField, error) {
	r.mu.RLock()
	ver := r.currentVer
	key := r.keys[ver]
	r.mu.RUnlock()

	f, err := Encrypt(plaintext, key, r.alg)
	if err != nil {
		return nil, err
	}
	f.KeyVersion = ver
	return f, nil
}

// decrypt uses the key recorded on f. Unversioned fields predate the ring
// and are tried with the current key.
func (r *KeyRing) decrypt(f *EncryptedField) (string, error) {
	if f == nil {
		return "", cryptoFail("decrypt", ErrDecryption, "missing encrypted field")
	}
	r.mu.RLock()
	ver := f.KeyVersion
	if ver == 0 {
		ver = r.currentVer
	}
	key, ok := r.keys[ver]
	r.mu.RUnlock()
	if !ok {
		return "", cryptoFail("decrypt", ErrKeyNotFound, fmt.Sprintf("no key for version %d", ver))
	}
	return Decrypt(f, key, r.alg)
}

// EncryptField seals value with the current key.
func (r *KeyRing) EncryptField(value string) (*EncryptedField, error) {
	return r.encrypt(value)
}

// DecryptField opens f with the key version it was sealed with.
func (r *KeyRing) DecryptField(f *EncryptedField) (string, error) {
	return r.decrypt(f)
}

// EncryptObject is the package EncryptObject using the current key.
func (r *KeyRing) EncryptObject(data map[string]any, fields []string) (map[string]any, error) {
	return encryptObject(data, fields, r)
}

// DecryptObject is the package DecryptObject using each field's key version.
func (r *KeyRing) DecryptObject(data map[string]any, fields []string) (map[string]any, error) {
	return decryptObject(data, fields, r)
}

// NeedsReEncryption reports whether f was sealed with a non-current key.
func (r *KeyRing) NeedsReEncryption(f *EncryptedField) bool {
	return f.KeyVersion != r.CurrentVersion()
}

// ReEncrypt opens f and seals the plaintext again with the current key.
func (r *KeyRing) ReEncrypt(f *EncryptedField) (*EncryptedField, error) {
	plaintext, err := r.decrypt(f)
	if err != nil {
		return nil, fmt.Errorf("re-encrypt: %w", err)
	}
	return r.encrypt(plaintext)
}
