package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/rcm/rcm/internal/platform/metrics"
)

// Supported AES-GCM algorithms.
const (
	AlgorithmAES128GCM = "aes-128-gcm"
	AlgorithmAES192GCM = "aes-192-gcm"
	AlgorithmAES256GCM = "aes-256-gcm"

	DefaultAlgorithm = AlgorithmAES256GCM
)

const (
	ivSize  = 16
	tagSize = 16
)

var (
	ErrEncryption  = errors.New("hipaa: encryption failed")
	ErrDecryption  = errors.New("hipaa: decryption failed")
	ErrInvalidKey  = errors.New("hipaa: invalid encryption key")
	ErrKeyNotFound = errors.New("hipaa: encryption key not found")
)

// CryptoError records the failed operation. Err wraps one of the package
// sentinels. Key material never appears in the message.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("hipaa %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

func cryptoFail(op string, sentinel error, detail string) error {
	metrics.CryptoFailures.WithLabelValues(op).Inc()
	if detail == "" {
		return &CryptoError{Op: op, Err: sentinel}
	}
	return &CryptoError{Op: op, Err: fmt.Errorf("%w: %s", sentinel, detail)}
}

func keySize(alg string) (int, bool) {
	switch alg {
	case AlgorithmAES128GCM:
		return 16, true
	case AlgorithmAES192GCM:
		return 24, true
	case AlgorithmAES256GCM:
		return 32, true
	}
	return 0, false
}

// parseKey decodes a hex key and checks its length against alg.
func parseKey(hexKey, alg string) ([]byte, error) {
	size, ok := keySize(alg)
	if !ok {
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.New("key is not valid hex")
	}
	if len(key) != size {
		return nil, fmt.Errorf("%s requires a %d-byte key, got %d bytes", alg, size, len(key))
	}
	return key, nil
}

func newGCM(hexKey, alg string) (cipher.AEAD, error) {
	key, err := parseKey(hexKey, alg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivSize)
}

// Encrypt seals plaintext with AES-GCM under hexKey using a fresh random IV.
// An empty alg selects DefaultAlgorithm. Empty plaintext is rejected.
func Encrypt(plaintext, hexKey, alg string) (*EncryptedField, error) {
	if alg == "" {
		alg = DefaultAlgorithm
	}
	if plaintext == "" {
		return nil, cryptoFail("encrypt", ErrEncryption, "empty plaintext")
	}
	gcm, err := newGCM(hexKey, alg)
	if err != nil {
		return nil, cryptoFail("encrypt", ErrInvalidKey, err.Error())
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, cryptoFail("encrypt", ErrEncryption, "generate iv")
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return &EncryptedField{
		Content:   base64.StdEncoding.EncodeToString(ct),
		IV:        base64.StdEncoding.EncodeToString(iv),
		Tag:       base64.StdEncoding.EncodeToString(tag),
		Algorithm: alg,
	}, nil
}

// Decrypt opens f with hexKey. The algorithm recorded on f wins over alg; a
// conflicting alg is rejected. Any tag mismatch fails closed.
func Decrypt(f *EncryptedField, hexKey, alg string) (string, error) {
	if f == nil {
		return "", cryptoFail("decrypt", ErrDecryption, "missing encrypted field")
	}
	switch {
	case f.Algorithm != "" && alg != "" && f.Algorithm != alg:
		return "", cryptoFail("decrypt", ErrDecryption, "algorithm mismatch")
	case f.Algorithm != "":
		alg = f.Algorithm
	case alg == "":
		alg = DefaultAlgorithm
	}

	gcm, err := newGCM(hexKey, alg)
	if err != nil {
		return "", cryptoFail("decrypt", ErrInvalidKey, err.Error())
	}

	ct, err1 := base64.StdEncoding.DecodeString(f.Content)
	iv, err2 := base64.StdEncoding.DecodeString(f.IV)
	tag, err3 := base64.StdEncoding.DecodeString(f.Tag)
	if err := errors.Join(err1, err2, err3); err != nil {
		return "", cryptoFail("decrypt", ErrDecryption, "malformed encrypted field")
	}
	if len(iv) != ivSize || len(tag) != tagSize {
		return "", cryptoFail("decrypt", ErrDecryption, "malformed encrypted field")
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", cryptoFail("decrypt", ErrDecryption, "authentication failed")
	}
	return string(plaintext), nil
}

// ValidateKey reports whether hexKey is usable with alg.
func ValidateKey(hexKey, alg string) error {
	if alg == "" {
		alg = DefaultAlgorithm
	}
	if _, err := parseKey(hexKey, alg); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}
	return nil
}

// GenerateEncryptionKey returns a random 32-byte key, hex encoded.
func GenerateEncryptionKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("hipaa: generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
