package hipaa

import (
	"encoding/json"
	"fmt"
)

const encryptedFieldType = "encrypted"

// EncryptedField replaces a plaintext value protected at rest. Content, IV
// and Tag are base64. KeyVersion is zero when the field was sealed with a
// bare key rather than a KeyRing.
type EncryptedField struct {
	Content    string
	IV         string
	Tag        string
	Algorithm  string
	KeyVersion int
}

type encryptedFieldJSON struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
	Algorithm  string `json:"algorithm,omitempty"`
	KeyVersion int    `json:"key_version,omitempty"`
}

func (f EncryptedField) MarshalJSON() ([]byte, error) {
	return json.Marshal(encryptedFieldJSON{
		Type:       encryptedFieldType,
		Content:    f.Content,
		IV:         f.IV,
		Tag:        f.Tag,
		Algorithm:  f.Algorithm,
		KeyVersion: f.KeyVersion,
	})
}

func (f *EncryptedField) UnmarshalJSON(b []byte) error {
	var raw encryptedFieldJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Type != encryptedFieldType {
		return fmt.Errorf("hipaa: not an encrypted field (type %q)", raw.Type)
	}
	*f = EncryptedField{
		Content:    raw.Content,
		IV:         raw.IV,
		Tag:        raw.Tag,
		Algorithm:  raw.Algorithm,
		KeyVersion: raw.KeyVersion,
	}
	return nil
}

// AsEncryptedField recognizes ciphertext: an EncryptedField value or
// pointer, or a decoded JSON object carrying "type":"encrypted". Plain
// objects that merely have content/iv/tag keys are not ciphertext.
func AsEncryptedField(v any) (*EncryptedField, bool) {
	switch f := v.(type) {
	case *EncryptedField:
		return f, f != nil
	case EncryptedField:
		return &f, true
	case map[string]any:
		if t, _ := f["type"].(string); t != encryptedFieldType {
			return nil, false
		}
		content, ok1 := f["content"].(string)
		iv, ok2 := f["iv"].(string)
		tag, ok3 := f["tag"].(string)
		if !ok1 || !ok2 || !ok3 {
			return nil, false
		}
		out := &EncryptedField{Content: content, IV: iv, Tag: tag}
		out.Algorithm, _ = f["algorithm"].(string)
		switch kv := f["key_version"].(type) {
		case float64:
			out.KeyVersion = int(kv)
		case int:
			out.KeyVersion = kv
		}
		return out, true
	}
	return nil, false
}

// fieldCipher seals and opens single values.
type fieldCipher interface {
	encrypt(plaintext string) (*EncryptedField, error)
	decrypt(f *EncryptedField) (string, error)
}

type staticKey struct {
	hexKey string
	alg    string
}

func (k staticKey) encrypt(plaintext string) (*EncryptedField, error) {
	return Encrypt(plaintext, k.hexKey, k.alg)
}

func (k staticKey) decrypt(f *EncryptedField) (string, error) {
	return Decrypt(f, k.hexKey, k.alg)
}

// EncryptField seals a single value with the default algorithm.
func EncryptField(value, hexKey string) (*EncryptedField, error) {
	return Encrypt(value, hexKey, DefaultAlgorithm)
}

// DecryptField opens a single value.
func DecryptField(f *EncryptedField, hexKey string) (string, error) {
	return Decrypt(f, hexKey, "")
}

// EncryptObject returns a shallow copy of data with the named string fields
// replaced by EncryptedField values. Missing, nil, non-string and already
// encrypted fields are left as they are. The first failure aborts.
func EncryptObject(data map[string]any, fields []string, hexKey string) (map[string]any, error) {
	return encryptObject(data, fields, staticKey{hexKey: hexKey, alg: DefaultAlgorithm})
}

// DecryptObject reverses EncryptObject for the named fields.
func DecryptObject(data map[string]any, fields []string, hexKey string) (map[string]any, error) {
	return decryptObject(data, fields, staticKey{hexKey: hexKey})
}

func encryptObject(data map[string]any, fields []string, c fieldCipher) (map[string]any, error) {
	out := shallowCopy(data)
	for _, name := range fields {
		s, ok := out[name].(string)
		if !ok || s == "" {
			continue
		}
		f, err := c.encrypt(s)
		if err != nil {
			return nil, fmt.Errorf("encrypt field %q: %w", name, err)
		}
		out[name] = f
	}
	return out, nil
}

func decryptObject(data map[string]any, fields []string, c fieldCipher) (map[string]any, error) {
	out := shallowCopy(data)
	for _, name := range fields {
		f, ok := AsEncryptedField(out[name])
		if !ok {
			continue
		}
		s, err := c.decrypt(f)
		if err != nil {
			return nil, fmt.Errorf("decrypt field %q: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
