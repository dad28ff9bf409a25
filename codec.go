package recall

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

// compressMinBytes is the smallest encoded payload worth compressing.
// Below this, gzip framing outweighs any savings.
const compressMinBytes = 128

// Value type tags recorded in the envelope so decoding can restore the
// original dynamic type. Composite values round-trip through generic JSON.
const (
	typeString  = "string"
	typeBool    = "bool"
	typeInt     = "int"
	typeInt64   = "int64"
	typeFloat64 = "float64"
	typeBytes   = "bytes"
	typeTime    = "time"
	typeJSON    = "json"
)

// envelope wraps an encoded value with the tag needed to restore it.
type envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"raw"`
}

// buildEnvelope classifies the value and serializes it. Values that cannot
// be serialized degrade to their fmt.Sprintf("%v") string form instead of
// failing the write.
func buildEnvelope(value any) (envelope, bool) {
	var tag string
	switch value.(type) {
	case string:
		tag = typeString
	case bool:
		tag = typeBool
	case int:
		tag = typeInt
	case int64:
		tag = typeInt64
	case float64:
		tag = typeFloat64
	case []byte:
		tag = typeBytes
	case time.Time:
		tag = typeTime
	default:
		tag = typeJSON
	}

	raw, err := json.Marshal(value)
	if err != nil {
		// Marshaling a plain string cannot fail.
		raw, _ = json.Marshal(fmt.Sprintf("%v", value))
		return envelope{Type: typeString, Raw: raw}, true
	}
	return envelope{Type: tag, Raw: raw}, false
}

// encodeValue serializes a value for storage, optionally compressing the
// result when it exceeds compressMinBytes and actually shrinks. The degraded
// flag reports a value that could not be serialized and was stored as its
// string form.
func encodeValue(value any, compress bool) (payload []byte, compressed bool, degraded bool) {
	env, degraded := buildEnvelope(value)

	// The envelope is a tag plus pre-marshaled bytes; this cannot fail.
	payload, _ = json.Marshal(env)

	if compress && len(payload) >= compressMinBytes {
		if gz, err := gzipBytes(payload); err == nil && len(gz) < len(payload) {
			return gz, true, degraded
		}
	}
	return payload, false, degraded
}

// decodeValue restores the dynamic value from an encoded payload.
func decodeValue(payload []byte, compressed bool) (any, error) {
	if compressed {
		raw, err := gunzipBytes(payload)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		payload = raw
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case typeString:
		var v string
		if err := json.Unmarshal(env.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode string payload: %w", err)
		}
		return v, nil
	case typeBool:
		var v bool
		if err := json.Unmarshal(env.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode bool payload: %w", err)
		}
		return v, nil
	case typeInt:
		var v int
		if err := json.Unmarshal(env.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode int payload: %w", err)
		}
		return v, nil
	case typeInt64:
		var v int64
		if err := json.Unmarshal(env.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode int64 payload: %w", err)
		}
		return v, nil
	case typeFloat64:
		var v float64
		if err := json.Unmarshal(env.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode float64 payload: %w", err)
		}
		return v, nil
	case typeBytes:
		var v []byte
		if err := json.Unmarshal(env.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode bytes payload: %w", err)
		}
		return v, nil
	case typeTime:
		var v time.Time
		if err := json.Unmarshal(env.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode time payload: %w", err)
		}
		return v, nil
	case typeJSON:
		var v any
		if err := json.Unmarshal(env.Raw, &v); err != nil {
			return nil, fmt.Errorf("decode json payload: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown payload type %q", env.Type)
	}
}

// sealer encrypts payloads with AES-GCM. Encryption is the outermost layer
// of the stored payload: seal(gzip(envelope)).
type sealer struct {
	aead cipher.AEAD
}

// newSealer builds a sealer from an AES key of 16, 24, or 32 bytes.
func newSealer(key []byte) (*sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryption mode: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal encrypts data with a fresh random nonce, prepended to the result.
func (s *sealer) seal(data []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}
	return s.aead.Seal(nonce, nonce, data, nil), nil
}

// open decrypts data produced by seal.
func (s *sealer) open(data []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("decrypt payload: ciphertext shorter than nonce")
	}
	plain, err := s.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	return plain, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
