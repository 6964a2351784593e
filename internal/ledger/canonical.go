package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// CanonicalEncode serializes a trace map with lexicographically sorted
// keys so hash equality is independent of field insertion order. A
// party reconstructing the trace independently gets the same bytes.
func CanonicalEncode(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeMap(enc, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeMap(enc *msgpack.Encoder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := enc.EncodeMapLen(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := encodeValue(enc, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(enc *msgpack.Encoder, v any) error {
	switch val := v.(type) {
	case nil:
		return enc.EncodeNil()
	case string:
		return enc.EncodeString(val)
	case bool:
		return enc.EncodeBool(val)
	case int:
		return enc.EncodeInt(int64(val))
	case int64:
		return enc.EncodeInt(val)
	case uint64:
		return enc.EncodeUint(val)
	case time.Time:
		return enc.EncodeString(val.UTC().Format(time.RFC3339Nano))
	case []string:
		if err := enc.EncodeArrayLen(len(val)); err != nil {
			return err
		}
		for _, s := range val {
			if err := enc.EncodeString(s); err != nil {
				return err
			}
		}
		return nil
	case []any:
		if err := enc.EncodeArrayLen(len(val)); err != nil {
			return err
		}
		for _, item := range val {
			if err := encodeValue(enc, item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		return encodeMap(enc, val)
	default:
		return fmt.Errorf("unsupported trace value type %T", v)
	}
}

// HashTrace computes the Keccak-256 digest of the canonical encoding,
// hex-encoded.
func HashTrace(trace DecisionTrace) (string, error) {
	data, err := CanonicalEncode(trace.canonicalMap())
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.Keccak256(data)), nil
}
