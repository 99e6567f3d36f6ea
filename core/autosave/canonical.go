package autosave

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Canonicalize returns a deterministic serialization of v: object keys are sorted at every
// nesting level, so two values with the same content always produce the same key whatever
// their field or insertion order. It is only meant for equality checks.
func Canonicalize(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshalling document")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep numbers as written
	var generic interface{}
	if err = dec.Decode(&generic); err != nil {
		return "", errors.Wrap(err, "decoding document")
	}

	var buf bytes.Buffer
	if err = writeCanonical(&buf, generic); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return writeScalar(buf, val)
	}
	return nil
}

func writeScalar(buf *bytes.Buffer, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshalling value")
	}
	buf.Write(raw)
	return nil
}
