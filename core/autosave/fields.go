package autosave

import (
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrUnknownField = errors.New("unknown field")

// SetField replaces the top-level field `name` (its JSON name) of doc with raw.
// The whole field is replaced; nested values are never merged.
func SetField[T any](doc *T, name string, raw json.RawMessage) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshalling document")
	}
	var fields map[string]json.RawMessage
	if err = json.Unmarshal(data, &fields); err != nil {
		return errors.Wrap(err, "document is not an object")
	}
	if _, ok := fields[name]; !ok {
		return errors.Wrapf(ErrUnknownField, "%q", name)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	fields[name] = raw

	if data, err = json.Marshal(fields); err != nil {
		return errors.Wrap(err, "marshalling fields")
	}
	var next T
	if err = json.Unmarshal(data, &next); err != nil {
		return errors.Wrapf(err, "decoding field %q", name)
	}
	*doc = next
	return nil
}
