package draft

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/trezcool/gakuten/core/user"
)

// ErrInvalidDocument is returned when a stored or received payload does not decode into the kind's Document.
var ErrInvalidDocument = errors.New("invalid document")

// Kind describes one type of draft Document and the table it is stored in.
type Kind[T any] struct {
	Name  string // URL segment, e.g. "resume"
	Table string

	// Defaults returns a fully defined Document, prefilled from the owner's account.
	Defaults func(owner user.User) T
	// Normalize makes a decoded Document fully defined (e.g. nil slices become empty).
	Normalize func(doc *T)
	// Progress returns how complete a Document is, from 0 to 100. Optional.
	Progress func(doc T) int
}

// New returns the default Document for owner.
func (k Kind[T]) New(owner user.User) T {
	var doc T
	if k.Defaults != nil {
		doc = k.Defaults(owner)
	}
	k.normalize(&doc)
	return doc
}

// Decode strictly decodes a JSON payload: unknown fields and trailing data are rejected.
func (k Kind[T]) Decode(raw []byte) (T, error) {
	var doc T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return doc, errors.Wrapf(ErrInvalidDocument, "%s: %v", k.Name, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return doc, errors.Wrapf(ErrInvalidDocument, "%s: unexpected data after document", k.Name)
	}
	k.normalize(&doc)
	return doc, nil
}

// Encode returns the JSON payload of doc.
func (k Kind[T]) Encode(doc T) ([]byte, error) {
	k.normalize(&doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", k.Name)
	}
	return data, nil
}

func (k Kind[T]) ProgressOf(doc T) int {
	if k.Progress == nil {
		return 0
	}
	return k.Progress(doc)
}

func (k Kind[T]) normalize(doc *T) {
	if k.Normalize != nil {
		k.Normalize(doc)
	}
}
