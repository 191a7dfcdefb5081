package store

import (
	"bytes"

	errs "github.com/bucketdb/bucketdb/internal/errors"
	json "github.com/goccy/go-json"
	"github.com/golang/snappy"
)

// snappyMagic prefixes compressed payloads. JSON objects start with '{',
// so the two forms cannot be confused.
var snappyMagic = []byte{0xff, 's', 'n', 'p'}

// Codec converts document data to and from its persisted form: JSON with
// sorted keys, optionally snappy-compressed.
type Codec struct {
	Compress bool
}

// Encode serializes data.
func (c Codec) Encode(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCategoryStorage, errs.CodeMalformedPayload, "encode document", err)
	}
	if !c.Compress {
		return raw, nil
	}
	out := make([]byte, len(snappyMagic), len(snappyMagic)+snappy.MaxEncodedLen(len(raw)))
	copy(out, snappyMagic)
	return append(out, snappy.Encode(nil, raw)...), nil
}

// Decode parses a payload written by any Codec, compressed or not.
func (c Codec) Decode(payload []byte) (map[string]interface{}, error) {
	if bytes.HasPrefix(payload, snappyMagic) {
		raw, err := snappy.Decode(nil, payload[len(snappyMagic):])
		if err != nil {
			return nil, errs.Wrap(errs.ErrCategoryStorage, errs.CodeMalformedPayload, "decompress document", err)
		}
		payload = raw
	}
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, errs.Wrap(errs.ErrCategoryStorage, errs.CodeMalformedPayload, "decode document", err)
	}
	if data == nil {
		return nil, errs.New(errs.ErrCategoryStorage, errs.CodeMalformedPayload, "document is not an object")
	}
	return data, nil
}
