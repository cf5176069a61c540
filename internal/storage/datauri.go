package storage

import (
	"encoding/base64"
	"errors"
	"strings"
)

// DataURI is a parsed "data:<mediatype>;base64,<payload>" image string, the
// form the browser produces from a file picker.
type DataURI struct {
	ContentType string
	Data        []byte
}

var errNotDataURI = errors.New("not a base64 data URI")

// ParseDataURI decodes a base64 data URI. Any media type is accepted; the
// caller decides what to do with it.
func ParseDataURI(s string) (DataURI, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return DataURI{}, errNotDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return DataURI{}, errNotDataURI
	}
	contentType, encoding, hasEncoding := strings.Cut(meta, ";")
	if !hasEncoding || encoding != "base64" {
		return DataURI{}, errNotDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURI{}, errNotDataURI
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return DataURI{ContentType: contentType, Data: data}, nil
}

// IsDataURI reports whether s looks like a base64 data URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,")
}
