// Package codec converts between Go values and the text payload of a frame.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when a frame does not hold valid structured data.
var ErrInvalidPayload = errors.New("invalid payload")

// Codec encodes outbound values and decodes inbound frames.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// JSON is the default wire codec. Decoded values are map[string]any, []any,
// string, float64 (or json.Number with UseNumber), bool or nil.
type JSON struct {
	// UseNumber keeps numbers as json.Number instead of float64.
	UseNumber bool
}

// Encode returns the compact JSON form of v without a trailing newline.
// HTML characters are written as-is.
func (c JSON) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses exactly one JSON value from data.
func (c JSON) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if c.UseNumber {
		dec.UseNumber()
	}

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after value", ErrInvalidPayload)
	}
	return v, nil
}
