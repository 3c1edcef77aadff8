package pricesapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnexpectedShape is returned for a body that is not a list response.
var ErrUnexpectedShape = errors.New("pricesapi: unexpected response shape")

// decodeList accepts {"data": [...]} or a bare array. With single set, as on
// the detail endpoint, {"data": {...}} and a bare object are accepted too.
// {"data": null} and an empty body are empty lists.
func decodeList(body []byte, single bool) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	switch {
	case len(body) == 0:
		return nil, nil
	case body[0] == '[':
		return decodeArray(body)
	case body[0] != '{':
		return nil, fmt.Errorf("%w: body starts with %q", ErrUnexpectedShape, body[0])
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	data, ok := env["data"]
	if !ok {
		if single {
			return []json.RawMessage{body}, nil
		}
		return nil, fmt.Errorf("%w: object without data", ErrUnexpectedShape)
	}
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil, nil
	case data[0] == '[':
		return decodeArray(data)
	case single && data[0] == '{':
		return []json.RawMessage{data}, nil
	default:
		return nil, fmt.Errorf("%w: data is not a list", ErrUnexpectedShape)
	}
}

func decodeArray(b []byte) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}

// decodeCards never fails on a single element: an element that does not
// decode is returned as a Card with only Raw set, so the caller counts it as
// malformed.
func decodeCards(body []byte, single bool) ([]Card, error) {
	raws, err := decodeList(body, single)
	if err != nil {
		return nil, err
	}
	out := make([]Card, 0, len(raws))
	for _, raw := range raws {
		var c Card
		if err := json.Unmarshal(raw, &c); err != nil {
			c = Card{}
		}
		c.Raw = raw
		out = append(out, c)
	}
	return out, nil
}

func decodeSets(body []byte) ([]Set, error) {
	raws, err := decodeList(body, false)
	if err != nil {
		return nil, err
	}
	out := make([]Set, 0, len(raws))
	for _, raw := range raws {
		var s Set
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode set: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
