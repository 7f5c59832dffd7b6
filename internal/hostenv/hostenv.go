// Package hostenv parses the key=value lists the host broker hands to the
// plugin at open time (settings, user info, command info, user
// environment, plugin options).
//
// Values are kept as raw bytes. Typed accessors decide whether non-UTF8
// content is acceptable; nothing here panics on malformed input.
package hostenv

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMissing is returned when a required key is absent.
	ErrMissing = errors.New("missing required key")
	// ErrNotUTF8 is returned by string accessors for non-UTF8 values.
	ErrNotUTF8 = errors.New("value is not valid UTF-8")
	// ErrUnterminated is returned by ParseBlock when the block lacks its
	// closing empty entry.
	ErrUnterminated = errors.New("key=value block is not terminated")
)

// KeyError records which key failed and why.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// Options is a parsed key=value list. Duplicate keys keep the last value.
type Options struct {
	values map[string][]byte
	// malformed holds entries that had no '=' separator.
	malformed [][]byte
}

// Parse builds Options from individual "key=value" entries.
func Parse(entries [][]byte) *Options {
	o := &Options{values: make(map[string][]byte, len(entries))}
	for _, e := range entries {
		key, value, ok := bytes.Cut(e, []byte{'='})
		if !ok || len(key) == 0 {
			o.malformed = append(o.malformed, append([]byte(nil), e...))
			continue
		}
		o.values[string(key)] = append([]byte(nil), value...)
	}
	return o
}

// ParseStrings is Parse for entries already held as strings.
func ParseStrings(entries []string) *Options {
	raw := make([][]byte, len(entries))
	for i, e := range entries {
		raw[i] = []byte(e)
	}
	return Parse(raw)
}

// ParseBlock parses a NUL-separated sequence of entries ending in an empty
// entry (two consecutive NULs, or a single NUL for an empty list).
func ParseBlock(block []byte) (*Options, error) {
	if len(block) == 0 {
		return nil, ErrUnterminated
	}
	if block[0] == 0 {
		return Parse(nil), nil
	}
	end := bytes.Index(block, []byte{0, 0})
	if end < 0 {
		return nil, ErrUnterminated
	}
	return Parse(bytes.Split(block[:end], []byte{0})), nil
}

// Malformed returns entries that lacked a '=' separator.
func (o *Options) Malformed() [][]byte {
	return o.malformed
}

// Has reports whether key is present.
func (o *Options) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

// Len returns the number of distinct keys.
func (o *Options) Len() int {
	return len(o.values)
}

// Bytes returns the raw value for key.
func (o *Options) Bytes(key string) ([]byte, bool) {
	v, ok := o.values[key]
	return v, ok
}

// String returns the value for key, which must be present and valid UTF-8.
func (o *Options) String(key string) (string, error) {
	v, ok := o.values[key]
	if !ok {
		return "", &KeyError{Key: key, Err: ErrMissing}
	}
	if !utf8.Valid(v) {
		return "", &KeyError{Key: key, Err: ErrNotUTF8}
	}
	return string(v), nil
}

// StringOr returns the value for key, or def if the key is absent.
func (o *Options) StringOr(key, def string) (string, error) {
	if !o.Has(key) {
		return def, nil
	}
	return o.String(key)
}

// First returns the value of the first present key among keys. It lets
// callers accept several spellings of the same option.
func (o *Options) First(keys ...string) (string, bool, error) {
	for _, k := range keys {
		if o.Has(k) {
			v, err := o.String(k)
			return v, true, err
		}
	}
	return "", false, nil
}

// Uint32 parses the value for key as a base-10 unsigned 32-bit integer.
func (o *Options) Uint32(key string) (uint32, error) {
	s, err := o.String(key)
	if err != nil {
		return 0, err
	}
	return parseUint32(key, s)
}

// Uint32Or is Uint32 with a default for absent keys.
func (o *Options) Uint32Or(key string, def uint32) (uint32, error) {
	if !o.Has(key) {
		return def, nil
	}
	return o.Uint32(key)
}

// Int parses the value for key as a base-10 int.
func (o *Options) Int(key string) (int, error) {
	s, err := o.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &KeyError{Key: key, Err: err}
	}
	return n, nil
}

// IntOr is Int with a default for absent keys.
func (o *Options) IntOr(key string, def int) (int, error) {
	if !o.Has(key) {
		return def, nil
	}
	return o.Int(key)
}

// Uint32List parses a comma-separated list of IDs. Empty elements are
// skipped, so "" and "1,,2," are accepted.
func (o *Options) Uint32List(key string) ([]uint32, error) {
	s, err := o.String(key)
	if err != nil {
		return nil, err
	}
	return ParseIDList(key, s)
}

// Bool parses the value for key. Absent keys are false.
func (o *Options) Bool(key string) (bool, error) {
	if !o.Has(key) {
		return false, nil
	}
	s, err := o.String(key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, &KeyError{Key: key, Err: err}
	}
	return b, nil
}

// ParseIDList parses a comma-separated list of base-10 IDs.
func ParseIDList(key, s string) ([]uint32, error) {
	var ids []uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := parseUint32(key, part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseUint32(key, s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, &KeyError{Key: key, Err: err}
	}
	return uint32(n), nil
}
