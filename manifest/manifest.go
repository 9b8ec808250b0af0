// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package manifest reads and rewrites the pinned dependency manifest
// (conventionally info.json).
//
// The manifest is a JSON document owned jointly by this tool and by humans:
// the tool owns the "version" string and the "deps" subtree, everything else
// (flake metadata, cache settings, comments-as-fields) belongs to whoever put
// it there and must survive a rewrite untouched. encoding/json round-trips
// through maps and loses member order, so the document is kept as a small
// order-preserving DOM instead.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"go.chromium.org/luci/common/errors"
)

// PlaceholderHash is the well-known fake digest written for entries whose
// content could not be verified locally. The downstream content-addressed
// fetch fails on it and reports the real digest, which `crpin fix-hashes`
// then patches in.
const PlaceholderHash = "sha256-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

// Dep is one pinned dependency, keyed by its checkout path in the deps
// subtree.
type Dep struct {
	URL       string
	Rev       string
	Hash      string
	Condition string
}

// Value is one node of the parsed document: *Object, Array, string,
// json.Number, bool or nil.
type Value interface{}

// Array is a JSON array node.
type Array []Value

// Object is a JSON object node that remembers the order its members first
// appeared in.
type Object struct {
	keys []string
	m    map[string]Value
}

// NewObject returns an empty object node.
func NewObject() *Object {
	return &Object{m: map[string]Value{}}
}

// Get returns the member value and whether the member exists.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.m[key]
	return v, ok
}

// Set overwrites the member value, appending the key if it is new. An
// existing member keeps its position.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.m[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.m[key] = v
}

// Keys returns the member names in document order. The returned slice is
// shared; callers must not mutate it.
func (o *Object) Keys() []string {
	return o.keys
}

// GetString returns the member as a string, or "" if absent or not a string.
func (o *Object) GetString(key string) string {
	if s, ok := o.m[key].(string); ok {
		return s
	}
	return ""
}

// Manifest is a parsed manifest document.
type Manifest struct {
	root *Object
}

// Parse parses a manifest document, preserving member order.
func Parse(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, errors.Annotate(err, "parsing manifest").Err()
	}
	root, ok := v.(*Object)
	if !ok {
		return nil, errors.Reason("parsing manifest: top-level value is not an object").Err()
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.Reason("parsing manifest: trailing data after document").Err()
	}
	return &Manifest{root: root}, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading manifest").Err()
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.Annotate(err, "%s", path).Err()
	}
	return m, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string: %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		case '[':
			var arr Array
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case string, json.Number, bool, nil:
		return t, nil
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
}

// Bytes serializes the document: two-space indent, members in document
// order, no HTML escaping, trailing newline. The format is a fixpoint:
// parsing the output and serializing it again is byte-identical.
func (m *Manifest) Bytes() []byte {
	var buf bytes.Buffer
	encodeValue(&buf, m.root, 0)
	buf.WriteByte('\n')
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v Value, indent int) {
	switch t := v.(type) {
	case *Object:
		if len(t.keys) == 0 {
			buf.WriteString("{}")
			return
		}
		buf.WriteString("{\n")
		for i, key := range t.keys {
			writeIndent(buf, indent+1)
			encodeString(buf, key)
			buf.WriteString(": ")
			encodeValue(buf, t.m[key], indent+1)
			if i < len(t.keys)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		writeIndent(buf, indent)
		buf.WriteByte('}')
	case Array:
		if len(t) == 0 {
			buf.WriteString("[]")
			return
		}
		buf.WriteString("[\n")
		for i, item := range t {
			writeIndent(buf, indent+1)
			encodeValue(buf, item, indent+1)
			if i < len(t)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		writeIndent(buf, indent)
		buf.WriteByte(']')
	case string:
		encodeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	}
}

func writeIndent(buf *bytes.Buffer, n int) {
	for i := 0; i < n; i++ {
		buf.WriteString("  ")
	}
}

const hexDigits = "0123456789abcdef"

// encodeString writes a JSON string literal without the <-style HTML
// escaping encoding/json applies.
func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[r>>4])
				buf.WriteByte(hexDigits[r&0xf])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// Version returns the manifest's version string, or "" if unset.
func (m *Manifest) Version() string {
	return m.root.GetString("version")
}

// SetVersion overwrites the manifest's version string.
func (m *Manifest) SetVersion(v string) {
	m.root.Set("version", v)
}

// SetDeps replaces the deps subtree wholesale with graph, serialized sorted
// by path. No other member of the document is touched.
func (m *Manifest) SetDeps(graph map[string]*Dep) {
	paths := make([]string, 0, len(graph))
	for p := range graph {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	deps := NewObject()
	for _, p := range paths {
		d := graph[p]
		entry := NewObject()
		entry.Set("url", d.URL)
		entry.Set("rev", d.Rev)
		entry.Set("hash", d.Hash)
		if d.Condition != "" {
			entry.Set("condition", d.Condition)
		}
		deps.Set(p, entry)
	}
	m.root.Set("deps", deps)
}

// Deps returns the deps subtree as path-keyed entries. A missing subtree
// yields an empty map.
func (m *Manifest) Deps() (map[string]*Dep, error) {
	graph := map[string]*Dep{}
	v, ok := m.root.Get("deps")
	if !ok {
		return graph, nil
	}
	deps, ok := v.(*Object)
	if !ok {
		return nil, errors.Reason(`manifest member "deps" is not an object`).Err()
	}
	for _, p := range deps.Keys() {
		ev, _ := deps.Get(p)
		entry, ok := ev.(*Object)
		if !ok {
			return nil, errors.Reason("manifest dependency %q is not an object", p).Err()
		}
		graph[p] = &Dep{
			URL:       entry.GetString("url"),
			Rev:       entry.GetString("rev"),
			Hash:      entry.GetString("hash"),
			Condition: entry.GetString("condition"),
		}
	}
	return graph, nil
}

// FindByRev searches the whole document for an object that has both a "rev"
// member equal to rev and a "hash" member equal to wantHash, returning the
// object and a human-readable path to it ("deps.src/v8"). Search order is
// document order, so the result is deterministic.
func (m *Manifest) FindByRev(rev, wantHash string) (*Object, string) {
	return findByRev(m.root, "", rev, wantHash)
}

func findByRev(v Value, path, rev, wantHash string) (*Object, string) {
	switch t := v.(type) {
	case *Object:
		if t.GetString("rev") == rev && t.GetString("hash") == wantHash {
			return t, path
		}
		for _, key := range t.keys {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if found, p := findByRev(t.m[key], childPath, rev, wantHash); found != nil {
				return found, p
			}
		}
	case Array:
		for i, item := range t {
			if found, p := findByRev(item, fmt.Sprintf("%s[%d]", path, i), rev, wantHash); found != nil {
				return found, p
			}
		}
	}
	return nil, ""
}

// CountHash returns how many "hash" members anywhere in the document equal
// hash.
func (m *Manifest) CountHash(hash string) int {
	return countHash(m.root, hash)
}

func countHash(v Value, hash string) int {
	n := 0
	switch t := v.(type) {
	case *Object:
		if t.GetString("hash") == hash {
			n++
		}
		for _, key := range t.keys {
			n += countHash(t.m[key], hash)
		}
	case Array:
		for _, item := range t {
			n += countHash(item, hash)
		}
	}
	return n
}
