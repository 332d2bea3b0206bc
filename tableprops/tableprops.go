// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package tableprops implements the per-sstable properties block. The block
// is a sorted sequence of key/value rows, snappy-compressed and protected by
// an xxhash checksum. Typed properties are mapped to their persisted keys via
// `prop` struct tags; everything else rides in UserProperties, including the
// encoded seqno-time mapping under SeqnoTimeMappingKey.
package tableprops

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sort"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/crestdb/crest/internal/base"
	"github.com/crestdb/crest/seqnotime"
	"github.com/golang/snappy"
)

// SeqnoTimeMappingKey is the user-property key carrying the encoded
// seqno-time mapping block.
const SeqnoTimeMappingKey = "crest.seqno.time.map"

var propTagMap = make(map[string]reflect.StructField)
var propOffsetTagMap = make(map[uintptr]string)

func init() {
	t := reflect.TypeOf(Properties{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("prop")
		if tag == "" {
			continue
		}
		if f.Type.Kind() != reflect.Uint64 {
			panic(fmt.Sprintf("unsupported property field type: %s %s", f.Name, f.Type))
		}
		propTagMap[tag] = f
		propOffsetTagMap[f.Offset] = tag
	}
}

// Properties holds the typed per-table properties plus any user-defined
// properties. Zero-valued typed properties are not persisted.
type Properties struct {
	// NumEntries is the number of entries in the table.
	NumEntries uint64 `prop:"crest.num.entries"`
	// SmallestSeqNum and LargestSeqNum bound the seqnos in the table.
	SmallestSeqNum uint64 `prop:"crest.smallest.seqno"`
	LargestSeqNum  uint64 `prop:"crest.largest.seqno"`
	// CreationTime is the wall clock second at which the table was built.
	CreationTime uint64 `prop:"crest.creation.time"`
	// OldestKeyTime is the wall clock second bounding the write time of the
	// table's oldest key, if known.
	OldestKeyTime uint64 `prop:"crest.oldest.key.time"`

	// UserProperties are untyped properties; values may be binary.
	UserProperties map[string]string
}

func (p *Properties) saveUvarint(m map[string][]byte, offset uintptr, value uint64) {
	var buf [10]byte
	n := binary.PutUvarint(buf[:], value)
	m[propOffsetTagMap[offset]] = buf[:n]
}

func (p *Properties) accumulate() ([]string, map[string][]byte) {
	m := make(map[string][]byte)
	for k, v := range p.UserProperties {
		m[k] = []byte(v)
	}
	if p.NumEntries > 0 {
		p.saveUvarint(m, unsafe.Offsetof(p.NumEntries), p.NumEntries)
	}
	if p.SmallestSeqNum > 0 {
		p.saveUvarint(m, unsafe.Offsetof(p.SmallestSeqNum), p.SmallestSeqNum)
	}
	if p.LargestSeqNum > 0 {
		p.saveUvarint(m, unsafe.Offsetof(p.LargestSeqNum), p.LargestSeqNum)
	}
	if p.CreationTime > 0 {
		p.saveUvarint(m, unsafe.Offsetof(p.CreationTime), p.CreationTime)
	}
	if p.OldestKeyTime > 0 {
		p.saveUvarint(m, unsafe.Offsetof(p.OldestKeyTime), p.OldestKeyTime)
	}

	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, m
}

// Encode serializes the properties block: rows of
// uvarint(klen) uvarint(vlen) key value in key order, snappy-compressed,
// followed by an 8-byte little-endian xxhash of the compressed body.
func (p *Properties) Encode() []byte {
	keys, m := p.accumulate()
	var body []byte
	for _, key := range keys {
		body = binary.AppendUvarint(body, uint64(len(key)))
		body = binary.AppendUvarint(body, uint64(len(m[key])))
		body = append(body, key...)
		body = append(body, m[key]...)
	}
	compressed := snappy.Encode(nil, body)
	var footer [8]byte
	binary.LittleEndian.PutUint64(footer[:], xxhash.Sum64(compressed))
	return append(compressed, footer[:]...)
}

// Decode parses an encoded properties block, verifying the checksum. Typed
// properties land in tagged fields; unrecognized keys land in
// UserProperties. A truncated block, checksum mismatch, or malformed row
// yields a corruption error.
func Decode(block []byte) (*Properties, error) {
	if len(block) < 8 {
		return nil, base.CorruptionErrorf("tableprops: block too short (%d bytes)", len(block))
	}
	compressed, footer := block[:len(block)-8], block[len(block)-8:]
	if got, want := xxhash.Sum64(compressed), binary.LittleEndian.Uint64(footer); got != want {
		return nil, base.CorruptionErrorf(
			"tableprops: checksum mismatch (got %x, want %x)", got, want)
	}
	body, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, base.MarkCorruptionError(err)
	}

	p := &Properties{}
	v := reflect.ValueOf(p).Elem()
	for len(body) > 0 {
		klen, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, base.CorruptionErrorf("tableprops: malformed row header")
		}
		body = body[n:]
		vlen, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, base.CorruptionErrorf("tableprops: malformed row header")
		}
		body = body[n:]
		if klen > uint64(len(body)) || vlen > uint64(len(body))-klen {
			return nil, base.CorruptionErrorf("tableprops: truncated row")
		}
		key, val := body[:klen], body[klen:klen+vlen]
		body = body[klen+vlen:]

		if f, ok := propTagMap[string(key)]; ok {
			value, n := binary.Uvarint(val)
			if n <= 0 {
				return nil, base.CorruptionErrorf("tableprops: malformed value for %s", key)
			}
			v.FieldByIndex(f.Index).SetUint(value)
			continue
		}
		if p.UserProperties == nil {
			p.UserProperties = make(map[string]string)
		}
		p.UserProperties[string(key)] = string(val)
	}
	return p, nil
}

// SetSeqnoTimeMapping encodes the subset of m relevant to seqnos in [lo, hi]
// into the user properties. Nothing is stored if no pair qualifies.
func (p *Properties) SetSeqnoTimeMapping(
	m *seqnotime.Mapping, lo, hi base.SeqNum, now uint64,
) {
	block := m.Encode(nil, lo, hi, now, seqnotime.MaxPairsPerSST)
	if len(block) == 0 {
		return
	}
	if p.UserProperties == nil {
		p.UserProperties = make(map[string]string)
	}
	p.UserProperties[SeqnoTimeMappingKey] = string(block)
}

// SeqnoTimeMapping decodes the stored seqno-time mapping. An absent property
// yields an empty mapping; a malformed one yields a corruption error.
func (p *Properties) SeqnoTimeMapping() (*seqnotime.Mapping, error) {
	m := seqnotime.New(0, 0)
	block, ok := p.UserProperties[SeqnoTimeMappingKey]
	if !ok {
		return m, nil
	}
	if err := m.AddEncoded([]byte(block)); err != nil {
		return nil, err
	}
	if err := m.Sort(); err != nil {
		return nil, err
	}
	return m, nil
}
