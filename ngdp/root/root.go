/*
Copyright 2017 Luke Granger-Brown

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package root parses the root table, a stream of locale/content-flag
// tagged blocks each listing a run of file-data-ids and their content keys.
// The teacher delegates this entirely to a cgo binding over Ladislav
// Zezula's CascLib (ngdp/mndx); that dependency isn't buildable as a pure
// Go module, so this package is a from-scratch parser in the teacher's
// streaming, error-wrapped style.
package root

import (
	"encoding/binary"
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
)

// LocaleFlag is a bitmask naming one or more localized variants of a file.
// A root table block's LocaleFlags is the set of locales its records are
// valid for.
type LocaleFlag uint32

// Known locale bits, as used by every root table in the wild.
const (
	LocaleEnUS LocaleFlag = 1 << 0
	LocaleKoKR LocaleFlag = 1 << 1
	LocaleFrFR LocaleFlag = 1 << 3
	LocaleDeDE LocaleFlag = 1 << 4
	LocaleZhCN LocaleFlag = 1 << 5
	LocaleEsES LocaleFlag = 1 << 6
	LocaleZhTW LocaleFlag = 1 << 7
	LocaleEnGB LocaleFlag = 1 << 8
	LocaleEnCN LocaleFlag = 1 << 9
	LocaleEnTW LocaleFlag = 1 << 10
	LocaleEsMX LocaleFlag = 1 << 11
	LocaleRuRU LocaleFlag = 1 << 12
	LocalePtBR LocaleFlag = 1 << 13
	LocaleItIT LocaleFlag = 1 << 14
	LocalePtPT LocaleFlag = 1 << 15

	// LocaleAll matches every block regardless of its LocaleFlags; used by
	// callers that want every content key the root table names, not just one
	// locale's (the pipeline substitutes it when RootOptions.Locale is unset).
	LocaleAll LocaleFlag = 0xFFFFFFFF
)

// ContentFlag is a bitmask of per-record attributes (e.g. low-violence
// variants, bundle/alternate packaging) a block can be filtered against.
type ContentFlag uint32

const blockHeaderSize = 12 // numRecords + contentFlags + localeFlags, all u32 LE

// entry is one resolved file-data-id → content-key mapping, tagged with
// whether it was produced by a block matching the requested locale — used
// to arbitrate duplicate file-data-ids across blocks.
type entry struct {
	ck            ngdp.ContentKey
	localeMatched bool
}

// A Table is the file-data-id → content-key map produced by Parse, already
// filtered to one locale/content-flag selection.
type Table struct {
	entries map[uint32]ngdp.ContentKey
}

// Lookup returns the content key for the given file-data-id, if the root
// table named one (after locale/content filtering).
func (t *Table) Lookup(fileDataID uint32) (ngdp.ContentKey, bool) {
	ck, ok := t.entries[fileDataID]
	return ck, ok
}

// Len reports the number of distinct file-data-ids retained after
// filtering and duplicate resolution.
func (t *Table) Len() int { return len(t.entries) }

// ParseOptions filters which root-table blocks contribute records.
type ParseOptions struct {
	// Locale selects blocks whose LocaleFlags intersect it. LocaleAll
	// matches every block regardless of locale.
	Locale LocaleFlag

	// ExcludeContentFlags is ANDed against each block's content flags; a
	// block with any of these bits set is skipped entirely. The zero value
	// excludes nothing.
	ExcludeContentFlags ContentFlag
}

// Parse decodes a (BLTE-unwrapped) root table stream into a Table,
// retaining only records from blocks whose locale flags intersect
// opts.Locale and whose content flags don't intersect
// opts.ExcludeContentFlags.
//
// The table is a sequence of variable-length blocks, each holding:
//
//	numRecords   uint32 (LE)
//	contentFlags uint32 (LE)
//	localeFlags  uint32 (LE)
//	fileDataIdDeltas [numRecords]int32 (LE) — first id = delta, each later id = previous id + delta + 1
//	contentKeys      [numRecords][16]byte
//
// Duplicate file-data-ids across blocks are resolved by locale-match
// priority: a record from a locale-matching block is never overwritten by
// one from a non-matching block; otherwise the later block wins.
func Parse(r io.Reader, opts ParseOptions) (*Table, error) {
	raw := make(map[uint32]entry)

	header := make([]byte, blockHeaderSize)
	blocks := 0
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "root: reading block header")
		}
		blocks++

		numRecords := binary.LittleEndian.Uint32(header[0:4])
		contentFlags := ContentFlag(binary.LittleEndian.Uint32(header[4:8]))
		localeFlags := LocaleFlag(binary.LittleEndian.Uint32(header[8:12]))

		ids, err := readDeltaIDs(r, numRecords)
		if err != nil {
			return nil, errors.Wrapf(err, "root: reading block %d file-data-ids", blocks)
		}

		cks, err := readContentKeys(r, numRecords)
		if err != nil {
			return nil, errors.Wrapf(err, "root: reading block %d content keys", blocks)
		}

		if contentFlags&opts.ExcludeContentFlags != 0 {
			continue
		}
		localeMatched := localeFlags&opts.Locale != 0
		if !localeMatched && opts.Locale != LocaleAll {
			continue
		}

		for n, id := range ids {
			prev, exists := raw[id]
			if exists && prev.localeMatched && !localeMatched {
				continue
			}
			raw[id] = entry{ck: cks[n], localeMatched: localeMatched}
		}
	}

	out := make(map[uint32]ngdp.ContentKey, len(raw))
	for id, e := range raw {
		out[id] = e.ck
	}
	glog.Infof("root: retained %d file-data-ids across %d blocks", len(out), blocks)

	return &Table{entries: out}, nil
}

func readDeltaIDs(r io.Reader, numRecords uint32) ([]uint32, error) {
	buf := make([]byte, numRecords*4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	ids := make([]uint32, numRecords)
	var running uint32
	for n := uint32(0); n < numRecords; n++ {
		delta := binary.LittleEndian.Uint32(buf[n*4 : n*4+4])
		if n > 0 {
			running++
		}
		running += delta
		ids[n] = running
	}
	return ids, nil
}

func readContentKeys(r io.Reader, numRecords uint32) ([]ngdp.ContentKey, error) {
	buf := make([]byte, numRecords*16)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	cks := make([]ngdp.ContentKey, numRecords)
	for n := uint32(0); n < numRecords; n++ {
		copy(cks[n][:], buf[n*16:n*16+16])
	}
	return cks, nil
}
