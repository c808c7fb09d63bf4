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

// Package archive downloads and parses archive index files, building the
// global encoding-key → archive-location map. Adapted from the teacher's
// ngdp/client/archives.go, generalized to the footer-indexed entry count
// (rather than the teacher's fixed 170-entries-per-4096-byte-block
// assumption) and to errgroup.Group.SetLimit-bounded concurrency instead of
// the teacher's hand-rolled channel worker pool.
package archive

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/casc-go/casc/ngdp"
)

const (
	blockSize   = 4096
	entrySize   = 24 // 16-byte EK + 4-byte size (BE) + 4-byte offset (BE)
	footerSize  = 12 // entry count (u32 LE) + 8 unused bytes
	defaultGate = 50
)

// A Source fetches the raw bytes of one archive index, either from the
// on-disk cache or, on a miss, over the network (storing the result back
// to cache as a side effect). Kept as an interface so the loader doesn't
// need to know about ngdp/buildcache or ngdp/transport directly.
type Source interface {
	FetchIndex(ctx context.Context, archive ngdp.ArchiveKey) (io.ReadCloser, error)
}

// A Map is the in-memory result of loading every archive index: a lookup
// from encoding key to its location within one archive blob.
type Map struct {
	entries map[ngdp.EncodingKey]ngdp.ArchiveEntry
}

// Lookup returns the archive location for ek, if any archive index listed it.
func (m *Map) Lookup(ek ngdp.EncodingKey) (ngdp.ArchiveEntry, bool) {
	e, ok := m.entries[ek]
	return e, ok
}

// Len reports the number of distinct encoding keys indexed.
func (m *Map) Len() int { return len(m.entries) }

// Loader builds a Map from a CDN config's archive list.
type Loader struct {
	Source Source

	// ConcurrentFetches bounds the number of archive indexes fetched and
	// parsed in flight at once. Archive counts reach the hundreds; without
	// a bound, per-host connection limits stall forward progress.
	ConcurrentFetches int
}

func (l *Loader) gate() int {
	if l.ConcurrentFetches > 0 {
		return l.ConcurrentFetches
	}
	return defaultGate
}

// Load fetches and parses every archive in archives, merging their entries
// into one Map. Failure of any single archive index is fatal: the spec
// requires no-partial-indexing, since a silently incomplete archive index
// would surface as spurious BuildInconsistency errors much later.
func (l *Loader) Load(ctx context.Context, archives []ngdp.ArchiveKey) (*Map, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.gate())

	results := make([]map[ngdp.EncodingKey]ngdp.ArchiveEntry, len(archives))
	for n, ak := range archives {
		n, ak := n, ak
		g.Go(func() error {
			m, err := l.loadOne(ctx, ak)
			if err != nil {
				return errors.Wrapf(err, "archive: loading index %s", ak)
			}
			results[n] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[ngdp.EncodingKey]ngdp.ArchiveEntry)
	for _, m := range results {
		for ek, entry := range m {
			// Later archives in the list overwrite earlier ones on
			// collision; duplicates are rare and last-writer semantics are
			// sufficient per the spec.
			merged[ek] = entry
		}
	}
	glog.Infof("archive: indexed %d entries across %d archives", len(merged), len(archives))

	return &Map{entries: merged}, nil
}

func (l *Loader) loadOne(ctx context.Context, ak ngdp.ArchiveKey) (map[ngdp.EncodingKey]ngdp.ArchiveEntry, error) {
	r, err := l.Source.FetchIndex(ctx, ak)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return Parse(r, ak)
}

// Parse decodes one archive index stream into entries keyed by encoding
// key, tagging each with the owning archive ak.
//
// The index is a sequence of 4096-byte blocks; the footer (the last 12
// bytes of the file) holds the entry count as a little-endian u32. Entries
// are read from offset 0 in order; an all-zero encoding key marks unused
// padding at the tail of an under-filled block and is skipped rather than
// treated as a real entry.
func Parse(r io.Reader, ak ngdp.ArchiveKey) (map[ngdp.EncodingKey]ngdp.ArchiveEntry, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "archive: reading index")
	}

	if len(buf) < footerSize {
		return nil, errors.Wrapf(ngdp.ErrParse, "archive: index too short (%d bytes)", len(buf))
	}
	footer := buf[len(buf)-footerSize:]
	count := binary.LittleEndian.Uint32(footer[0:4])

	if uint64(count)*entrySize > uint64(len(buf)) {
		return nil, errors.Wrapf(ngdp.ErrParse, "archive: entry count %d exceeds index size %d", count, len(buf))
	}

	out := make(map[ngdp.EncodingKey]ngdp.ArchiveEntry, count)
	pos := 0
	for n := uint32(0); n < count; n++ {
		ek, newPos, err := readEntry(buf, pos)
		if err != nil {
			return nil, err
		}
		pos = newPos

		size := binary.BigEndian.Uint32(buf[pos-8 : pos-4])
		offset := binary.BigEndian.Uint32(buf[pos-4 : pos])

		out[ek] = ngdp.ArchiveEntry{
			Archive: ak,
			Offset:  offset,
			Size:    size,
		}
	}
	return out, nil
}

// readEntry reads one entry's encoding key starting at pos, skipping a
// single all-zero padding key if one is encountered first. Padding appears
// when a 4096-byte block runs out of real entries before its end; the
// all-zero 16 bytes are consumed and the real key is read from the 16
// bytes immediately following. It returns the decoded key and the position
// just past the entry's trailing size/offset fields.
func readEntry(buf []byte, pos int) (ngdp.EncodingKey, int, error) {
	var ek ngdp.EncodingKey
	if pos+md5.Size > len(buf) {
		return ngdp.EncodingKey{}, 0, errors.Wrapf(ngdp.ErrParse, "archive: truncated entry at offset %d", pos)
	}
	copy(ek[:], buf[pos:pos+md5.Size])

	if ek.IsZero() {
		pos += md5.Size
		if pos+md5.Size > len(buf) {
			return ngdp.EncodingKey{}, 0, errors.Wrapf(ngdp.ErrParse, "archive: padding with no following entry at offset %d", pos)
		}
		copy(ek[:], buf[pos:pos+md5.Size])
		if ek.IsZero() {
			return ngdp.EncodingKey{}, 0, errors.Wrapf(ngdp.ErrParse, "archive: two consecutive padding entries at offset %d", pos)
		}
	}

	end := pos + entrySize
	if end > len(buf) {
		return ngdp.EncodingKey{}, 0, errors.Wrapf(ngdp.ErrParse, "archive: truncated entry at offset %d", pos)
	}
	return ek, end, nil
}
