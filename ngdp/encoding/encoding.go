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

// Package encoding parses the decoded encoding table into a content-key →
// encoding-key map. Adapted from the teacher's ngdp/encoding, generalized
// from a string-hash/CDNHash pairing to the ContentKey/EncodingKey
// newtypes and from "error on multiple EKs" to "keep the first, drop the
// rest" (a CK legitimately maps to more than one EK on-wire; only the
// first is addressable through this core).
package encoding

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
)

const (
	keyEntrySize = 32   // 16-byte page checksum + 16-byte first content key, in the index
	pageSize     = 4096 // key table entries are grouped into 4096-byte pages
)

type header struct {
	sizeA      uint32
	sizeB      uint32
	stringSize uint32
}

// readHeader parses the 22-byte encoding table header, checking the magic
// and the fixed 16-byte hash width every build in the wild uses.
func readHeader(r io.Reader) (*header, error) {
	buf := make([]byte, 22)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "encoding: reading header")
	}
	if buf[0] != 'E' || buf[1] != 'N' {
		return nil, errors.Wrap(ngdp.ErrParse, "encoding: bad magic")
	}
	if buf[3] != 0x10 || buf[4] != 0x10 {
		return nil, errors.Wrap(ngdp.ErrParse, "encoding: unexpected hash size in header")
	}

	var h header
	h.sizeA = binary.BigEndian.Uint32(buf[0x9:0x0d])
	h.sizeB = binary.BigEndian.Uint32(buf[0x0d:0x11])
	h.stringSize = binary.BigEndian.Uint32(buf[0x12:0x16])
	return &h, nil
}

// A Table is the content-key → encoding-key map produced by parsing an
// encoding table. Entry counts run into the millions, so Parse streams the
// key table page by page rather than materializing the whole file.
type Table struct {
	entries map[ngdp.ContentKey]ngdp.EncodingKey
}

// Lookup returns the first encoding key listed for ck, if any.
func (t *Table) Lookup(ck ngdp.ContentKey) (ngdp.EncodingKey, bool) {
	ek, ok := t.entries[ck]
	return ek, ok
}

// Len reports the number of distinct content keys indexed.
func (t *Table) Len() int { return len(t.entries) }

// Parse decodes a (BLTE-unwrapped) encoding table stream into a Table.
func Parse(r io.Reader) (*Table, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	if _, err := io.CopyN(io.Discard, r, int64(h.stringSize)); err != nil {
		return nil, errors.Wrap(err, "encoding: skipping layout string table")
	}

	// The key table index holds one 32-byte entry per page (a page
	// checksum plus the page's first content key). We don't verify the
	// per-page checksum — the BLTE frame around this whole table is
	// already hash-verified, so it buys nothing — but the index still has
	// to be consumed before the page data that follows it.
	if _, err := io.CopyN(io.Discard, r, int64(h.sizeA)*keyEntrySize); err != nil {
		return nil, errors.Wrap(err, "encoding: skipping key table index")
	}

	t := &Table{entries: make(map[ngdp.ContentKey]ngdp.EncodingKey, h.sizeA*pageSize/64)}

	page := make([]byte, pageSize)
	for n := uint32(0); n < h.sizeA; n++ {
		if _, err := io.ReadFull(r, page); err != nil {
			return nil, errors.Wrapf(err, "encoding: reading key table page %d", n)
		}
		if err := t.parsePage(page); err != nil {
			return nil, errors.Wrapf(err, "encoding: parsing key table page %d", n)
		}
	}

	// The layout table (size-B index + pages) follows; it's not needed
	// for CK → EK resolution and is left unread. Callers discard the
	// remainder of r.
	return t, nil
}

// parsePage walks one page's run-length sequence of (cdnKeyCount, CK, EK…)
// records until a zero count terminates the page.
func (t *Table) parsePage(page []byte) error {
	for len(page) > 0 {
		if len(page) < 2 {
			return nil
		}
		cdnKeyCount := binary.LittleEndian.Uint16(page[0:2])
		if cdnKeyCount == 0 {
			return nil
		}
		if len(page) < 6+16+int(cdnKeyCount)*16 {
			return errors.Wrap(ngdp.ErrParse, "encoding: truncated key table record")
		}

		var ck ngdp.ContentKey
		copy(ck[:], page[6:6+16])
		page = page[6+16:]

		var ek ngdp.EncodingKey
		copy(ek[:], page[:16]) // first listed EK wins; the rest are skipped below

		if _, exists := t.entries[ck]; !exists {
			t.entries[ck] = ek
		}
		page = page[int(cdnKeyCount)*16:]
	}
	return nil
}
