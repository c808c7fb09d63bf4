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

// Package listfile builds an optional ngdp.FilenameMapper from a community
// listfile: a plain-text "file-data-id;path" table distributed alongside a
// build, independent of anything this module fetches itself. It is the
// cgo-free descendant of the teacher's ngdp/mndx package, which built the
// same path-to-file mapping from a vendored CascLib tree decoding the
// build's MNDX root; this package keeps mndx/treeify.go's tree shape and
// lookup algorithm verbatim in spirit but drops the C dependency and the
// per-file metadata (size, locale flags, encoding key) that only CascLib's
// MNDX decoder could supply, since the plain listfile format carries only
// a path and a file-data-id. Resolving a path to bytes is then a two-step
// lookup: listfile path -> file-data-id -> root.Table -> content key.
package listfile

import (
	"bufio"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
	"github.com/casc-go/casc/ngdp/root"
)

var (
	// ErrDirFileNameClash is returned when a path needs a directory where an
	// earlier listfile entry already placed a file of that name. A file listed
	// where a directory of that name already exists is reported as
	// ErrDuplicateFile instead.
	ErrDirFileNameClash = errors.New("listfile: directory and file have clashing names")
	// ErrDuplicateFile is returned when the same path is listed twice.
	ErrDuplicateFile = errors.New("listfile: duplicate path")
)

type dirEntry struct {
	name string

	dir  *dir
	file *uint32 // file-data-id, nil if this entry is a directory
}

type dirEntries []*dirEntry

func (d dirEntries) Len() int           { return len(d) }
func (d dirEntries) Less(i, j int) bool { return d[i].name < d[j].name }
func (d dirEntries) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// dir is a directory node, addressable by name; dents is nil once flatten
// has run and flatDents is populated, mirroring the teacher's build-then-
// freeze lifecycle (listfiles are parsed once up front, never mutated
// afterwards, so there is no need to keep both representations live).
type dir struct {
	dents     map[string]*dirEntry
	flatDents dirEntries
}

func newDir() *dir {
	return &dir{dents: make(map[string]*dirEntry)}
}

func (d *dir) flatten() {
	if d.dents == nil {
		return
	}
	flat := make(dirEntries, 0, len(d.dents))
	for _, e := range d.dents {
		flat = append(flat, e)
		if e.dir != nil {
			e.dir.flatten()
		}
	}
	sort.Sort(flat)
	d.dents = nil
	d.flatDents = flat
}

func (d *dir) get(segments []string) (*dirEntry, bool) {
	cname := strings.ToLower(segments[0])
	n := len(d.flatDents)
	i := sort.Search(n, func(i int) bool { return d.flatDents[i].name >= cname })
	if i == n || d.flatDents[i].name != cname {
		return nil, false
	}
	e := d.flatDents[i]
	if len(segments) == 1 {
		return e, true
	}
	if e.dir == nil {
		return nil, false
	}
	return e.dir.get(segments[1:])
}

func (d *dir) mkdirs(segments []string) (*dir, error) {
	if len(segments) == 0 {
		return d, nil
	}
	cname := strings.ToLower(segments[0])
	e, ok := d.dents[cname]
	if !ok {
		e = &dirEntry{name: cname, dir: newDir()}
		d.dents[cname] = e
	}
	if e.dir == nil {
		return nil, ErrDirFileNameClash
	}
	return e.dir.mkdirs(segments[1:])
}

func (d *dir) addFile(name string, fileDataID uint32) error {
	cname := strings.ToLower(name)
	if _, ok := d.dents[cname]; ok {
		return ErrDuplicateFile
	}
	id := fileDataID
	d.dents[cname] = &dirEntry{name: cname, file: &id}
	return nil
}

// A Table is a parsed listfile: a path tree mapping every listed path down
// to the file-data-id a community listfile records for it.
type Table struct {
	root *dir
	len  int
}

// Len reports how many paths the table holds.
func (t *Table) Len() int { return t.len }

// Lookup resolves fn (a /-separated path) to the file-data-id the listfile
// recorded for it.
func (t *Table) Lookup(fn string) (uint32, bool) {
	fn = strings.TrimLeft(path.Clean("/"+fn), "/")
	if fn == "." || fn == "" {
		return 0, false
	}
	e, ok := t.root.get(strings.Split(fn, "/"))
	if !ok || e.file == nil {
		return 0, false
	}
	return *e.file, true
}

// Parse reads a community listfile: one "file-data-id;path" record per
// line, blank lines ignored. It is tolerant of the trailing-whitespace and
// CRLF variants that circulate in practice.
func Parse(r io.Reader) (*Table, error) {
	root := newDir()
	n := 0

	sc := bufio.NewScanner(r)
	// listfiles list every file an active build ships; default buffer
	// sizing is comfortably enough for the longest real path, but bump it
	// so a pathological line doesn't abort the whole parse.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n \t")
		if line == "" {
			continue
		}
		idStr, p, ok := strings.Cut(line, ";")
		if !ok {
			return nil, errors.Errorf("listfile: malformed line %q", line)
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "listfile: parsing file-data-id in %q", line)
		}
		p = strings.TrimLeft(path.Clean("/"+p), "/")
		if p == "." || p == "" {
			continue
		}

		segments := strings.Split(p, "/")
		parent, err := root.mkdirs(segments[:len(segments)-1])
		if err != nil {
			return nil, errors.Wrapf(err, "listfile: %q", p)
		}
		if err := parent.addFile(segments[len(segments)-1], uint32(id)); err != nil {
			return nil, errors.Wrapf(err, "listfile: %q", p)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(ngdp.ErrParse, err.Error())
	}
	root.flatten()

	return &Table{root: root, len: n}, nil
}

// Mapper implements ngdp.FilenameMapper by chaining a listfile's
// path-to-file-data-id table with the root table's file-data-id-to-content-
// key mapping for the build currently loaded. Installing one on a pipeline
// is entirely optional: nothing in the resolution walk from a file-data-id
// onward depends on it, it only adds a second, human-friendly entry point.
type Mapper struct {
	Names *Table
	Root  *root.Table
}

// ToContentHash resolves fn to the content key the build's root table has
// on file for it, or (zero, false) if fn isn't listed or isn't in the
// build.
func (m *Mapper) ToContentHash(fn string) (ngdp.ContentKey, bool) {
	id, ok := m.Names.Lookup(fn)
	if !ok {
		return ngdp.ContentKey{}, false
	}
	return m.Root.Lookup(id)
}
