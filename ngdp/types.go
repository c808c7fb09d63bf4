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

// Package ngdp contains the shared types for the CASC/NGDP resolution
// pipeline: the three distinct hash namespaces (content, encoding, archive
// keys), the config structs parsed out of BPSV and key/value documents, and
// the small set of interfaces that let the pipeline stages compose without
// importing each other directly.
package ngdp

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// keySize is the width, in bytes, of every hash namespace used by CASC.
const keySize = md5.Size

// A ContentKey hashes the uncompressed, logical contents of a file. Root
// table entries and encoding table keys are indexed by ContentKey.
type ContentKey [keySize]byte

// An EncodingKey hashes the BLTE-framed, on-wire representation of a file.
// The archive index and the CDN's /data/ tree are both addressed by EncodingKey.
type EncodingKey [keySize]byte

// An ArchiveKey names an archive blob: a CDN object that concatenates many
// EncodingKey-addressed chunks back to back.
type ArchiveKey [keySize]byte

func (k ContentKey) String() string  { return hex.EncodeToString(k[:]) }
func (k EncodingKey) String() string { return hex.EncodeToString(k[:]) }
func (k ArchiveKey) String() string  { return hex.EncodeToString(k[:]) }

// IsZero reports whether the key has never been set (all-zero), which the
// archive index format uses as an in-block padding marker.
func (k EncodingKey) IsZero() bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}
	return true
}

// ParseContentKey decodes a lowercase hex string into a ContentKey.
func ParseContentKey(s string) (ContentKey, error) {
	var k ContentKey
	if err := parseKey(s, k[:]); err != nil {
		return ContentKey{}, err
	}
	return k, nil
}

// ParseEncodingKey decodes a lowercase hex string into an EncodingKey.
func ParseEncodingKey(s string) (EncodingKey, error) {
	var k EncodingKey
	if err := parseKey(s, k[:]); err != nil {
		return EncodingKey{}, err
	}
	return k, nil
}

// ParseArchiveKey decodes a lowercase hex string into an ArchiveKey.
func ParseArchiveKey(s string) (ArchiveKey, error) {
	var k ArchiveKey
	if err := parseKey(s, k[:]); err != nil {
		return ArchiveKey{}, err
	}
	return k, nil
}

func parseKey(s string, out []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("ngdp: decoding hash %q: %v", s, err)
	}
	if len(b) != len(out) {
		return fmt.Errorf("ngdp: hash %q has %d bytes, want %d", s, len(b), len(out))
	}
	copy(out, b)
	return nil
}

// A ProductDescriptor names one product+region combination tracked by a
// pipeline, as returned from the version config.
type ProductDescriptor struct {
	Product       string
	Region        Region
	VersionsName  string
	BuildID       int `configtable:"BuildId"`
	BuildConfig   ContentKey
	CDNConfig     ContentKey
	ProductConfig ContentKey
}

// A ServerDescriptor is one record of a product's CDN (server) config: the
// edge hosts serving a region, and the path prefix under each.
type ServerDescriptor struct {
	Name       Region
	Path       string
	Hosts      []string
	ConfigPath string
}

// A CDNConfig is the parsed build-independent CDN config blob: which
// archives exist, and (optionally) patch archives.
type CDNConfig struct {
	Archives          []ArchiveKey
	ArchivesIndexSize []uint64 `keyvalue:"archives-index-size"`
	ArchiveGroup      ArchiveKey
	PatchArchives     []ArchiveKey
	PatchArchiveGroup ArchiveKey
	FileIndex         ArchiveKey
}

// A BuildConfigEncoding holds the two encoding-table keys a build config
// lists: the content key of the uncompressed table and the encoding key of
// its BLTE-framed on-wire form.
type BuildConfigEncoding struct {
	ContentHash ContentKey
	CDNHash     EncodingKey
}

// A BuildConfig is the parsed per-build config blob.
type BuildConfig struct {
	Root ContentKey

	Install     ContentKey
	InstallSize uint64

	Download     ContentKey
	DownloadSize uint64

	Encoding BuildConfigEncoding

	Size uint64

	Patch       ContentKey
	PatchSize   uint64
	PatchConfig ContentKey
}

// An ArchiveEntry locates an EncodingKey's bytes within one archive blob.
type ArchiveEntry struct {
	Archive ArchiveKey
	Offset  uint32
	Size    uint32
}

// A CacheCategory names one of the on-disk cache's subdirectories, or one of
// its well-known singleton files.
type CacheCategory string

// Cache categories, naming the on-disk build cache's subdirectories and
// well-known singleton files.
const (
	CacheCategoryIndexes  CacheCategory = "indexes"
	CacheCategoryData     CacheCategory = "data"
	CacheCategoryEncoding CacheCategory = "encoding"
	CacheCategoryRoot     CacheCategory = "root"
)

// A FilenameMapper maps a logical path to the ContentKey that names its
// current contents. Implementations include a listfile-backed mapper; the
// mapping is always build-specific.
type FilenameMapper interface {
	ToContentHash(fn string) (h ContentKey, ok bool)
}
