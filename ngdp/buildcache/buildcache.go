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

// Package buildcache is a filesystem-backed, content-addressed store keyed
// under one per-build directory. It interposes between every network fetch
// and its consumer: a miss simply means "go fetch it," a store is
// fire-and-forget from the caller's perspective, and writes are atomic so a
// reader never observes a partially-written file.
package buildcache

import (
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
)

// A Cache is rooted at {userDataRoot}/{buildHash}. Subdirectories `indexes/`
// and `data/` hold archive-index and loose-data files; `encoding` and
// `root` are well-known singleton files at the top level.
type Cache struct {
	dir string
}

// New returns a Cache rooted at {userDataRoot}/{buildHash}. It does not
// touch the filesystem; call Init before using the cache.
func New(userDataRoot string, buildHash ngdp.ContentKey) *Cache {
	return &Cache{dir: filepath.Join(userDataRoot, buildHash.String())}
}

// Init ensures the cache's directory structure exists.
func (c *Cache) Init() error {
	for _, sub := range []ngdp.CacheCategory{ngdp.CacheCategoryIndexes, ngdp.CacheCategoryData} {
		if err := os.MkdirAll(c.categoryDir(sub), 0755); err != nil {
			return errors.Wrapf(err, "buildcache: creating %s", sub)
		}
	}
	return nil
}

func (c *Cache) categoryDir(category ngdp.CacheCategory) string {
	switch category {
	case ngdp.CacheCategoryIndexes, ngdp.CacheCategoryData:
		return filepath.Join(c.dir, string(category))
	default:
		return c.dir
	}
}

func (c *Cache) path(name string, category ngdp.CacheCategory) string {
	return filepath.Join(c.categoryDir(category), name)
}

// Has reports whether name is present in the cache under category.
func (c *Cache) Has(name string, category ngdp.CacheCategory) bool {
	_, err := os.Stat(c.path(name, category))
	return err == nil
}

// Get returns name's cached contents, or (nil, false) if absent. Absence is
// not an error; any other filesystem error is returned as one.
func (c *Cache) Get(name string, category ngdp.CacheCategory) ([]byte, bool, error) {
	b, err := os.ReadFile(c.path(name, category))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "buildcache: reading %s/%s", category, name)
	}
	return b, true, nil
}

// Store writes b to name under category, atomically: the bytes land in a
// sibling temp file first, then an os.Rename makes the write visible as one
// step, so a concurrent Get never observes a partial write. Store logs and
// swallows its own failures per the fetch pipeline's error model: a failed
// cache write must never fail the fetch that produced the bytes, since the
// caller already has the bytes it needs regardless of whether they land on
// disk.
func (c *Cache) Store(name string, b []byte, category ngdp.CacheCategory) {
	if err := c.store(name, b, category); err != nil {
		glog.Warningf("buildcache: storing %s/%s: %v", category, name, err)
	}
}

func (c *Cache) store(name string, b []byte, category ngdp.CacheCategory) error {
	dir := c.categoryDir(category)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmpName, c.path(name, category)); err != nil {
		return errors.Wrap(err, "renaming into place")
	}
	return nil
}
