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

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
	"github.com/casc-go/casc/ngdp/hostresolver"
	"github.com/casc-go/casc/ngdp/listfile"
	"github.com/casc-go/casc/ngdp/pipeline"
	"github.com/casc-go/casc/ngdp/transport"
)

// trackedKey names one region+program pair the tracker keeps loaded.
type trackedKey struct {
	Region  ngdp.Region
	Program ngdp.ProgramCode
}

// trackedBuild is the tracker's view of one region+program pair: the
// pipeline that last loaded successfully for it, plus enough bookkeeping to
// report status without re-walking the pipeline's own fields.
type trackedBuild struct {
	Pipeline *pipeline.Pipeline
	Names    *listfile.Mapper // nil unless -listfile was supplied
}

// tracker is the daemon's equivalent of the teacher's datastore: it keeps
// one *pipeline.Pipeline loaded per region+program pair it is asked to
// track, and refreshes all of them on demand. Unlike the teacher's
// datastore, which shared config/mapper caches across every tracked pair
// keyed by their own CDN hash, each tracked pair here owns an independent
// Pipeline — the content-addressed on-disk build cache under UserDataRoot
// is what actually de-duplicates bytes shared between builds, so the
// in-memory structures don't need to.
type tracker struct {
	userDataRoot string
	names        *listfile.Table // nil unless -listfile was supplied and parsed cleanly

	// Getter and HostResolver are threaded into every Pipeline this tracker
	// builds. Both are nil in production, letting Pipeline fall back to its
	// own defaults (a real transport.Client and hostresolver.Resolver);
	// tests override them with fakes the way ngdp/pipeline's own tests do.
	Getter       transport.Getter
	HostResolver *hostresolver.Resolver

	// Guards everything below.
	l        sync.RWMutex
	tracking []trackedKey
	builds   map[trackedKey]*trackedBuild
}

func newTracker(userDataRoot string, names *listfile.Table) *tracker {
	return &tracker{
		userDataRoot: userDataRoot,
		names:        names,
		builds:       make(map[trackedKey]*trackedBuild),
	}
}

// Track registers a region+program pair for Update to maintain. It is not
// safe to call once Update is already running concurrently against the
// tracker from a goroutine, matching the teacher's datastore.Track, which is
// likewise only ever called during startup before the update loop begins.
func (t *tracker) Track(region ngdp.Region, program ngdp.ProgramCode) {
	t.l.Lock()
	defer t.l.Unlock()
	t.tracking = append(t.tracking, trackedKey{Region: region, Program: program})
}

// Tracking returns the pairs registered with Track.
func (t *tracker) Tracking() []trackedKey {
	t.l.RLock()
	defer t.l.RUnlock()
	out := make([]trackedKey, len(t.tracking))
	copy(out, t.tracking)
	return out
}

// Build returns the most recently loaded pipeline for region+program, or an
// error if it has never loaded successfully.
func (t *tracker) Build(region ngdp.Region, program ngdp.ProgramCode) (*trackedBuild, error) {
	t.l.RLock()
	defer t.l.RUnlock()
	b, ok := t.builds[trackedKey{Region: region, Program: program}]
	if !ok {
		return nil, fmt.Errorf("no loaded build for %s/%s", program, region)
	}
	return b, nil
}

// Update refreshes every tracked pair in turn, matching the teacher's
// datastore.Update: a failure for one pair is logged and skipped rather than
// aborting the rest, since most pairs are independent of each other.
func (t *tracker) Update(ctx context.Context) {
	for _, k := range t.Tracking() {
		if err := t.update(ctx, k); err != nil {
			glog.Errorf("snowstormd: updating %s/%s: %v", k.Program, k.Region, err)
		}
	}
	// Each refresh replaces a tracked pair's whole Pipeline (root/encoding/
	// archive tables and all); nudge the collector rather than waiting for
	// the next cycle to notice the old ones are garbage.
	runtime.GC()
}

// update loads (or reloads) the pipeline for one tracked pair.
func (t *tracker) update(ctx context.Context, k trackedKey) error {
	glog.Infof("snowstormd: updating %s/%s", k.Program, k.Region)

	p := &pipeline.Pipeline{
		Region:       k.Region,
		UserDataRoot: filepath.Join(t.userDataRoot, string(k.Region), string(k.Program)),
		Getter:       t.Getter,
		HostResolver: t.HostResolver,
	}
	if err := p.Init(ctx); err != nil {
		return errors.Wrap(err, "discovering builds")
	}

	idx := -1
	for i, b := range p.Builds {
		if ngdp.ProgramCode(b.Product) == k.Program {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Errorf("patch host has no build for %s/%s", k.Program, k.Region)
	}
	if err := p.Load(ctx, idx); err != nil {
		return errors.Wrap(err, "loading build")
	}

	tb := &trackedBuild{Pipeline: p}
	if t.names != nil {
		tb.Names = &listfile.Mapper{Names: t.names, Root: p.Root}
	}

	t.l.Lock()
	t.builds[k] = tb
	t.l.Unlock()

	glog.Infof("snowstormd: %s/%s: loaded build %s (%d root entries)", k.Program, k.Region, p.Build.Root, p.Root.Len())
	return nil
}
