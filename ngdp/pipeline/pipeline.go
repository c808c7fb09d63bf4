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

// Package pipeline owns the resolution pipeline's lifecycle end to end:
// discovering the builds available for a product, loading one of them
// (server config, host selection, build/CDN config, archive indexes,
// encoding and root tables), and handing back a resolver ready to answer
// get_file. It is the composition root the rest of ngdp/* was split into
// stages for; grounded on the sequencing ngdp/client/highlevel.go's New
// already performs inline (fetch configs, resolve host, load archives),
// generalized here into explicit init/preload/load steps with a cooperative
// progress callback standing in for the teacher's UI-bound progress bar.
package pipeline

import (
	"bytes"
	"context"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/casc-go/casc/blte"
	"github.com/casc-go/casc/ngdp"
	"github.com/casc-go/casc/ngdp/archive"
	"github.com/casc-go/casc/ngdp/buildcache"
	"github.com/casc-go/casc/ngdp/encoding"
	"github.com/casc-go/casc/ngdp/hostresolver"
	"github.com/casc-go/casc/ngdp/keyvalue"
	"github.com/casc-go/casc/ngdp/patch"
	"github.com/casc-go/casc/ngdp/resolver"
	"github.com/casc-go/casc/ngdp/root"
	"github.com/casc-go/casc/ngdp/transport"
)

// KnownPrograms lists the products init probes for a build list. The
// teacher's client only ever talked to "wow"; this pipeline is generic over
// any ngdp.ProgramCode, but still needs a concrete starting set to fan out
// over since the patch host has no "list all products" call.
var KnownPrograms = []ngdp.ProgramCode{
	ngdp.ProgramWoW,
	ngdp.ProgramWoWClassic,
	ngdp.ProgramWoWTest,
}

// A Stage names one step of the ten the progress callback is driven through
// across preload (stages 1-6) and load (stages 7-10).
type Stage int

const (
	StageServerConfig Stage = iota + 1
	StageHostResolve
	StageBuildConfig
	StageCDNConfig
	StageCacheInit
	StageArchives
	StageEncodingFetch
	StageEncodingParse
	StageRootFetch
	StageRootParse

	stageCount = 10
)

func (s Stage) String() string {
	switch s {
	case StageServerConfig:
		return "server config"
	case StageHostResolve:
		return "host resolve"
	case StageBuildConfig:
		return "build config"
	case StageCDNConfig:
		return "cdn config"
	case StageCacheInit:
		return "cache init"
	case StageArchives:
		return "archive indexes"
	case StageEncodingFetch:
		return "encoding fetch"
	case StageEncodingParse:
		return "encoding parse"
	case StageRootFetch:
		return "root fetch"
	case StageRootParse:
		return "root parse"
	default:
		return "unknown stage"
	}
}

// Progress reports one completed stage out of Total.
type Progress struct {
	Stage Stage
	Total int
}

// A ProgressFunc receives one Progress report per stage. It also serves as
// the cooperative yield point: Pipeline checks ctx for cancellation
// immediately before every report, so a caller whose ProgressFunc is slow
// (e.g. redrawing a UI) never delays cancellation response by more than one
// stage.
type ProgressFunc func(Progress)

// Pipeline owns one product's build discovery and the state produced by
// loading a chosen build. Per the write-once invariant, Server, Edge,
// Build, CDN, Archives, Cache, Encoding, and Root are set exactly once, by
// Preload/Load, and never mutated afterwards.
type Pipeline struct {
	Patch        *patch.Fetcher
	HostResolver *hostresolver.Resolver
	Getter       transport.Getter
	OnProgress   ProgressFunc

	// UserDataRoot is the directory under which the per-build cache lives.
	UserDataRoot string
	// Region selects both the patch host queried and the record picked out
	// of every multi-region config table.
	Region ngdp.Region
	// RootOptions filters the root table loaded by Load. The zero value's
	// Locale (0) would match nothing, so Load substitutes root.LocaleAll
	// when RootOptions.Locale is unset.
	RootOptions root.ParseOptions

	// Builds is populated by Init: one ProductDescriptor per known program
	// that both answered the patch host and has a record for Region.
	Builds []ngdp.ProductDescriptor

	Server   ngdp.ServerDescriptor
	Edge     resolver.Edge
	Build    ngdp.BuildConfig
	CDN      ngdp.CDNConfig
	Cache    *buildcache.Cache
	Archives *archive.Map
	Encoding *encoding.Table
	Root     *root.Table
	Resolver *resolver.Resolver
}

func (p *Pipeline) getter() transport.Getter {
	if p.Getter != nil {
		return p.Getter
	}
	return &transport.Client{}
}

func (p *Pipeline) region() ngdp.Region {
	if p.Region == "" {
		return ngdp.DefaultRegion
	}
	return p.Region
}

func (p *Pipeline) patchFetcher() *patch.Fetcher {
	if p.Patch != nil {
		return p.Patch
	}
	return &patch.Fetcher{Getter: p.getter(), PatchRegion: p.region()}
}

func (p *Pipeline) hostResolver() *hostresolver.Resolver {
	if p.HostResolver != nil {
		return p.HostResolver
	}
	return &hostresolver.Resolver{}
}

func (p *Pipeline) rootOptions() root.ParseOptions {
	if p.RootOptions.Locale == 0 {
		return root.ParseOptions{Locale: root.LocaleAll, ExcludeContentFlags: p.RootOptions.ExcludeContentFlags}
	}
	return p.RootOptions
}

// step is the cooperative yield point: check for cancellation, then report
// progress. Every stage calls it immediately before doing that stage's
// work, so a caller who cancels mid-stage is honored before the next one
// starts, per the pipeline controller's cancellation contract.
func (p *Pipeline) step(ctx context.Context, s Stage) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(ngdp.ErrCancelled, err.Error())
	}
	if p.OnProgress != nil {
		p.OnProgress(Progress{Stage: s, Total: stageCount})
	}
	glog.V(1).Infof("pipeline: stage %d/%d: %s", int(s), stageCount, s)
	return nil
}

// Init populates Builds by fetching the version config for every known
// program in parallel. A program whose fetch fails, or whose records have
// no entry for Region, is simply omitted; only total failure to reach the
// patch host (every program's fetch failing) is fatal.
func (p *Pipeline) Init(ctx context.Context) error {
	programs := KnownPrograms
	results := make([]ngdp.ProductDescriptor, len(programs))
	included := make([]bool, len(programs))
	reached := make([]bool, len(programs))

	g, gctx := errgroup.WithContext(ctx)
	for n, program := range programs {
		n, program := n, program
		g.Go(func() error {
			records, err := p.patchFetcher().GetVersionConfig(gctx, program)
			if err != nil {
				glog.Warningf("pipeline: version config for %s: %v", program, err)
				return nil
			}
			reached[n] = true

			pd, err := patch.SelectProduct(records, p.region())
			if err != nil {
				glog.Infof("pipeline: %s has no build for region %s", program, p.region())
				return nil
			}
			results[n] = pd
			included[n] = true
			return nil
		})
	}
	_ = g.Wait() // the loop above never returns a non-nil error

	anyReached := false
	for _, r := range reached {
		if r {
			anyReached = true
			break
		}
	}
	if !anyReached {
		return errors.Wrap(ngdp.ErrConfiguration, "pipeline: could not reach the patch host for any known product")
	}

	var builds []ngdp.ProductDescriptor
	for n := range results {
		if included[n] {
			builds = append(builds, results[n])
		}
	}
	p.Builds = builds
	return nil
}

// Preload selects Builds[buildIndex] and runs every stage through the
// archive index loader: server config, host resolution, build/CDN config,
// the per-build cache, and archives. It does not load encoding or root.
// Archive indexes are already cache-backed at this point (the archive
// loader's Source requires one), so the cache is initialized here rather
// than deferred to Load, despite load/encoding/root remaining Load-only.
func (p *Pipeline) Preload(ctx context.Context, buildIndex int) error {
	if buildIndex < 0 || buildIndex >= len(p.Builds) {
		return errors.Wrapf(ngdp.ErrConfiguration, "pipeline: build index %d out of range (have %d)", buildIndex, len(p.Builds))
	}
	build := p.Builds[buildIndex]

	if err := p.step(ctx, StageServerConfig); err != nil {
		return err
	}
	serverRecords, err := p.patchFetcher().GetServerConfig(ctx, ngdp.ProgramCode(build.Product))
	if err != nil {
		return err
	}
	server, err := patch.SelectServer(serverRecords, p.region())
	if err != nil {
		return err
	}
	p.Server = server

	if err := p.step(ctx, StageHostResolve); err != nil {
		return err
	}
	host, err := p.hostResolver().Resolve(ctx, server.Hosts)
	if err != nil {
		return err
	}
	p.Edge = resolver.Edge{Host: host, ServerPath: server.Path}

	if err := p.step(ctx, StageBuildConfig); err != nil {
		return err
	}
	buildCfgBytes, err := resolver.FetchConfig(ctx, p.getter(), p.Edge, build.BuildConfig)
	if err != nil {
		return err
	}
	var buildCfg ngdp.BuildConfig
	if err := keyvalue.Decode(bytes.NewReader(buildCfgBytes), &buildCfg); err != nil {
		return errors.Wrap(ngdp.ErrParse, err.Error())
	}
	p.Build = buildCfg

	if err := p.step(ctx, StageCDNConfig); err != nil {
		return err
	}
	cdnCfgBytes, err := resolver.FetchConfig(ctx, p.getter(), p.Edge, build.CDNConfig)
	if err != nil {
		return err
	}
	var cdnCfg ngdp.CDNConfig
	if err := keyvalue.Decode(bytes.NewReader(cdnCfgBytes), &cdnCfg); err != nil {
		return errors.Wrap(ngdp.ErrParse, err.Error())
	}
	p.CDN = cdnCfg

	if err := p.step(ctx, StageCacheInit); err != nil {
		return err
	}
	if p.Cache == nil {
		c := buildcache.New(p.UserDataRoot, build.BuildConfig)
		if err := c.Init(); err != nil {
			return err
		}
		p.Cache = c
	}

	if err := p.step(ctx, StageArchives); err != nil {
		return err
	}
	loader := &archive.Loader{Source: &resolver.ArchiveSource{Getter: p.getter(), Cache: p.Cache, Edge: p.Edge}}
	archives, err := loader.Load(ctx, cdnCfg.Archives)
	if err != nil {
		return err
	}
	p.Archives = archives

	return nil
}

// Load runs Preload, then loads the encoding and root tables and assembles
// a Resolver ready to answer get_file. After Load returns successfully,
// every field it and Preload populate is frozen for the Pipeline's
// lifetime.
func (p *Pipeline) Load(ctx context.Context, buildIndex int) error {
	if err := p.Preload(ctx, buildIndex); err != nil {
		return err
	}

	if err := p.step(ctx, StageEncodingFetch); err != nil {
		return err
	}
	encBytes, err := resolver.FetchSingleton(ctx, p.getter(), p.Cache, p.Edge, ngdp.CacheCategoryEncoding, p.Build.Encoding.CDNHash)
	if err != nil {
		return err
	}

	if err := p.step(ctx, StageEncodingParse); err != nil {
		return err
	}
	encTbl, err := encoding.Parse(blte.NewReader(bytes.NewReader(encBytes)))
	if err != nil {
		return err
	}
	p.Encoding = encTbl

	rootEK, ok := encTbl.Lookup(p.Build.Root)
	if !ok {
		return errors.Wrapf(ngdp.ErrBuildInconsistency, "pipeline: root content key %s has no encoding entry", p.Build.Root)
	}

	if err := p.step(ctx, StageRootFetch); err != nil {
		return err
	}
	rootBytes, err := resolver.FetchSingleton(ctx, p.getter(), p.Cache, p.Edge, ngdp.CacheCategoryRoot, rootEK)
	if err != nil {
		return err
	}

	if err := p.step(ctx, StageRootParse); err != nil {
		return err
	}
	rootTbl, err := root.Parse(blte.NewReader(bytes.NewReader(rootBytes)), p.rootOptions())
	if err != nil {
		return err
	}
	p.Root = rootTbl

	p.Resolver = &resolver.Resolver{
		Root:     p.Root,
		Encoding: p.Encoding,
		Archives: p.Archives,
		Cache:    p.Cache,
		Getter:   p.getter(),
		Edge:     p.Edge,
	}

	glog.Infof("pipeline: loaded build %s: %d archive entries, %d encoding entries, %d root entries",
		p.Build.Root, p.Archives.Len(), p.Encoding.Len(), p.Root.Len())

	return nil
}

// GetFile resolves fileDataID through the Resolver assembled by Load.
func (p *Pipeline) GetFile(ctx context.Context, fileDataID uint32) (*resolver.BLTEBlob, error) {
	if p.Resolver == nil {
		return nil, errors.Wrap(ngdp.ErrConfiguration, "pipeline: Load has not completed")
	}
	return p.Resolver.GetFile(ctx, fileDataID)
}

// GetFileByContentKey resolves ck through the Resolver assembled by Load,
// for callers (e.g. a listfile-backed FilenameMapper) that start from a
// content key instead of a file-data-id.
func (p *Pipeline) GetFileByContentKey(ctx context.Context, ck ngdp.ContentKey) (*resolver.BLTEBlob, error) {
	if p.Resolver == nil {
		return nil, errors.Wrap(ngdp.ErrConfiguration, "pipeline: Load has not completed")
	}
	return p.Resolver.GetFileByContentKey(ctx, ck)
}
