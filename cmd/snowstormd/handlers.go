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
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/casc-go/casc/ngdp"
	"github.com/casc-go/casc/ngdp/pipeline"
)

// buildStatus is the JSON shape returned for one tracked region+program
// pair, mirroring the fields the teacher's server.go pulled off its
// client.Client.VersionInfo/CDNInfo for the same purpose.
type buildStatus struct {
	Product      string `json:"product"`
	Region       string `json:"region"`
	BuildID      int    `json:"build_id"`
	VersionsName string `json:"versions_name"`
	BuildConfig  string `json:"build_config"`
	CDNConfig    string `json:"cdn_config"`
	CDNHost      string `json:"cdn_host"`
	CDNPath      string `json:"cdn_path"`

	ArchiveEntries  int  `json:"archive_entries"`
	EncodingEntries int  `json:"encoding_entries"`
	RootEntries     int  `json:"root_entries"`
	HasFilenameMap  bool `json:"has_filename_map"`
}

func statusFromBuild(k trackedKey, tb *trackedBuild) buildStatus {
	p := tb.Pipeline
	d := buildDescriptor(p, k.Program)
	return buildStatus{
		Product:      string(k.Program),
		Region:       string(k.Region),
		BuildID:      d.BuildID,
		VersionsName: d.VersionsName,
		BuildConfig:  d.BuildConfig.String(),
		CDNConfig:    d.CDNConfig.String(),
		CDNHost:      p.Edge.Host,
		CDNPath:      p.Edge.ServerPath,

		ArchiveEntries:  p.Archives.Len(),
		EncodingEntries: p.Encoding.Len(),
		RootEntries:     p.Root.Len(),
		HasFilenameMap:  tb.Names != nil,
	}
}

func buildDescriptor(p *pipeline.Pipeline, program ngdp.ProgramCode) ngdp.ProductDescriptor {
	for _, b := range p.Builds {
		if ngdp.ProgramCode(b.Product) == program {
			return b
		}
	}
	return ngdp.ProductDescriptor{}
}

// annotateBuildHeaders sets the response headers the teacher's server.go
// set from its client.Client, generalized to the tracker's per-pair state.
func annotateBuildHeaders(h http.Header, k trackedKey, tb *trackedBuild) {
	d := buildDescriptor(tb.Pipeline, k.Program)
	h.Set("Snowstorm-Build-Config", d.BuildConfig.String())
	h.Set("Snowstorm-Build-ID", strconv.Itoa(d.BuildID))
	h.Set("Snowstorm-Version-Name", d.VersionsName)
}

// programsHandler reports status for every tracked region+program pair.
func (srv *server) programsHandler(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]map[string]buildStatus)
	for _, k := range srv.tracker.Tracking() {
		tb, err := srv.tracker.Build(k.Region, k.Program)
		if err != nil {
			continue // not loaded (yet, or ever); omitted rather than erroring the whole page
		}
		if out[string(k.Program)] == nil {
			out[string(k.Program)] = make(map[string]buildStatus)
		}
		out[string(k.Program)][string(k.Region)] = statusFromBuild(k, tb)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

// programHandler reports status for one tracked region+program pair.
func (srv *server) programHandler(w http.ResponseWriter, r *http.Request) {
	k, err := srv.trackedKeyFromVars(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	tb, err := srv.tracker.Build(k.Region, k.Program)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	annotateBuildHeaders(w.Header(), k, tb)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(statusFromBuild(k, tb))
}

// fileHandler fetches one file by its file-data-id: the CASC-native
// identifier the root table is keyed on. This is the daemon's primary data
// route, replacing the teacher's MNDX filename-tree browsing entirely.
func (srv *server) fileHandler(w http.ResponseWriter, r *http.Request) {
	k, err := srv.trackedKeyFromVars(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	tb, err := srv.tracker.Build(k.Region, k.Program)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	annotateBuildHeaders(w.Header(), k, tb)

	vars := mux.Vars(r)
	fileDataID, err := strconv.ParseUint(vars["fileDataID"], 10, 32)
	if err != nil {
		http.Error(w, "file-data-id must be a non-negative integer", http.StatusBadRequest)
		return
	}

	blob, err := tb.Pipeline.GetFile(r.Context(), uint32(fileDataID))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeBlob(w, r, blob.EK.String(), blob.Data)
}

// fileByNameHandler resolves a listfile path to a content key through the
// build's filename map and serves it via GetFileByContentKey. The route is
// always registered; it answers 404 when no listfile was loaded.
func (srv *server) fileByNameHandler(w http.ResponseWriter, r *http.Request) {
	k, err := srv.trackedKeyFromVars(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	tb, err := srv.tracker.Build(k.Region, k.Program)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if tb.Names == nil {
		http.Error(w, "no filename map loaded for this build", http.StatusNotFound)
		return
	}
	annotateBuildHeaders(w.Header(), k, tb)

	ck, ok := tb.Names.ToContentHash(mux.Vars(r)["filePath"])
	if !ok {
		http.Error(w, "no such file in the listfile", http.StatusNotFound)
		return
	}

	blob, err := tb.Pipeline.GetFileByContentKey(r.Context(), ck)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeBlob(w, r, blob.EK.String(), blob.Data)
}

func writeBlob(w http.ResponseWriter, r *http.Request, ek string, data []byte) {
	etag := fmt.Sprintf("%q", ek)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Snowstorm-Encoding-Key", ek)
	w.Header().Set("ETag", etag)
	w.Write(data)
}

func (srv *server) trackedKeyFromVars(r *http.Request) (trackedKey, error) {
	vars := mux.Vars(r)
	program := ngdp.ProgramCode(vars["program"])
	region := ngdp.Region(vars["region"])
	for _, k := range srv.tracker.Tracking() {
		if k.Program == program && k.Region == region {
			return k, nil
		}
	}
	return trackedKey{}, fmt.Errorf("%s/%s is not tracked by this daemon", program, region)
}
