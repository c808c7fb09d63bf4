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

// Command snowstormd is a demonstration daemon built on top of the
// resolution pipeline: it tracks a configurable set of region+program pairs,
// keeps each one's build loaded and refreshed on a timer, and serves its
// status and file contents over HTTP. It is grounded on the teacher's
// server/server.go and server/datastore.go, generalized from a single
// hardcoded product to an arbitrary tracked set and from MNDX filename-tree
// browsing to file-data-id-keyed routes, with an optional listfile-backed
// name lookup layered on top.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"gopkg.in/webpack.v0"

	"github.com/casc-go/casc/ngdp"
	"github.com/casc-go/casc/ngdp/listfile"
)

var (
	trackRegionsStr  = flag.String("track-regions", "us,eu", "comma-separated list of regions to track")
	trackProgramsStr = flag.String("track-programs", "wow", "comma-separated list of programs to track")

	userDataRoot = flag.String("user-data-root", "snowstormd-cache", "directory under which the per-build cache lives")
	listfilePath = flag.String("listfile", "", "optional path to a community listfile, enabling filename-keyed routes")
	updateEvery  = flag.Duration("update-every", 30*time.Minute, "how often to re-poll every tracked region+program pair")
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	devMode      = flag.Bool("dev", false, "development mode")
)

// server bundles the tracker with the mux routes built against it.
type server struct {
	tracker *tracker
}

func main() {
	flag.Parse()

	webpack.Init(*devMode)

	var names *listfile.Table
	if *listfilePath != "" {
		f, err := os.Open(*listfilePath)
		if err != nil {
			glog.Exitf("snowstormd: opening listfile %q: %v", *listfilePath, err)
		}
		names, err = listfile.Parse(f)
		f.Close()
		if err != nil {
			glog.Exitf("snowstormd: parsing listfile %q: %v", *listfilePath, err)
		}
		glog.Infof("snowstormd: loaded listfile with %d paths", names.Len())
	}

	trk := newTracker(*userDataRoot, names)
	for _, region := range strings.Split(*trackRegionsStr, ",") {
		for _, program := range strings.Split(*trackProgramsStr, ",") {
			trk.Track(ngdp.Region(region), ngdp.ProgramCode(program))
		}
	}

	glog.Info("snowstormd: performing initial update")
	trk.Update(context.Background())
	go func() {
		for range time.Tick(*updateEvery) {
			glog.Info("snowstormd: performing scheduled update")
			trk.Update(context.Background())
		}
	}()

	srv := &server{tracker: trk}

	rtr := mux.NewRouter()
	r := rtr.Methods("GET").Subrouter()
	r.HandleFunc("/programs", srv.programsHandler)
	r.HandleFunc("/programs/{program}/{region}", srv.programHandler)
	r.Handle("/programs/{program}/{region}/file/{fileDataID:[0-9]+}", gziphandler.GzipHandler(http.HandlerFunc(srv.fileHandler)))
	r.Handle("/programs/{program}/{region}/files/{filePath:.+}", gziphandler.GzipHandler(http.HandlerFunc(srv.fileByNameHandler)))

	glog.Infof("snowstormd: listening on %q", *listen)
	glog.Exit(http.ListenAndServe(*listen, rtr))
}
