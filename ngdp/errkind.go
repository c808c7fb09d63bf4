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

package ngdp

import "github.com/pkg/errors"

// Sentinel error kinds shared by every pipeline stage. Callers distinguish
// them with errors.Is; an error that carries a kind wraps one of these
// through github.com/pkg/errors.Wrap. Some lower-level I/O errors are
// wrapped with context only and carry no kind.
var (
	// ErrTransport covers non-2xx HTTP responses, connection failures, and
	// timeouts talking to a patch host or CDN edge.
	ErrTransport = errors.New("ngdp: transport error")

	// ErrParse covers malformed binary or text data: bad magic, out-of-range
	// counts, truncated records. Always fatal to the stage that hit it.
	ErrParse = errors.New("ngdp: parse error")

	// ErrConfiguration covers a missing product, missing region, or no live
	// edge hosts. Fatal to pipeline initialisation.
	ErrConfiguration = errors.New("ngdp: configuration error")

	// ErrBuildInconsistency covers a root entry whose content key has no
	// encoding entry, or an encoding key absent from the archive index.
	// Fatal to the one file being resolved; the rest of the pipeline is
	// unaffected.
	ErrBuildInconsistency = errors.New("ngdp: build inconsistency")

	// ErrNotFound covers a file-data-id with no root table entry.
	ErrNotFound = errors.New("ngdp: not found")

	// ErrCancelled covers cooperative cancellation via context.Context.
	ErrCancelled = errors.New("ngdp: cancelled")
)
