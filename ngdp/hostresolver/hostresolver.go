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

// Package hostresolver picks the lowest-latency edge host out of a server
// descriptor's candidate list, the way the teacher's ngdp/client fans work
// out across an errgroup.Group and awaits every result before proceeding.
package hostresolver

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/casc-go/casc/ngdp"
)

// DefaultProbeTimeout bounds a single host probe so resolution can never
// wedge on a host that accepts a TCP handshake but never completes one.
const DefaultProbeTimeout = 3 * time.Second

// A Dialer opens a connection to addr; it exists so tests can substitute a
// fake without touching a real network, matching the teacher's fakeGetter
// idiom of injecting the I/O boundary.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Resolver selects the fastest-responding host from a ServerDescriptor.
type Resolver struct {
	Dialer       Dialer
	ProbeTimeout time.Duration
}

func (r *Resolver) dialer() Dialer {
	if r.Dialer != nil {
		return r.Dialer
	}
	return &net.Dialer{}
}

func (r *Resolver) probeTimeout() time.Duration {
	if r.ProbeTimeout > 0 {
		return r.ProbeTimeout
	}
	return DefaultProbeTimeout
}

type probeResult struct {
	host    string
	latency time.Duration
}

// Resolve pings every host in hosts and returns the one with the lowest
// round-trip latency. All probes run concurrently and are awaited to
// completion (success or failure) before a winner is picked; a host that
// never responds within the probe timeout counts as a failure, not a hang.
// If every host fails, Resolve returns a wrapped ngdp.ErrConfiguration.
func (r *Resolver) Resolve(ctx context.Context, hosts []string) (string, error) {
	if len(hosts) == 0 {
		return "", errors.Wrap(ngdp.ErrConfiguration, "hostresolver: no candidate hosts")
	}

	results := make([]probeResult, len(hosts))
	ok := make([]bool, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	for n, host := range hosts {
		n, host := n, host
		g.Go(func() error {
			latency, err := r.probe(gctx, host)
			if err != nil {
				// A single dead host doesn't abort the others; only total
				// failure (checked below) is fatal.
				return nil
			}
			results[n] = probeResult{host: host, latency: latency}
			ok[n] = true
			return nil
		})
	}
	// g.Wait's error is always nil per the loop above; probes never return
	// a non-nil error so one failing host can't cancel gctx for the rest.
	_ = g.Wait()

	var winner *probeResult
	for n := range results {
		if !ok[n] {
			continue
		}
		if winner == nil || results[n].latency < winner.latency {
			r := results[n]
			winner = &r
		}
	}
	if winner == nil {
		return "", errors.Wrapf(ngdp.ErrConfiguration, "hostresolver: no live host among %v", hosts)
	}
	return winner.host, nil
}

func (r *Resolver) probe(ctx context.Context, host string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout())
	defer cancel()

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "80")
	}

	start := time.Now()
	conn, err := r.dialer().DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return time.Since(start), nil
}

// RankedHosts probes every host and returns them ordered fastest-first,
// dropping any that failed. Used by callers that want a fallback list
// rather than a single winner.
func (r *Resolver) RankedHosts(ctx context.Context, hosts []string) ([]string, error) {
	if len(hosts) == 0 {
		return nil, errors.Wrap(ngdp.ErrConfiguration, "hostresolver: no candidate hosts")
	}

	results := make([]probeResult, len(hosts))
	ok := make([]bool, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	for n, host := range hosts {
		n, host := n, host
		g.Go(func() error {
			latency, err := r.probe(gctx, host)
			if err != nil {
				return nil
			}
			results[n] = probeResult{host: host, latency: latency}
			ok[n] = true
			return nil
		})
	}
	_ = g.Wait()

	var live []probeResult
	for n := range results {
		if ok[n] {
			live = append(live, results[n])
		}
	}
	if len(live) == 0 {
		return nil, errors.Wrapf(ngdp.ErrConfiguration, "hostresolver: no live host among %v", hosts)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].latency < live[j].latency })

	out := make([]string, len(live))
	for n, p := range live {
		out[n] = p.host
	}
	return out, nil
}
