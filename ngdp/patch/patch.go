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

// Package patch fetches the per-product version and server descriptor
// tables from a Blizzard patch host, adapted from the teacher's
// ngdp/client.Client.CDNs/Versions but split into its own stage per the
// pipeline's leaves-first dependency chain.
package patch

import (
	"context"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
	"github.com/casc-go/casc/ngdp/configtable"
	"github.com/casc-go/casc/ngdp/transport"
)

const (
	patchPort          = 1119
	suffixVersionTable = "versions"
	suffixServerTable  = "cdns"
)

func patchURL(region ngdp.Region, program ngdp.ProgramCode, suffix string) string {
	return fmt.Sprintf("http://%s.patch.battle.net:%d/%s/%s", region, patchPort, program, suffix)
}

// A Fetcher retrieves version/server config tables from a patch host.
//
// PatchRegion selects which regional patch host answers the request; it is
// independent of the Region a caller eventually selects out of the returned
// records (every regional patch host mirrors the same tables).
type Fetcher struct {
	Getter      transport.Getter
	PatchRegion ngdp.Region
}

func (f *Fetcher) getter() transport.Getter {
	if f.Getter != nil {
		return f.Getter
	}
	return &transport.Client{}
}

func (f *Fetcher) region() ngdp.Region {
	if f.PatchRegion == "" {
		return ngdp.DefaultRegion
	}
	return f.PatchRegion
}

// GetVersionConfig fetches the version table for program, tagging every
// returned record with its source product.
func (f *Fetcher) GetVersionConfig(ctx context.Context, program ngdp.ProgramCode) ([]ngdp.ProductDescriptor, error) {
	glog.Infof("patch: fetching version config for %s", program)

	resp, err := f.getter().Get(ctx, patchURL(f.region(), program, suffixVersionTable))
	if err != nil {
		return nil, errors.Wrap(err, "patch: fetching version config")
	}
	defer resp.Body.Close()

	if err := transport.CheckStatus(resp, 200); err != nil {
		return nil, errors.Wrap(err, "patch: fetching version config")
	}

	var out []ngdp.ProductDescriptor
	d := configtable.NewDecoder(resp.Body)
	for {
		var pd ngdp.ProductDescriptor
		if err := d.Decode(&pd); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(ngdp.ErrParse, err.Error())
		}
		pd.Product = string(program)
		out = append(out, pd)
	}
	return out, nil
}

// GetServerConfig fetches the server (CDN) config table for program.
func (f *Fetcher) GetServerConfig(ctx context.Context, program ngdp.ProgramCode) ([]ngdp.ServerDescriptor, error) {
	glog.Infof("patch: fetching server config for %s", program)

	resp, err := f.getter().Get(ctx, patchURL(f.region(), program, suffixServerTable))
	if err != nil {
		return nil, errors.Wrap(err, "patch: fetching server config")
	}
	defer resp.Body.Close()

	if err := transport.CheckStatus(resp, 200); err != nil {
		return nil, errors.Wrap(err, "patch: fetching server config")
	}

	var out []ngdp.ServerDescriptor
	d := configtable.NewDecoder(resp.Body)
	for {
		var sd ngdp.ServerDescriptor
		if err := d.Decode(&sd); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(ngdp.ErrParse, err.Error())
		}
		out = append(out, sd)
	}
	return out, nil
}

// SelectProduct returns the record matching region, or a wrapped
// ngdp.ErrConfiguration if none matches.
func SelectProduct(records []ngdp.ProductDescriptor, region ngdp.Region) (ngdp.ProductDescriptor, error) {
	for _, r := range records {
		if r.Region == region {
			return r, nil
		}
	}
	return ngdp.ProductDescriptor{}, errors.Wrapf(ngdp.ErrConfiguration, "no version config for region %q", region)
}

// SelectServer returns the record matching region, or a wrapped
// ngdp.ErrConfiguration if none matches.
func SelectServer(records []ngdp.ServerDescriptor, region ngdp.Region) (ngdp.ServerDescriptor, error) {
	for _, r := range records {
		if r.Name == region {
			return r, nil
		}
	}
	return ngdp.ServerDescriptor{}, errors.Wrapf(ngdp.ErrConfiguration, "no server config for region %q", region)
}
