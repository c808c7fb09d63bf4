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

// Package transport provides the context-aware HTTP client every pipeline
// stage fetches through. It generalizes the teacher's LowLevelClient: every
// call carries a context.Context and every non-2xx response becomes a
// distinguished ngdp.ErrTransport error instead of a bare status string.
package transport

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
)

// A Getter is the minimal HTTP surface every fetching stage depends on. It
// exists so tests can substitute a fake without spinning up a real listener,
// matching the teacher's fakeGetter idiom in ngdp/client/client_test.go.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is the default Getter, wrapping a *http.Client (or
// http.DefaultClient if none is supplied).
type Client struct {
	HTTP *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Get issues a GET request for url under ctx.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "transport: building request")
	}
	return c.Do(ctx, req)
}

// Do issues req under ctx.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient().Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(ngdp.ErrTransport, err.Error())
	}
	return resp, nil
}

// CheckStatus wraps ngdp.ErrTransport if resp's status code isn't want.
func CheckStatus(resp *http.Response, want int) error {
	if resp.StatusCode != want {
		return errors.Wrapf(ngdp.ErrTransport, "server returned %q, want %d", resp.Status, want)
	}
	return nil
}
