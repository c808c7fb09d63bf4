package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
)

func TestClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := &Client{}
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp, http.StatusOK); err != nil {
		t.Errorf("CheckStatus: %v", err)
	}
}

func TestClientGetBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{}
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp, http.StatusOK); err == nil {
		t.Error("CheckStatus = nil; want error")
	} else if !errors.Is(err, ngdp.ErrTransport) {
		t.Errorf("CheckStatus = %v; want wrapping ngdp.ErrTransport", err)
	}
}

func TestClientGetTransportError(t *testing.T) {
	c := &Client{}
	if _, err := c.Get(context.Background(), "http://127.0.0.1:0/unreachable"); err == nil {
		t.Error("Get = nil; want error")
	} else if !errors.Is(err, ngdp.ErrTransport) {
		t.Errorf("Get = %v; want wrapping ngdp.ErrTransport", err)
	}
}

func TestClientDoCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Client{}
	if _, err := c.Get(ctx, srv.URL); err == nil {
		t.Error("Get with cancelled context = nil; want error")
	}
}
