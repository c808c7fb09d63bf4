package hostresolver

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
)

type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

type fakeDialer struct {
	latency map[string]time.Duration
	fail    map[string]bool
}

func (f *fakeDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if f.fail[addr] {
		return nil, fmt.Errorf("dial %s: connection refused", addr)
	}
	if d, ok := f.latency[addr]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return fakeConn{}, nil
}

func TestResolvePicksFastest(t *testing.T) {
	d := &fakeDialer{
		latency: map[string]time.Duration{
			"slow.example.com:80": 30 * time.Millisecond,
			"fast.example.com:80": 1 * time.Millisecond,
		},
	}
	r := &Resolver{Dialer: d}

	got, err := r.Resolve(context.Background(), []string{"slow.example.com", "fast.example.com"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "fast.example.com" {
		t.Errorf("Resolve = %q; want %q", got, "fast.example.com")
	}
}

func TestResolveIgnoresFailures(t *testing.T) {
	d := &fakeDialer{
		fail: map[string]bool{"dead.example.com:80": true},
	}
	r := &Resolver{Dialer: d}

	got, err := r.Resolve(context.Background(), []string{"dead.example.com", "live.example.com"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "live.example.com" {
		t.Errorf("Resolve = %q; want %q", got, "live.example.com")
	}
}

func TestResolveAllFail(t *testing.T) {
	d := &fakeDialer{
		fail: map[string]bool{"a.example.com:80": true, "b.example.com:80": true},
	}
	r := &Resolver{Dialer: d}

	_, err := r.Resolve(context.Background(), []string{"a.example.com", "b.example.com"})
	if err == nil {
		t.Fatal("Resolve = nil; want error")
	}
	if !errors.Is(err, ngdp.ErrConfiguration) {
		t.Errorf("Resolve err = %v; want wrapping ngdp.ErrConfiguration", err)
	}
}

func TestResolveNoHosts(t *testing.T) {
	r := &Resolver{Dialer: &fakeDialer{}}
	if _, err := r.Resolve(context.Background(), nil); err == nil {
		t.Fatal("Resolve = nil; want error")
	}
}

func TestRankedHosts(t *testing.T) {
	d := &fakeDialer{
		latency: map[string]time.Duration{
			"slow.example.com:80": 20 * time.Millisecond,
			"fast.example.com:80": 1 * time.Millisecond,
		},
		fail: map[string]bool{"dead.example.com:80": true},
	}
	r := &Resolver{Dialer: d}

	got, err := r.RankedHosts(context.Background(), []string{"slow.example.com", "dead.example.com", "fast.example.com"})
	if err != nil {
		t.Fatalf("RankedHosts: %v", err)
	}
	want := []string{"fast.example.com", "slow.example.com"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("RankedHosts = %v; want %v", got, want)
	}
}
