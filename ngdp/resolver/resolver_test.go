package resolver

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/casc-go/casc/ngdp"
	"github.com/casc-go/casc/ngdp/archive"
	"github.com/casc-go/casc/ngdp/buildcache"
	"github.com/casc-go/casc/ngdp/encoding"
	"github.com/casc-go/casc/ngdp/root"
)

type fakeGetter struct {
	responses map[string]*http.Response
	requests  []*http.Request
}

func (f *fakeGetter) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return f.Do(ctx, req)
}

func (f *fakeGetter) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	resp := f.responses[req.URL.String()]
	if resp == nil {
		return nil, fmt.Errorf("response for %q not stored", req.URL.String())
	}
	return resp, nil
}

func fakeResp(status int, body string) *http.Response {
	return &http.Response{
		Status:     http.StatusText(status),
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testCache(t *testing.T) *buildcache.Cache {
	t.Helper()
	bh, _ := ngdp.ParseContentKey("11111111111111111111111111111111")
	c := buildcache.New(t.TempDir(), bh)
	if err := c.Init(); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFetchConfig(t *testing.T) {
	ck, _ := ngdp.ParseContentKey("22222222222222222222222222222222")
	edge := Edge{Host: "edge.example.com", ServerPath: "tpr/wow"}
	fg := &fakeGetter{responses: map[string]*http.Response{
		"http://edge.example.com/tpr/wow/config/22/22/22222222222222222222222222222222": fakeResp(200, "root = deadbeef\n"),
	}}

	b, err := FetchConfig(context.Background(), fg, edge, ck)
	if err != nil {
		t.Fatalf("FetchConfig: %v", err)
	}
	if string(b) != "root = deadbeef\n" {
		t.Errorf("FetchConfig = %q", b)
	}
}

func TestArchiveSourceFetchesAndCaches(t *testing.T) {
	ak, _ := ngdp.ParseArchiveKey("33333333333333333333333333333333")
	edge := Edge{Host: "edge.example.com", ServerPath: "tpr/wow"}
	cache := testCache(t)

	fg := &fakeGetter{responses: map[string]*http.Response{
		"http://edge.example.com/tpr/wow/data/33/33/33333333333333333333333333333333.index": fakeResp(200, "index-bytes"),
	}}

	src := &ArchiveSource{Getter: fg, Cache: cache, Edge: edge}

	r, err := src.FetchIndex(context.Background(), ak)
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	b, _ := io.ReadAll(r)
	if string(b) != "index-bytes" {
		t.Errorf("FetchIndex body = %q", b)
	}

	if !cache.Has(ak.String()+".index", ngdp.CacheCategoryIndexes) {
		t.Fatal("expected FetchIndex to populate the cache")
	}

	// Second call must be served from cache: drop the stubbed response and
	// confirm no request is made for it.
	delete(fg.responses, "http://edge.example.com/tpr/wow/data/33/33/33333333333333333333333333333333.index")
	r2, err := src.FetchIndex(context.Background(), ak)
	if err != nil {
		t.Fatalf("FetchIndex (cached): %v", err)
	}
	b2, _ := io.ReadAll(r2)
	if string(b2) != "index-bytes" {
		t.Errorf("FetchIndex (cached) body = %q", b2)
	}
}

func buildArchiveIndex(ek ngdp.EncodingKey, offset, size uint32) []byte {
	var buf bytes.Buffer
	buf.Write(ek[:])
	binary.Write(&buf, binary.BigEndian, size)
	binary.Write(&buf, binary.BigEndian, offset)
	footer := make([]byte, 12)
	binary.LittleEndian.PutUint32(footer[0:4], 1)
	buf.Write(footer)
	return buf.Bytes()
}

func testResolver(t *testing.T) (*Resolver, *fakeGetter) {
	t.Helper()

	fileDataID := uint32(42)
	ck, _ := ngdp.ParseContentKey("44444444444444444444444444444444")
	ek, _ := ngdp.ParseEncodingKey("55555555555555555555555555555555")
	ak, _ := ngdp.ParseArchiveKey("66666666666666666666666666666666")

	rootTbl := mustRootTable(t, fileDataID, ck)
	encTbl := mustEncodingTable(t, ck, ek)
	archiveMap := mustArchiveMap(t, ak, ek, 0, 11)

	edge := Edge{Host: "edge.example.com", ServerPath: "tpr/wow"}
	fg := &fakeGetter{responses: map[string]*http.Response{
		"http://edge.example.com/tpr/wow/data/66/66/66666666666666666666666666666666": fakeResp(206, "hello world"),
	}}

	return &Resolver{
		Root:     rootTbl,
		Encoding: encTbl,
		Archives: archiveMap,
		Cache:    testCache(t),
		Getter:   fg,
		Edge:     edge,
	}, fg
}

// mustArchiveMap builds an *archive.Map through archive.Loader's public
// path (a fake Source handing back one pre-built index), since Map's
// entries field is unexported and only archive.Parse/Loader can populate
// one.
func mustArchiveMap(t *testing.T, ak ngdp.ArchiveKey, ek ngdp.EncodingKey, offset, size uint32) *archive.Map {
	t.Helper()
	idx := buildArchiveIndex(ek, offset, size)
	l := &archive.Loader{Source: singleIndexSource{ak: ak, data: idx}}
	m, err := l.Load(context.Background(), []ngdp.ArchiveKey{ak})
	if err != nil {
		t.Fatalf("building archive map: %v", err)
	}
	return m
}

type singleIndexSource struct {
	ak   ngdp.ArchiveKey
	data []byte
}

func (s singleIndexSource) FetchIndex(ctx context.Context, ak ngdp.ArchiveKey) (io.ReadCloser, error) {
	if ak != s.ak {
		return nil, fmt.Errorf("unexpected archive key %s", ak)
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func mustRootTable(t *testing.T, fileDataID uint32, ck ngdp.ContentKey) *root.Table {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // numRecords
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // contentFlags
	binary.Write(&buf, binary.LittleEndian, uint32(root.LocaleAll))
	binary.Write(&buf, binary.LittleEndian, fileDataID) // first delta == id
	buf.Write(ck[:])

	tbl, err := root.Parse(bytes.NewReader(buf.Bytes()), root.ParseOptions{Locale: root.LocaleAll})
	if err != nil {
		t.Fatalf("root.Parse: %v", err)
	}
	return tbl
}

func mustEncodingTable(t *testing.T, ck ngdp.ContentKey, ek ngdp.EncodingKey) *encoding.Table {
	t.Helper()
	// Build a minimal single-page encoding table and parse it through the
	// real encoding.Parse, so this test exercises the production path
	// rather than poking at encoding.Table's unexported fields.
	var page bytes.Buffer
	binary.Write(&page, binary.LittleEndian, uint16(1)) // cdnKeyCount
	page.Write(make([]byte, 4))                         // unused checksum bytes
	page.Write(ck[:])
	page.Write(ek[:])
	for page.Len() < 4096 {
		page.WriteByte(0)
	}

	var buf bytes.Buffer
	buf.WriteByte('E')
	buf.WriteByte('N')
	buf.WriteByte(1)
	buf.WriteByte(0x10)
	buf.WriteByte(0x10)
	binary.Write(&buf, binary.BigEndian, uint16(0))
	binary.Write(&buf, binary.BigEndian, uint16(0))
	binary.Write(&buf, binary.BigEndian, uint32(1)) // sizeA
	binary.Write(&buf, binary.BigEndian, uint32(0)) // sizeB
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, uint32(0)) // stringSize
	buf.Write(make([]byte, 32))                     // key table index (one page)
	buf.Write(page.Bytes())

	tbl, err := encoding.Parse(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("encoding.Parse: %v", err)
	}
	return tbl
}

func TestResolverGetFile(t *testing.T) {
	r, fg := testResolver(t)

	blob, err := r.GetFile(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(blob.Data) != "hello world" {
		t.Errorf("GetFile data = %q", blob.Data)
	}

	if len(fg.requests) != 1 {
		t.Fatalf("expected exactly one HTTP request, got %d", len(fg.requests))
	}
	if got := fg.requests[0].Header.Get("Range"); got != "bytes=0-10" {
		t.Errorf("Range header = %q; want bytes=0-10", got)
	}

	// Second call should be served entirely from cache.
	fg.responses = map[string]*http.Response{}
	blob2, err := r.GetFile(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetFile (cached): %v", err)
	}
	if string(blob2.Data) != "hello world" {
		t.Errorf("GetFile (cached) data = %q", blob2.Data)
	}
}

func TestResolverGetFileNotFound(t *testing.T) {
	r, _ := testResolver(t)

	_, err := r.GetFile(context.Background(), 9999)
	if err == nil {
		t.Fatal("GetFile = nil; want error")
	}
	if !errors.Is(err, ngdp.ErrNotFound) {
		t.Errorf("GetFile err = %v; want wrapping ngdp.ErrNotFound", err)
	}
}
