package listfile

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/casc-go/casc/ngdp"
	"github.com/casc-go/casc/ngdp/root"
)

func TestParse(t *testing.T) {
	src := "" +
		"1;world/textures/sky.blp\n" +
		"2;WORLD/TEXTURES/ground.blp\n" +
		"3;interface/icons/inv_misc_questionmark.blp\n"

	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tbl.Len() != 3 {
		t.Fatalf("Len = %d; want 3", tbl.Len())
	}

	for _, tc := range []struct {
		path string
		want uint32
	}{
		{"world/textures/sky.blp", 1},
		{"World/Textures/Sky.blp", 1}, // lookups are case-insensitive
		{"world/textures/ground.blp", 2},
		{"interface/icons/inv_misc_questionmark.blp", 3},
	} {
		got, ok := tbl.Lookup(tc.path)
		if !ok || got != tc.want {
			t.Errorf("Lookup(%q) = %d, %v; want %d, true", tc.path, got, ok, tc.want)
		}
	}

	if _, ok := tbl.Lookup("world/textures/nope.blp"); ok {
		t.Error("Lookup of unlisted path returned ok=true")
	}
}

func TestParseIgnoresBlankLines(t *testing.T) {
	src := "1;a.txt\n\n\n2;b/c.txt\n"
	tbl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d; want 2", tbl.Len())
	}
}

func TestParseMalformedLine(t *testing.T) {
	if _, err := Parse(strings.NewReader("not-a-valid-line\n")); err == nil {
		t.Fatal("Parse = nil error; want error for line missing ';'")
	}
}

func TestParseBadFileDataID(t *testing.T) {
	if _, err := Parse(strings.NewReader("notanumber;a.txt\n")); err == nil {
		t.Fatal("Parse = nil error; want error for non-numeric file-data-id")
	}
}

func TestParseDuplicatePath(t *testing.T) {
	src := "1;a/b.txt\n2;a/b.txt\n"
	if _, err := Parse(strings.NewReader(src)); err == nil {
		t.Fatal("Parse = nil error; want error for duplicate path")
	}
}

func TestParseDirFileClash(t *testing.T) {
	// "a" is first a file, then asked to contain "a/b.txt" as a child.
	src := "1;a\n2;a/b.txt\n"
	if _, err := Parse(strings.NewReader(src)); err == nil {
		t.Fatal("Parse = nil error; want error for directory/file name clash")
	}
}

func mustCK(s string) ngdp.ContentKey {
	k, err := ngdp.ParseContentKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func buildRootTable(t *testing.T, fileDataID uint32, ck ngdp.ContentKey) *root.Table {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(root.LocaleAll))
	binary.Write(&buf, binary.LittleEndian, fileDataID)
	buf.Write(ck[:])

	tbl, err := root.Parse(bytes.NewReader(buf.Bytes()), root.ParseOptions{Locale: root.LocaleAll})
	if err != nil {
		t.Fatalf("root.Parse: %v", err)
	}
	return tbl
}

func TestMapperToContentHash(t *testing.T) {
	ck := mustCK("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	names, err := Parse(strings.NewReader("42;world/textures/sky.blp\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := &Mapper{Names: names, Root: buildRootTable(t, 42, ck)}

	got, ok := m.ToContentHash("world/textures/sky.blp")
	if !ok {
		t.Fatal("ToContentHash ok = false")
	}
	if got != ck {
		t.Errorf("ToContentHash = %s; want %s", got, ck)
	}
}

func TestMapperToContentHashUnlistedPath(t *testing.T) {
	names, _ := Parse(strings.NewReader("42;a.txt\n"))
	m := &Mapper{Names: names, Root: buildRootTable(t, 42, mustCK("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))}

	if _, ok := m.ToContentHash("missing.txt"); ok {
		t.Error("ToContentHash of unlisted path returned ok=true")
	}
}

func TestMapperToContentHashNotInBuild(t *testing.T) {
	// Listed in the listfile, but the loaded build's root table doesn't
	// carry an entry for that file-data-id (e.g. removed in this build).
	names, _ := Parse(strings.NewReader("99;gone.txt\n"))
	m := &Mapper{Names: names, Root: buildRootTable(t, 42, mustCK("cccccccccccccccccccccccccccccccc"))}

	if _, ok := m.ToContentHash("gone.txt"); ok {
		t.Error("ToContentHash for file-data-id absent from root table returned ok=true")
	}
}
