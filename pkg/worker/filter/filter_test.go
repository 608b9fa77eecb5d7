package filter

import (
	"bytes"
	"testing"

	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/proto"
)

func runFilter(t *testing.T, w *Worker, paths []string) []proto.FilterResult {
	t.Helper()
	req, err := proto.NewEnvelope(proto.TypeFilterPaths, proto.FilterPaths{Paths: paths})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := w.handleFilterPaths(req, &out); err != nil {
		t.Fatalf("handleFilterPaths: %v", err)
	}
	resp, err := proto.ReadEnvelope(&out)
	if err != nil {
		t.Fatal(err)
	}
	var body proto.FilterPathsResp
	if err := resp.Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body.Results
}

func TestFilterGlobDenylist(t *testing.T) {
	w := New(t.TempDir(), config.FilterConfig{DenyGlobs: []string{"*.exe", "autorun.inf"}})

	paths := []string{"/a.txt", "/b.exe", "/nested/deep/c.EXE", "/autorun.inf", "/dir"}
	results := runFilter(t, w, paths)

	if len(results) != len(paths) {
		t.Fatalf("%d results for %d paths", len(results), len(paths))
	}
	want := []proto.FilterResult{
		proto.FilterPathOk,  // a.txt
		proto.FilterPathBad, // b.exe
		proto.FilterPathOk,  // c.EXE: glob matching is case-sensitive, like the path filter rules
		proto.FilterPathBad, // autorun.inf
		proto.FilterPathOk,  // dir
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result[%d] (%s) = %d, want %d", i, paths[i], results[i], want[i])
		}
	}
}

func TestFilterEmptyBatch(t *testing.T) {
	w := New(t.TempDir(), config.FilterConfig{})
	if got := runFilter(t, w, nil); len(got) != 0 {
		t.Fatalf("results = %v", got)
	}
}
