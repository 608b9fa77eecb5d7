package device

import (
	"fmt"
	"reflect"
	"testing"
)

// fakeWalker serves GetAttr/ReadDir from in-memory maps.
type fakeWalker struct {
	attrs map[string]Attr
	dirs  map[string][]DirectoryEntry
}

func (w *fakeWalker) GetAttr(path string) (Attr, error) {
	a, ok := w.attrs[path]
	if !ok {
		return Attr{}, fmt.Errorf("no such path %s", path)
	}
	return a, nil
}

func (w *fakeWalker) ReadDir(path string) ([]DirectoryEntry, error) {
	return w.dirs[path], nil
}

func TestExpandSelectionTwoFiles(t *testing.T) {
	w := &fakeWalker{
		attrs: map[string]Attr{
			"/a.txt":     {FType: FileTypeRegular, Size: 10},
			"/dir/b.txt": {FType: FileTypeRegular, Size: 20},
		},
	}
	sel := ExpandSelection(w, []string{"/a.txt", "/dir/b.txt"})

	if !reflect.DeepEqual(sel.Files, []string{"/a.txt", "/dir/b.txt"}) {
		t.Errorf("Files = %v", sel.Files)
	}
	if !reflect.DeepEqual(sel.Directories, []string{"/dir"}) {
		t.Errorf("Directories = %v", sel.Directories)
	}
	if sel.TotalSize != 30 {
		t.Errorf("TotalSize = %d, want 30", sel.TotalSize)
	}
	if len(sel.Errors) != 0 {
		t.Errorf("Errors = %v", sel.Errors)
	}
}

func TestExpandSelectionRecursesDirectories(t *testing.T) {
	w := &fakeWalker{
		attrs: map[string]Attr{
			"/d":       {FType: FileTypeDirectory},
			"/d/x.txt": {FType: FileTypeRegular, Size: 5},
			"/d/sub":   {FType: FileTypeDirectory},
			"/d/sub/y": {FType: FileTypeRegular, Size: 7},
		},
		dirs: map[string][]DirectoryEntry{
			"/d":     {{Path: "/d/x.txt"}, {Path: "/d/sub"}},
			"/d/sub": {{Path: "/d/sub/y"}},
		},
	}
	sel := ExpandSelection(w, []string{"/d"})

	if !reflect.DeepEqual(sel.Files, []string{"/d/x.txt", "/d/sub/y"}) {
		t.Errorf("Files = %v", sel.Files)
	}
	if !reflect.DeepEqual(sel.Directories, []string{"/d", "/d/sub"}) {
		t.Errorf("Directories = %v", sel.Directories)
	}
	if sel.TotalSize != 12 {
		t.Errorf("TotalSize = %d, want 12", sel.TotalSize)
	}
}

func TestExpandSelectionDeduplicates(t *testing.T) {
	w := &fakeWalker{
		attrs: map[string]Attr{"/a": {FType: FileTypeRegular, Size: 3}},
	}
	sel := ExpandSelection(w, []string{"/a", "/a", "/a"})
	if len(sel.Files) != 1 || sel.TotalSize != 3 {
		t.Fatalf("duplicates not suppressed: files=%v total=%d", sel.Files, sel.TotalSize)
	}
}

func TestExpandSelectionSpecialFileGoesToErrors(t *testing.T) {
	w := &fakeWalker{
		attrs: map[string]Attr{
			"/fifo": {FType: FileTypeOther},
		},
	}
	sel := ExpandSelection(w, []string{"/fifo", "/gone"})
	if len(sel.Files)+len(sel.Directories) != 0 {
		t.Fatalf("special/missing paths leaked into the transfer set: %+v", sel)
	}
	if !reflect.DeepEqual(sel.Errors, []string{"/fifo", "/gone"}) {
		t.Errorf("Errors = %v", sel.Errors)
	}
}

func TestParents(t *testing.T) {
	cases := []struct {
		path string
		want []string
	}{
		{"/a.txt", nil},
		{"/dir/b.txt", []string{"/dir"}},
		{"/a/b/c/d", []string{"/a", "/a/b", "/a/b/c"}},
	}
	for _, tc := range cases {
		if got := parents(tc.path); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parents(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestCapacityOK(t *testing.T) {
	const devSize = 1000
	if !CapacityOK(980, devSize) {
		t.Error("exactly 98% must fit")
	}
	if CapacityOK(981, devSize) {
		t.Error("one byte over 98% must not fit")
	}
	if !CapacityOK(0, 0) {
		t.Error("empty selection always fits")
	}
}
