package device

import "strings"

// Walker abstracts the two scsi2files calls the selection-expansion
// algorithm needs, so it can be driven either by the real worker over its
// pipe or by a fake in tests.
type Walker interface {
	GetAttr(path string) (Attr, error)
	ReadDir(path string) ([]DirectoryEntry, error)
}

// Selection is the result of expanding a user's chosen set of paths into
// the full set of files and directories the transfer will copy, plus the
// accumulated byte total used for the capacity check and the per-path
// failures recorded along the way.
type Selection struct {
	Files       []string
	Directories []string
	Errors      []string
	TotalSize   uint64
}

// ExpandSelection walks each selected path breadth-first. For every path the
// parent chain is recorded into Directories first (even for parents never
// explicitly selected), preserving tree structure on the destination; the
// path itself is then classified via GetAttr: regular files accumulate into
// Files and TotalSize, directories are listed via ReadDir and their children
// queued, anything else lands on Errors. A GetAttr failure records the path
// to Errors and the walk continues. Duplicates are suppressed with a seen
// set.
func ExpandSelection(w Walker, selected []string) Selection {
	var sel Selection
	seen := make(map[string]struct{})
	inDirs := make(map[string]struct{})

	addDir := func(path string) {
		if _, ok := inDirs[path]; ok {
			return
		}
		inDirs[path] = struct{}{}
		sel.Directories = append(sel.Directories, path)
	}

	queue := append([]string(nil), selected...)
	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		for _, parent := range parents(entry) {
			addDir(parent)
		}

		attr, err := w.GetAttr(entry)
		if err != nil {
			sel.Errors = append(sel.Errors, entry)
			continue
		}

		switch attr.FType {
		case FileTypeRegular:
			if _, ok := seen[entry]; ok {
				continue
			}
			seen[entry] = struct{}{}
			sel.Files = append(sel.Files, entry)
			sel.TotalSize += attr.Size
		case FileTypeDirectory:
			if _, ok := seen[entry]; !ok {
				seen[entry] = struct{}{}
				addDir(entry)
			}
			children, err := w.ReadDir(entry)
			if err != nil {
				sel.Errors = append(sel.Errors, entry)
				continue
			}
			for _, c := range children {
				queue = append(queue, c.Path)
			}
		default:
			sel.Errors = append(sel.Errors, entry)
		}
	}

	return sel
}

// parents returns every ancestor directory of path in root-to-leaf order,
// excluding path itself: "/a/b/c" yields ["/a", "/a/b"].
func parents(path string) []string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 2 {
		return nil
	}
	out := make([]string, 0, len(parts)-1)
	cur := ""
	for _, p := range parts[:len(parts)-1] {
		cur += "/" + p
		out = append(out, cur)
	}
	return out
}

// CapacityOK reports whether totalSize fits on a device of devSizeBytes,
// with a 2% safety margin: a transfer is rejected before any destination
// write if totalSize exceeds 98% of the destination's capacity.
func CapacityOK(totalSize, devSizeBytes uint64) bool {
	return totalSize <= devSizeBytes*98/100
}

// MaxFAT32FileSize is the largest file size a FAT32 destination filesystem
// can represent (2^32-1). Regular files above this size are recorded as
// per-file errors before any of their content is staged.
const MaxFAT32FileSize = 0xFFFFFFFF

// ReadChunkSize is the maximum chunk of file content moved in one pipe
// round trip: scsi2files -> files2tar, tar2files -> files2fs, and the
// sector stream scsi2files -> files2fs during raw disk imaging.
const ReadChunkSize = 1 << 23
