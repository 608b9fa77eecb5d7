package tar2files

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker/files2tar"
)

// drive sends one request through a handler and decodes the single
// response envelope it writes.
func drive(t *testing.T, h func(proto.Envelope, io.Writer) error, typ proto.Type, body, resp any) {
	t.Helper()
	req, err := proto.NewEnvelope(typ, body)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := h(req, &out); err != nil {
		t.Fatalf("%s: %v", typ, err)
	}
	env, err := proto.ReadEnvelope(&out)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type == proto.TypeError {
		t.Fatalf("%s answered with error envelope", typ)
	}
	if resp != nil {
		if err := env.Decode(resp); err != nil {
			t.Fatal(err)
		}
	}
}

// buildArchive stages one directory and one file through files2tar's
// handlers, closing with an identity tuple, and returns the archive path.
func buildArchive(t *testing.T, content []byte) string {
	t.Helper()
	archivePath := filepath.Join(t.TempDir(), "staging.tar")
	tw := files2tar.New(archivePath)
	h := tw.Handlers()

	// Source filesystems like ext4 report nonzero directory sizes; the tar
	// header must still say 0.
	drive(t, h[proto.TypeTarNewFile], proto.TypeTarNewFile, proto.TarNewFile{
		Path: "/dir", Size: 0, FType: device.FileTypeDirectory, Timestamp: 1700000000,
	}, nil)

	drive(t, h[proto.TypeTarNewFile], proto.TypeTarNewFile, proto.TarNewFile{
		Path: "/dir/b.txt", Size: uint64(len(content)), FType: device.FileTypeRegular, Timestamp: 1700000001,
	}, nil)
	half := len(content) / 2
	drive(t, h[proto.TypeTarWriteFile], proto.TypeTarWriteFile, proto.TarWriteFile{
		Path: "/dir/b.txt", Offset: 0, Data: content[:half],
	}, nil)
	drive(t, h[proto.TypeTarWriteFile], proto.TypeTarWriteFile, proto.TarWriteFile{
		Path: "/dir/b.txt", Offset: uint64(half), Data: content[half:],
	}, nil)
	drive(t, h[proto.TypeTarEndFile], proto.TypeTarEndFile, proto.TarEndFile{Path: "/dir/b.txt"}, nil)

	drive(t, h[proto.TypeTarClose], proto.TypeTarClose, proto.TarClose{
		ID: "tester", VendorID: 0x0951, ProductID: 0x1666,
		Manufacturer: "Kingston", Serial: "S123", Description: "DataTraveler",
	}, nil)
	return archivePath
}

func TestStageAndReadBack(t *testing.T) {
	content := []byte("twenty bytes of data")
	archivePath := buildArchive(t, content)

	r := New(archivePath)
	h := r.Handlers()

	var dirAttr proto.GetAttrResp
	drive(t, h[proto.TypeGetAttr], proto.TypeGetAttr, proto.GetAttr{Path: "/dir"}, &dirAttr)
	if dirAttr.FType != device.FileTypeDirectory || dirAttr.Size != 0 {
		t.Fatalf("dir attrs = %+v", dirAttr)
	}

	var fileAttr proto.GetAttrResp
	drive(t, h[proto.TypeGetAttr], proto.TypeGetAttr, proto.GetAttr{Path: "/dir/b.txt"}, &fileAttr)
	if fileAttr.FType != device.FileTypeRegular || fileAttr.Size != uint64(len(content)) {
		t.Fatalf("file attrs = %+v", fileAttr)
	}
	if fileAttr.Timestamp != 1700000001 {
		t.Errorf("timestamp = %d", fileAttr.Timestamp)
	}

	var chunk proto.ReadFileResp
	drive(t, h[proto.TypeReadFile], proto.TypeReadFile, proto.ReadFile{
		Path: "/dir/b.txt", Offset: 0, Size: uint64(len(content)),
	}, &chunk)
	if !bytes.Equal(chunk.Data, content) {
		t.Fatalf("content = %q", chunk.Data)
	}

	// Offset reads see the tail only.
	drive(t, h[proto.TypeReadFile], proto.TypeReadFile, proto.ReadFile{
		Path: "/dir/b.txt", Offset: 7, Size: uint64(len(content) - 7),
	}, &chunk)
	if !bytes.Equal(chunk.Data, content[7:]) {
		t.Fatalf("offset content = %q", chunk.Data)
	}
}

func TestGetAttrUnknownPath(t *testing.T) {
	archivePath := buildArchive(t, []byte("x"))
	r := New(archivePath)
	req, _ := proto.NewEnvelope(proto.TypeGetAttr, proto.GetAttr{Path: "/nope"})
	var out bytes.Buffer
	if err := r.Handlers()[proto.TypeGetAttr](req, &out); err == nil {
		t.Fatal("unknown path did not error")
	}
}

// The archive's closing metadata entry records who ran the transfer and
// from which device.
func TestCloseWritesInfosEntry(t *testing.T) {
	archivePath := buildArchive(t, []byte("payload"))

	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	found := false
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Name == "infos.json" {
			found = true
			data, err := io.ReadAll(tr)
			if err != nil {
				t.Fatal(err)
			}
			for _, want := range []string{"tester", "Kingston", "S123"} {
				if !bytes.Contains(data, []byte(want)) {
					t.Errorf("infos entry missing %q: %s", want, data)
				}
			}
		}
	}
	if !found {
		t.Fatal("no infos.json entry in closed archive")
	}
}
