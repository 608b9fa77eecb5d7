package fs2dev

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker/files2fs"
)

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
	if resp != nil {
		if err := env.Decode(resp); err != nil {
			t.Fatal(err)
		}
	}
}

// driveStream runs a streaming handler (StartCopy/Wipe) and returns every
// response envelope it wrote.
func driveStream(t *testing.T, h func(proto.Envelope, io.Writer) error, typ proto.Type, body any) []proto.Envelope {
	t.Helper()
	req, err := proto.NewEnvelope(typ, body)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := h(req, &out); err != nil {
		t.Fatalf("%s: %v", typ, err)
	}
	var envs []proto.Envelope
	for {
		env, err := proto.ReadEnvelope(&out)
		if err == io.EOF {
			return envs
		}
		if err != nil {
			t.Fatal(err)
		}
		envs = append(envs, env)
	}
}

func TestUnlockPayloadDecoding(t *testing.T) {
	w := New("img", "dst", 0)
	// Scenario from the state machine contract: busnum=2, devnum=7 encodes
	// as 0x0000000700000002 little-endian.
	payload := []byte{0x02, 0, 0, 0, 0x07, 0, 0, 0}
	if err := w.OnUnlock(payload); err != nil {
		t.Fatal(err)
	}
	if w.busnum != 2 || w.devnum != 7 {
		t.Fatalf("busnum/devnum = %d/%d", w.busnum, w.devnum)
	}

	if err := w.OnUnlock([]byte{0}); err == nil {
		t.Fatal("short unlock payload accepted")
	}
}

// Build a small filesystem image through files2fs, forward its bitmap, and
// let fs2dev copy the marked blocks to the destination stand-in.
func TestBuildForwardAndCopy(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "staging.fs")
	dstPath := filepath.Join(dir, "device.bin")

	fs := files2fs.New(imgPath)
	fh := fs.Handlers()

	drive(t, fh[proto.TypeSetFsInfos], proto.TypeSetFsInfos, proto.SetFsInfos{DevSize: 1 << 20, FSType: device.FSTypeFAT32}, nil)
	drive(t, fh[proto.TypeFsNewFile], proto.TypeFsNewFile, proto.FsNewFile{
		Path: "/dir", FType: device.FileTypeDirectory,
	}, nil)

	content := bytes.Repeat([]byte("block"), 1000) // ~5000 bytes, two blocks
	drive(t, fh[proto.TypeFsNewFile], proto.TypeFsNewFile, proto.FsNewFile{
		Path: "/dir/b.bin", Size: uint64(len(content)), FType: device.FileTypeRegular,
	}, nil)
	drive(t, fh[proto.TypeFsWriteFile], proto.TypeFsWriteFile, proto.FsWriteFile{
		Path: "/dir/b.bin", Offset: 0, Data: content,
	}, nil)
	drive(t, fh[proto.TypeFsEndFile], proto.TypeFsEndFile, proto.FsEndFile{Path: "/dir/b.bin"}, nil)
	drive(t, fh[proto.TypeFsClose], proto.TypeFsClose, proto.FsClose{}, nil)

	dev := New(imgPath, dstPath, 1<<20)
	dh := dev.Handlers()

	var size proto.DevSizeResp
	drive(t, dh[proto.TypeDevSize], proto.TypeDevSize, proto.DevSize{}, &size)
	if size.Size != 1<<20 {
		t.Fatalf("DevSize = %d", size.Size)
	}

	// Relay the bitmap exactly as the orchestrator would, chunk by chunk
	// until last.
	for {
		var bv proto.BitVecResp
		drive(t, fh[proto.TypeBitVec], proto.TypeBitVec, proto.BitVec{}, &bv)
		drive(t, dh[proto.TypeLoadBitVec], proto.TypeLoadBitVec, proto.LoadBitVec{Chunk: bv.Chunk, Last: bv.Last}, nil)
		if bv.Last {
			break
		}
	}

	envs := driveStream(t, dh[proto.TypeStartCopy], proto.TypeStartCopy, proto.StartCopy{})
	if len(envs) == 0 || envs[len(envs)-1].Type != proto.TypeCopyStatusDone {
		t.Fatalf("copy stream did not end with CopyStatusDone: %v", envs)
	}

	img, err := os.ReadFile(imgPath)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(dst, content) {
		t.Fatal("destination missing the staged file content")
	}
	if len(dst) > len(img)+blockSize {
		t.Fatalf("destination larger than image: %d vs %d", len(dst), len(img))
	}
}

func TestStartCopyBeforeFinalBitvecChunkRefused(t *testing.T) {
	dir := t.TempDir()
	dev := New(filepath.Join(dir, "img"), filepath.Join(dir, "dst"), 1<<20)
	dh := dev.Handlers()

	drive(t, dh[proto.TypeLoadBitVec], proto.TypeLoadBitVec, proto.LoadBitVec{Chunk: []byte{0xff}, Last: false}, nil)

	req, _ := proto.NewEnvelope(proto.TypeStartCopy, proto.StartCopy{})
	var out bytes.Buffer
	if err := dh[proto.TypeStartCopy](req, &out); err == nil {
		t.Fatal("StartCopy accepted before the final bitvec chunk")
	}
}

func TestWipeZeroFillsDevice(t *testing.T) {
	dir := t.TempDir()
	dstPath := filepath.Join(dir, "device.bin")
	if err := os.WriteFile(dstPath, bytes.Repeat([]byte{0xaa}, 4096), 0o644); err != nil {
		t.Fatal(err)
	}

	dev := New(filepath.Join(dir, "img"), dstPath, 4096)
	envs := driveStream(t, dev.Handlers()[proto.TypeWipe], proto.TypeWipe, proto.Wipe{})
	if envs[len(envs)-1].Type != proto.TypeCopyStatusDone {
		t.Fatalf("wipe stream did not end with CopyStatusDone")
	}

	data, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, b)
		}
	}
}
