package orchestrator_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/usbsas/internal/process"
	"github.com/marmos91/usbsas/internal/progress"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/orchestrator"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
	"github.com/marmos91/usbsas/pkg/worker/analyzer"
	"github.com/marmos91/usbsas/pkg/worker/files2fs"
	"github.com/marmos91/usbsas/pkg/worker/files2tar"
	"github.com/marmos91/usbsas/pkg/worker/filter"
	"github.com/marmos91/usbsas/pkg/worker/fs2dev"
	"github.com/marmos91/usbsas/pkg/worker/identificator"
	"github.com/marmos91/usbsas/pkg/worker/scsi2files"
	"github.com/marmos91/usbsas/pkg/worker/tar2files"
)

// startWorker runs a worker's request loop on an in-process goroutine over
// a real pipe pair, exactly as the spawned binary would over its inherited
// fds, and returns the orchestrator-side Child.
func startWorker(t *testing.T, name string, handlers map[proto.Type]worker.Handler, opts worker.Options) *process.Child {
	t.Helper()
	reqR, reqW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		_ = worker.Serve(name, reqR, respW, handlers, opts)
		reqR.Close()
		respW.Close()
	}()
	return &process.Child{Name: name, ToChild: reqW, FromChild: respR, Locked: opts.WaitOnStartup}
}

// pipelineOptions parameterizes buildPipeline per scenario.
type pipelineOptions struct {
	srcDir      string
	destSize    uint64
	denyGlobs   []string
	analyzerURL string // empty disables the analyzer worker

	// srcHandlers substitutes a synthetic files-protocol worker for
	// scsi2files, for scenarios whose attributes can't come from a real
	// directory (a 5 GB file).
	srcHandlers map[proto.Type]worker.Handler

	// fs2devUnlock observes the raw unlock payload fs2dev receives.
	fs2devUnlock func(payload []byte)
}

type pipeline struct {
	machine *orchestrator.Machine
	tarPath string
	imgPath string
	dstPath string
}

func buildPipeline(t *testing.T, opts pipelineOptions) *pipeline {
	t.Helper()
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "staging.tar")
	imgPath := filepath.Join(dir, "staging.fs")
	dstPath := filepath.Join(dir, "device.bin")

	srcHandlers := opts.srcHandlers
	if srcHandlers == nil {
		srcHandlers = scsi2files.New(opts.srcDir, "fat32").Handlers()
	}

	fsw := fs2dev.New(imgPath, dstPath, opts.destSize)
	fs2devOnUnlock := func(payload []byte) error {
		if opts.fs2devUnlock != nil {
			opts.fs2devUnlock(payload)
		}
		return fsw.OnUnlock(payload)
	}

	children := map[string]*process.Child{
		orchestrator.WorkerIdentificator: startWorker(t, "identificator",
			identificator.NewStatic("tester").Handlers(), worker.Options{}),
		orchestrator.WorkerScsi2files: startWorker(t, "scsi2files",
			srcHandlers, worker.Options{}),
		orchestrator.WorkerFilter: startWorker(t, "filter",
			filter.New(opts.srcDir, config.FilterConfig{DenyGlobs: opts.denyGlobs}).Handlers(), worker.Options{}),
		orchestrator.WorkerFiles2tar: startWorker(t, "files2tar",
			files2tar.New(tarPath).Handlers(), worker.Options{WaitOnStartup: true}),
		orchestrator.WorkerTar2files: startWorker(t, "tar2files",
			tar2files.New(tarPath).Handlers(), worker.Options{WaitOnStartup: true}),
		orchestrator.WorkerFiles2fs: startWorker(t, "files2fs",
			files2fs.New(imgPath).Handlers(), worker.Options{}),
		orchestrator.WorkerFs2dev: startWorker(t, "fs2dev",
			fsw.Handlers(), worker.Options{WaitOnStartup: true, OnUnlock: fs2devOnUnlock}),
	}

	analyzerOn := opts.analyzerURL != ""
	if analyzerOn {
		aw := analyzer.New(config.AnalyzerConfig{Enabled: true, URL: opts.analyzerURL}, tarPath)
		children[orchestrator.WorkerAnalyzer] = startWorker(t, "analyzer", aw.Handlers(), worker.Options{})
	}

	c := orchestrator.NewChildrenWith(children, analyzerOn)
	t.Cleanup(c.EndWaitAll)

	m := orchestrator.NewMachine(c, progress.NewChannel(), analyzerOn)
	return &pipeline{machine: m, tarPath: tarPath, imgPath: imgPath, dstPath: dstPath}
}

func writeSourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func srcUSB() device.USB {
	return device.USB{Busnum: 1, Devnum: 3, Manufacturer: "SanDisk", Description: "Cruzer", Serial: "SRC1"}
}

func usbDest(busnum, devnum uint32, fstype device.FSType) orchestrator.Destination {
	return orchestrator.Destination{
		Kind:   device.KindUSB,
		Device: device.Device{Kind: device.KindUSB, USB: &device.USB{Busnum: busnum, Devnum: devnum, Serial: "DST1"}},
		FSType: fstype,
	}
}

func openPartition(t *testing.T, m *orchestrator.Machine) {
	t.Helper()
	if err := m.OpenDevice(srcUSB()); err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	if err := m.OpenPartition(0); err != nil {
		t.Fatalf("OpenPartition: %v", err)
	}
}

func TestCopyTwoFilesToUSB(t *testing.T) {
	srcDir := writeSourceTree(t, map[string]string{
		"a.txt":     "10 bytes!!",
		"dir/b.txt": "exactly twenty bytes",
	})
	p := buildPipeline(t, pipelineOptions{srcDir: srcDir, destSize: 1 << 20})
	m := p.machine

	openPartition(t, m)
	if err := m.Copy([]string{"/a.txt", "/dir/b.txt"}, usbDest(2, 7, device.FSTypeFAT32)); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if m.State() != orchestrator.StateTransferDone {
		t.Errorf("state = %s", m.State())
	}
	if m.TotalSize() != 30 {
		t.Errorf("TotalSize = %d, want 30", m.TotalSize())
	}
	if len(m.ErrorPaths())+len(m.FilteredPaths())+len(m.DirtyPaths()) != 0 {
		t.Errorf("unexpected rejections: err=%v filtered=%v dirty=%v",
			m.ErrorPaths(), m.FilteredPaths(), m.DirtyPaths())
	}

	dst, err := os.ReadFile(p.dstPath)
	if err != nil {
		t.Fatalf("destination never written: %v", err)
	}
	for _, content := range []string{"10 bytes!!", "exactly twenty bytes"} {
		if !bytes.Contains(dst, []byte(content)) {
			t.Errorf("destination missing %q", content)
		}
	}

	// TransferDone consumes exactly one message: anything but End lands in
	// WaitEnd, which then loops until End.
	resp, err := m.HandleTransferDone(proto.Envelope{Type: proto.TypeDevices})
	if err != nil || resp.Type != proto.TypeError {
		t.Fatalf("HandleTransferDone: %v %v", resp, err)
	}
	if m.State() != orchestrator.StateWaitEnd {
		t.Fatalf("state after bad request = %s", m.State())
	}
	resp, err = m.HandleWaitEnd(proto.Envelope{Type: proto.TypeEnd})
	if err != nil || resp.Type != proto.TypeEndResp {
		t.Fatalf("HandleWaitEnd: %v %v", resp, err)
	}
	if m.State() != orchestrator.StateEnd {
		t.Fatalf("state after End = %s", m.State())
	}
}

func TestCopyFilterRejectsExe(t *testing.T) {
	srcDir := writeSourceTree(t, map[string]string{
		"a.txt": "clean file",
		"b.exe": "MZ\x90\x00",
	})
	p := buildPipeline(t, pipelineOptions{srcDir: srcDir, destSize: 1 << 20, denyGlobs: []string{"*.exe"}})
	m := p.machine

	openPartition(t, m)
	if err := m.Copy([]string{"/a.txt", "/b.exe"}, usbDest(2, 7, device.FSTypeFAT32)); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if got := m.FilteredPaths(); len(got) != 1 || got[0] != "/b.exe" {
		t.Errorf("FilteredPaths = %v, want [/b.exe]", got)
	}
	if len(m.ErrorPaths()) != 0 || len(m.DirtyPaths()) != 0 {
		t.Errorf("err=%v dirty=%v", m.ErrorPaths(), m.DirtyPaths())
	}

	dst, _ := os.ReadFile(p.dstPath)
	if bytes.Contains(dst, []byte("MZ\x90")) {
		t.Error("filtered executable reached the destination")
	}
}

func TestCopyEverythingFilteredIsNothingToCopy(t *testing.T) {
	srcDir := writeSourceTree(t, map[string]string{"b.exe": "MZ"})
	p := buildPipeline(t, pipelineOptions{srcDir: srcDir, destSize: 1 << 20, denyGlobs: []string{"*.exe"}})
	m := p.machine

	openPartition(t, m)
	err := m.Copy([]string{"/b.exe"}, usbDest(2, 7, device.FSTypeFAT32))
	nothing, ok := err.(*orchestrator.NothingToCopyError)
	if !ok {
		t.Fatalf("err = %v, want *NothingToCopyError", err)
	}
	if len(nothing.RejectedFilter) != 1 || nothing.RejectedFilter[0] != "/b.exe" {
		t.Errorf("RejectedFilter = %v", nothing.RejectedFilter)
	}
	if m.State() != orchestrator.StateWaitEnd {
		t.Errorf("state = %s", m.State())
	}
}

func TestCopyNotEnoughSpace(t *testing.T) {
	srcDir := writeSourceTree(t, map[string]string{"a.bin": "thirty bytes of file content.."})
	p := buildPipeline(t, pipelineOptions{srcDir: srcDir, destSize: 20})
	m := p.machine

	openPartition(t, m)
	err := m.Copy([]string{"/a.bin"}, usbDest(2, 7, device.FSTypeFAT32))
	full, ok := err.(*orchestrator.NotEnoughSpaceError)
	if !ok {
		t.Fatalf("err = %v, want *NotEnoughSpaceError", err)
	}
	if full.MaxSize != 20 {
		t.Errorf("MaxSize = %d, want the device size", full.MaxSize)
	}
	if m.State() != orchestrator.StateWaitEnd {
		t.Errorf("state = %s", m.State())
	}
	if _, err := os.Stat(p.dstPath); !os.IsNotExist(err) {
		t.Error("destination written despite the capacity abort")
	}
}

// syntheticSource serves the files protocol from in-memory attributes, for
// file sizes a test can't realistically materialize on disk.
func syntheticSource(attrs map[string]device.Attr, content map[string][]byte) map[proto.Type]worker.Handler {
	respond := worker.Respond
	return map[proto.Type]worker.Handler{
		proto.TypeOpenDevice: func(req proto.Envelope, out io.Writer) error {
			return respond(out, proto.TypeOpenDeviceResp, proto.OpenDeviceResp{BlockSize: 512, DevSize: 16 << 30})
		},
		proto.TypeOpenPartition: func(req proto.Envelope, out io.Writer) error {
			return respond(out, proto.TypeOpenPartitionResp, proto.OpenPartitionResp{FSType: "fat32"})
		},
		proto.TypeGetAttr: func(req proto.Envelope, out io.Writer) error {
			var body proto.GetAttr
			if err := req.Decode(&body); err != nil {
				return err
			}
			a, ok := attrs[body.Path]
			if !ok {
				return fmt.Errorf("no such path %s", body.Path)
			}
			return respond(out, proto.TypeGetAttrResp, proto.GetAttrResp{FType: a.FType, Size: a.Size, Timestamp: a.Timestamp})
		},
		proto.TypeReadFile: func(req proto.Envelope, out io.Writer) error {
			var body proto.ReadFile
			if err := req.Decode(&body); err != nil {
				return err
			}
			data := content[body.Path]
			end := body.Offset + body.Size
			if end > uint64(len(data)) {
				end = uint64(len(data))
			}
			return respond(out, proto.TypeReadFileResp, proto.ReadFileResp{Data: data[body.Offset:end]})
		},
	}
}

// A FAT32 destination caps files at 2^32-1 bytes: the oversized file lands
// on the errors list and the rest of the transfer still completes.
func TestCopyFAT32FileTooLarge(t *testing.T) {
	attrs := map[string]device.Attr{
		"/huge.bin":  {FType: device.FileTypeRegular, Size: 5 << 30},
		"/small.txt": {FType: device.FileTypeRegular, Size: 10},
	}
	content := map[string][]byte{"/small.txt": []byte("small data")}

	p := buildPipeline(t, pipelineOptions{
		destSize:    8 << 30,
		srcDir:      t.TempDir(),
		srcHandlers: syntheticSource(attrs, content),
	})
	m := p.machine

	openPartition(t, m)
	if err := m.Copy([]string{"/huge.bin", "/small.txt"}, usbDest(2, 7, device.FSTypeFAT32)); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if got := m.ErrorPaths(); len(got) != 1 || got[0] != "/huge.bin" {
		t.Fatalf("ErrorPaths = %v, want [/huge.bin]", got)
	}
	dst, err := os.ReadFile(p.dstPath)
	if err != nil {
		t.Fatalf("destination never written: %v", err)
	}
	if !bytes.Contains(dst, []byte("small data")) {
		t.Error("surviving small file missing from destination")
	}
}

// The analyzer flags /b.txt dirty; only /a.txt survives to the destination
// and the dirty path is recorded with its leading slash restored.
func TestCopyAnalyzerDirtyFile(t *testing.T) {
	scanner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{
			"clean": {"a.txt"},
			"dirty": {"b.txt"},
		})
	}))
	t.Cleanup(scanner.Close)

	srcDir := writeSourceTree(t, map[string]string{
		"a.txt": "keep me",
		"b.txt": "quarantine me",
	})
	p := buildPipeline(t, pipelineOptions{srcDir: srcDir, destSize: 1 << 20, analyzerURL: scanner.URL})
	m := p.machine

	openPartition(t, m)
	if err := m.Copy([]string{"/a.txt", "/b.txt"}, usbDest(2, 7, device.FSTypeFAT32)); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if got := m.DirtyPaths(); len(got) != 1 || got[0] != "/b.txt" {
		t.Fatalf("DirtyPaths = %v, want [/b.txt]", got)
	}
	dst, _ := os.ReadFile(p.dstPath)
	if !bytes.Contains(dst, []byte("keep me")) {
		t.Error("clean file missing from destination")
	}
	if bytes.Contains(dst, []byte("quarantine me")) {
		t.Error("dirty file reached the destination")
	}
}

// Quick wipe of (busnum=2, devnum=7): fs2dev is unlocked with the
// little-endian payload 0x0000000700000002, no secure overwrite runs, and
// an empty filesystem is built and copied.
func TestQuickWipeUnlockPayload(t *testing.T) {
	var captured []byte
	p := buildPipeline(t, pipelineOptions{
		srcDir:       t.TempDir(),
		destSize:     1 << 20,
		fs2devUnlock: func(payload []byte) { captured = append([]byte(nil), payload...) },
	})
	m := p.machine

	if err := m.Wipe(2, 7, device.FSTypeFAT32, true); err != nil {
		t.Fatalf("Wipe: %v", err)
	}

	want := []byte{0x02, 0, 0, 0, 0x07, 0, 0, 0}
	if !bytes.Equal(captured, want) {
		t.Fatalf("unlock payload = %x, want %x", captured, want)
	}
	if m.State() != orchestrator.StateWaitEnd {
		t.Errorf("state = %s", m.State())
	}
	if _, err := os.Stat(p.dstPath); err != nil {
		t.Error("formatted filesystem never copied to the device")
	}
}

func TestCopyRejectedOutsidePartitionOpened(t *testing.T) {
	p := buildPipeline(t, pipelineOptions{srcDir: t.TempDir(), destSize: 1 << 20})
	if err := p.machine.Copy([]string{"/a"}, usbDest(2, 7, device.FSTypeFAT32)); err == nil {
		t.Fatal("Copy accepted in Init")
	}
}
