package session

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/marmos91/usbsas/pkg/auth"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/device"
)

func sessionWithAuthenticator(t *testing.T) *Session {
	t.Helper()
	a, err := auth.NewPathTokenAuthenticator()
	if err != nil {
		t.Fatal(err)
	}
	return &Session{authenticator: a}
}

func TestVerifyTokensSortsLexicographically(t *testing.T) {
	s := sessionWithAuthenticator(t)
	tokens := []string{
		s.authenticator.Authenticate("/z/last.txt"),
		s.authenticator.Authenticate("/a/first.txt"),
		s.authenticator.Authenticate("/m/middle.txt"),
	}
	paths, err := s.verifyTokens(tokens)
	if err != nil {
		t.Fatalf("verifyTokens: %v", err)
	}
	want := []string{"/a/first.txt", "/m/middle.txt", "/z/last.txt"}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestVerifyTokensRejectsForgedToken(t *testing.T) {
	s := sessionWithAuthenticator(t)
	other := sessionWithAuthenticator(t)
	tokens := []string{
		s.authenticator.Authenticate("/fine"),
		other.authenticator.Authenticate("/forged"),
	}
	if _, err := s.verifyTokens(tokens); err == nil {
		t.Fatal("token from another session's key accepted")
	}
}

func TestRenameImageArtifactNaming(t *testing.T) {
	dir := t.TempDir()
	fsPath := filepath.Join(dir, "staging.fs")
	if err := os.WriteFile(fsPath, []byte("raw image"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Session{
		cfg:    &config.Config{OutDirectory: dir},
		fsPath: fsPath,
	}
	src := device.USB{Serial: "08606E6D", VendorID: 0x0951, ProductID: 0x1666}
	at := time.Date(2026, 8, 1, 13, 37, 42, 0, time.UTC)

	dst, err := s.renameImageArtifact(src, at)
	if err != nil {
		t.Fatalf("renameImageArtifact: %v", err)
	}
	want := filepath.Join(dir, "imgdisk_20260801133742_08606E6D_0951_1666.bin")
	if dst != want {
		t.Fatalf("dst = %q, want %q", dst, want)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if _, err := os.Stat(fsPath); !os.IsNotExist(err) {
		t.Fatal("staging fs file still present after rename")
	}
}

func TestWithSessionArgsRoutesStagingPaths(t *testing.T) {
	base := func(name string) (string, []string) {
		return "/opt/usbsas/usbsas-" + name, []string{"--config=/etc/usbsas.yaml"}
	}
	resolve := withSessionArgs(base, "/tmp/s.tar", "/tmp/s.fs")

	_, args := resolve("files2tar")
	if args[len(args)-1] != "--archive=/tmp/s.tar" {
		t.Errorf("files2tar args = %v", args)
	}
	_, args = resolve("fs2dev")
	if args[len(args)-1] != "--fs=/tmp/s.fs" {
		t.Errorf("fs2dev args = %v", args)
	}
	_, args = resolve("usbdev")
	if len(args) != 1 {
		t.Errorf("usbdev should get no staging flag: %v", args)
	}
}
