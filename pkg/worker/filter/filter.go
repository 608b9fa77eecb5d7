// Package filter implements the filter worker: rejecting selected paths
// that match a configured glob denylist or whose sniffed MIME type matches
// a configured denylist. The orchestrator submits files and directories as
// two separate FilterPaths batches; the response carries exactly one
// verdict per submitted path, in order.
package filter

import (
	"io"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// Worker answers filter's FilterPaths requests against a root directory
// (the opened source partition) and a configured denylist.
type Worker struct {
	root          string
	denyGlobs     []string
	denyMimeTypes map[string]struct{}
}

// New builds a filter Worker. root is prepended to every path before MIME
// sniffing; cfg supplies the glob/MIME denylists.
func New(root string, cfg config.FilterConfig) *Worker {
	deny := make(map[string]struct{}, len(cfg.DenyMimeTypes))
	for _, m := range cfg.DenyMimeTypes {
		deny[m] = struct{}{}
	}
	return &Worker{root: root, denyGlobs: cfg.DenyGlobs, denyMimeTypes: deny}
}

// Handlers returns filter's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeFilterPaths: w.handleFilterPaths,
	}
}

func (w *Worker) handleFilterPaths(req proto.Envelope, out io.Writer) error {
	var body proto.FilterPaths
	if err := req.Decode(&body); err != nil {
		return err
	}
	results := make([]proto.FilterResult, len(body.Paths))
	for i, p := range body.Paths {
		if w.rejectedByGlob(p) || w.rejectedByMime(p) {
			results[i] = proto.FilterPathBad
		}
	}
	return worker.Respond(out, proto.TypeFilterPathsResp, proto.FilterPathsResp{Results: results})
}

func (w *Worker) rejectedByGlob(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.denyGlobs {
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
	}
	return false
}

func (w *Worker) rejectedByMime(path string) bool {
	if len(w.denyMimeTypes) == 0 {
		return false
	}
	mt, err := mimetype.DetectFile(filepath.Join(w.root, filepath.FromSlash(path)))
	if err != nil {
		// Unreadable (a directory, already gone, permission denied): let a
		// later stage surface the failure rather than dropping it here.
		return false
	}
	for m := mt; m != nil; m = m.Parent() {
		if _, deny := w.denyMimeTypes[m.String()]; deny {
			return true
		}
	}
	return false
}
