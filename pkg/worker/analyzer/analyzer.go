// Package analyzer implements the analyzer worker: submitting the staged
// archive to an external antivirus scanner over HTTP, reporting
// UploadStatus progress while the archive uploads, and relaying the
// scanner's clean/dirty verdict. The scanner itself is an external
// collaborator; this worker speaks a narrow multipart-upload/JSON-response
// contract against the configured URL.
package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// verdict is the scanner's JSON response shape: clean/dirty paths carry no
// leading '/', matching the asymmetry the orchestrator preserves.
type verdict struct {
	Clean []string `json:"clean"`
	Dirty []string `json:"dirty"`
}

// Worker answers analyzer's Analyze request by POSTing the archive at
// archivePath to cfg.URL.
type Worker struct {
	cfg         config.AnalyzerConfig
	archivePath string
	client      *http.Client
}

// New builds an analyzer Worker against cfg.
func New(cfg config.AnalyzerConfig, archivePath string) *Worker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Worker{cfg: cfg, archivePath: archivePath, client: &http.Client{Timeout: timeout}}
}

// Handlers returns analyzer's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeAnalyze: w.handleAnalyze,
	}
}

func (w *Worker) handleAnalyze(req proto.Envelope, out io.Writer) error {
	var body proto.Analyze
	if err := req.Decode(&body); err != nil {
		return err
	}

	f, err := os.Open(w.archivePath)
	if err != nil {
		return fmt.Errorf("analyzer: open archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("analyzer: stat archive: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("id", body.ID); err != nil {
		return fmt.Errorf("analyzer: write id field: %w", err)
	}
	part, err := mw.CreateFormFile("archive", filepath.Base(w.archivePath))
	if err != nil {
		return fmt.Errorf("analyzer: build multipart body: %w", err)
	}

	total := uint64(info.Size())
	var sent, sinceStatus uint64
	chunk := make([]byte, 1<<20)
	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			if _, werr := part.Write(chunk[:n]); werr != nil {
				return fmt.Errorf("analyzer: write multipart body: %w", werr)
			}
			sent += uint64(n)
			sinceStatus += uint64(n)
			if sinceStatus >= 1<<20 {
				sinceStatus = 0
				_ = worker.Respond(out, proto.TypeUploadStatus, proto.UploadStatus{
					CurrentSize: sent,
					TotalSize:   total,
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("analyzer: read archive: %w", rerr)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("analyzer: close multipart body: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, w.cfg.URL, &buf)
	if err != nil {
		return fmt.Errorf("analyzer: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("analyzer: submit archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analyzer: scanner returned %s", resp.Status)
	}

	var v verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return fmt.Errorf("analyzer: decode verdict: %w", err)
	}

	return worker.Respond(out, proto.TypeAnalyzeResp, proto.AnalyzeResp{Clean: v.Clean, Dirty: v.Dirty})
}
