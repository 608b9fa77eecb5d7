// Package cmdexec implements the cmdexec worker: invoking a configured
// external command against the staged archive, for the Cmd destination
// branch of UploadOrCmd (Exec) and for the optional post-copy command run
// after a completed transfer (PostCopyExec).
package cmdexec

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// archiveToken is substituted with the staged archive's path in configured
// argument lists.
const archiveToken = "{{archive}}"

// Worker answers cmdexec's Exec/PostCopyExec requests by running the
// configured command and post-copy command against archivePath.
type Worker struct {
	cmd         config.CommandConfig
	postCopy    config.PostCopyConfig
	archivePath string
}

// New builds a cmdexec Worker.
func New(cmd config.CommandConfig, postCopy config.PostCopyConfig, archivePath string) *Worker {
	return &Worker{cmd: cmd, postCopy: postCopy, archivePath: archivePath}
}

// Handlers returns cmdexec's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeExec:         w.handleExec,
		proto.TypePostCopyExec: w.handlePostCopyExec,
	}
}

func (w *Worker) handleExec(req proto.Envelope, out io.Writer) error {
	if !w.cmd.Enabled || w.cmd.Binary == "" {
		return fmt.Errorf("cmdexec: no command destination configured")
	}
	if err := w.run(w.cmd.Binary, w.cmd.Args, w.cmd.Timeout); err != nil {
		return err
	}
	return worker.Respond(out, proto.TypeExecResp, proto.ExecResp{})
}

func (w *Worker) handlePostCopyExec(req proto.Envelope, out io.Writer) error {
	var body proto.PostCopyExec
	if err := req.Decode(&body); err != nil {
		return err
	}
	if !w.postCopy.Enabled || w.postCopy.Binary == "" {
		return fmt.Errorf("cmdexec: no post-copy command configured")
	}
	if err := w.run(w.postCopy.Binary, w.postCopy.Args, 0); err != nil {
		return err
	}
	return worker.Respond(out, proto.TypePostCopyExecResp, proto.PostCopyExecResp{})
}

func (w *Worker) run(binary string, args []string, timeout time.Duration) error {
	expanded := make([]string, len(args))
	for i, a := range args {
		if a == archiveToken {
			a = w.archivePath
		}
		expanded[i] = a
	}

	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, expanded...)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("cmdexec: %s exited %d", binary, exitErr.ExitCode())
		}
		return fmt.Errorf("cmdexec: run %s: %w", binary, err)
	}
	return nil
}
