// Package worker implements the shared run loop every worker binary
// (identificator, usbdev, scsi2files, filter, files2tar, tar2files,
// files2fs, fs2dev, uploader, analyzer, cmdexec) uses to speak the
// orchestrator's IPC envelope over its inherited pipe pair. Each worker
// package under pkg/worker/<name> supplies only its Type -> Handler table;
// this package owns the framing loop, the wait-on-startup unlock handshake,
// and End/Error handling common to every one of them.
package worker

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/internal/privileges"
	"github.com/marmos91/usbsas/internal/process"
	"github.com/marmos91/usbsas/pkg/proto"
)

// Handler processes one request envelope, writing whatever response
// envelope(s) it owes the orchestrator directly to out. Most handlers write
// exactly one; files2fs's CloseFile handler writes a variable number of
// Bitvec updates terminated by one with Last set, matching how
// Machine.forwardBitvec drains files2fs's output pipe without a matching
// Send per message. A returned error is reported as a single proto.Error
// envelope by the caller — a handler that errors must not have already
// written anything for this request.
type Handler func(req proto.Envelope, out io.Writer) error

// Options configures one worker's run loop.
type Options struct {
	// WaitOnStartup mirrors process.SpawnOptions.WaitOnStartup: the worker
	// blocks on its very first read until it observes an Unlock envelope,
	// before processing any other message (files2tar, tar2files, fs2dev).
	WaitOnStartup bool
	// OnUnlock is called with the Unlock payload once it arrives, only
	// when WaitOnStartup is set. A non-nil error is logged, not fatal: the
	// worker still proceeds to its normal request loop (teardown may
	// unlock a worker that never received a real destination).
	OnUnlock func(payload []byte) error
}

// Run opens this process's inherited pipe pair (fd 3 request-read, fd 4
// response-write, per process.Spawn) and services requests with handlers
// until an End envelope arrives or the request pipe closes. name is used
// only for logging.
func Run(name string, handlers map[proto.Type]Handler, opts Options) error {
	in, out, err := openPipes()
	if err != nil {
		return fmt.Errorf("worker: %s: %w", name, err)
	}
	defer in.Close()
	defer out.Close()

	// Each worker performs its own narrower privilege drop once its pipe
	// ends are known: no new privileges, and no inherited descriptor
	// other than the pipes and the standard streams survives.
	if err := privileges.Default().Drop([]uintptr{in.Fd(), out.Fd()}); err != nil {
		return fmt.Errorf("worker: %s: drop privileges: %w", name, err)
	}

	return Serve(name, in, out, handlers, opts)
}

// Serve runs the request loop over an explicit pipe pair. Run wraps it with
// the inherited-fd lookup; tests drive workers in-process by wiring in/out
// to os.Pipe ends instead.
func Serve(name string, in io.Reader, out io.Writer, handlers map[proto.Type]Handler, opts Options) error {
	if opts.WaitOnStartup {
		env, err := proto.ReadEnvelope(in)
		if err != nil {
			return fmt.Errorf("worker: %s: read unlock: %w", name, err)
		}
		if env.Type != proto.TypeUnlock {
			return fmt.Errorf("worker: %s: expected unlock, got %s", name, env.Type)
		}
		var u proto.Unlock
		_ = env.Decode(&u)
		if opts.OnUnlock != nil {
			if err := opts.OnUnlock(u.Payload); err != nil {
				logger.Warn("worker unlock handler failed", logger.Worker(name), logger.Err(err))
			}
		}
	}

	for {
		req, err := proto.ReadEnvelope(in)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("worker: %s: read request: %w", name, err)
		}

		if req.Type == proto.TypeEnd {
			resp, _ := proto.NewEnvelope(proto.TypeEndResp, proto.EndResp{})
			_ = proto.WriteEnvelope(out, resp)
			return nil
		}

		h, ok := handlers[req.Type]
		if !ok {
			writeErr(out, fmt.Sprintf("%s: unhandled message type %s", name, req.Type))
			continue
		}

		if err := h(req, out); err != nil {
			writeErr(out, err.Error())
		}
	}
}

// Respond is a convenience for the common case of a handler that writes
// exactly one response envelope.
func Respond(out io.Writer, t proto.Type, body any) error {
	env, err := proto.NewEnvelope(t, body)
	if err != nil {
		return err
	}
	return proto.WriteEnvelope(out, env)
}

func writeErr(w io.Writer, msg string) {
	env, _ := proto.NewEnvelope(proto.TypeError, proto.Error{Message: msg})
	_ = proto.WriteEnvelope(w, env)
}

// openPipes opens the fds process.Spawn wired via ExtraFiles, identified by
// the USBSAS_INPUT_PIPE_FD/USBSAS_OUTPUT_PIPE_FD environment variables
// rather than hard-coded 3/4, so a worker run outside the orchestrator
// (tests, manual invocation) can still be pointed at an arbitrary fd pair.
func openPipes() (in, out *os.File, err error) {
	inFD, err := envFD(process.InputPipeFDVar)
	if err != nil {
		return nil, nil, err
	}
	outFD, err := envFD(process.OutputPipeFDVar)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(inFD, "in"), os.NewFile(outFD, "out"), nil
}

func envFD(name string) (uintptr, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, fmt.Errorf("worker: missing %s", name)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("worker: invalid %s=%q: %w", name, v, err)
	}
	return uintptr(n), nil
}
