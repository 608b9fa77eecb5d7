// Package orchestrator implements the per-session orchestrator process: the
// state machine driving one USB transfer through its worker pipeline, and
// the bookkeeping for spawning, unlocking, and tearing down that pipeline's
// child processes.
package orchestrator

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/internal/metrics"
	"github.com/marmos91/usbsas/internal/privileges"
	"github.com/marmos91/usbsas/internal/process"
	"github.com/marmos91/usbsas/pkg/proto"
)

// Worker names, used as map keys and in logging.
const (
	WorkerIdentificator = "identificator"
	WorkerUsbdev        = "usbdev"
	WorkerScsi2files    = "scsi2files"
	WorkerFilter        = "filter"
	WorkerFiles2tar     = "files2tar"
	WorkerTar2files     = "tar2files"
	WorkerFiles2fs      = "files2fs"
	WorkerFs2dev        = "fs2dev"
	WorkerUploader      = "uploader"
	WorkerAnalyzer      = "analyzer"
	WorkerCmdexec       = "cmdexec"
)

// spawnOrder is the fixed sequence workers are spawned in. analyzer is
// appended conditionally, only when analysis is enabled, and is always
// last.
var spawnOrder = []string{
	WorkerIdentificator,
	WorkerCmdexec,
	WorkerUsbdev,
	WorkerScsi2files,
	WorkerFiles2tar,
	WorkerFiles2fs,
	WorkerFilter,
	WorkerFs2dev,
	WorkerTar2files,
	WorkerUploader,
}

// waitOnStartup names the three workers that start locked and must be
// unlocked before they'll process a request.
var waitOnStartup = map[string]bool{
	WorkerFiles2tar: true,
	WorkerFs2dev:    true,
	WorkerTar2files: true,
}

// teardownOrder is the exact sequence end_all()/wait_all() use. Workers
// still Locked are unlocked immediately before their End is sent.
var teardownOrder = []string{
	WorkerAnalyzer,
	WorkerIdentificator,
	WorkerCmdexec,
	WorkerFiles2fs,
	WorkerFiles2tar,
	WorkerFilter,
	WorkerFs2dev,
	WorkerScsi2files,
	WorkerTar2files,
	WorkerUploader,
	WorkerUsbdev,
}

// BinaryResolver maps a worker name to the path of its executable, so tests
// can substitute fakes without touching $PATH.
type BinaryResolver func(worker string) (path string, args []string)

// Children owns the spawned worker processes for one session and implements
// the fixed spawn/unlock/teardown ordering the pipeline depends on.
type Children struct {
	byName       map[string]*process.Child
	analyzerOn   bool
	envAllowlist []string
	resolve      BinaryResolver
	dropper      privileges.Dropper
}

// NewChildren spawns every worker in the fixed order, optionally including
// analyzer, then calls the privilege-drop hook exactly once with the full
// accumulated FD allowlist. No worker may be spawned after this returns.
func NewChildren(resolve BinaryResolver, envAllowlist []string, analyzerEnabled bool, dropper privileges.Dropper) (*Children, error) {
	if dropper == nil {
		dropper = privileges.NoopDropper{}
	}
	c := &Children{
		byName:       make(map[string]*process.Child),
		analyzerOn:   analyzerEnabled,
		envAllowlist: envAllowlist,
		resolve:      resolve,
		dropper:      dropper,
	}

	order := spawnOrder
	if analyzerEnabled {
		order = append(append([]string(nil), spawnOrder...), WorkerAnalyzer)
	}

	var allowedFDs []uintptr
	for _, name := range order {
		path, args := resolve(name)
		child, err := process.Spawn(process.SpawnOptions{
			Name:          name,
			Path:          path,
			Args:          args,
			EnvAllowlist:  envAllowlist,
			WaitOnStartup: waitOnStartup[name],
		})
		if err != nil {
			c.endAllBestEffort()
			return nil, fmt.Errorf("orchestrator: spawn %s: %w", name, err)
		}
		c.byName[name] = child
		allowedFDs = append(allowedFDs, child.FDs()...)
		logger.Info("spawned worker", logger.Worker(name), logger.PID(child.Cmd.Process.Pid))
		metrics.SetWorkerLocked(name, child.Locked)
	}

	if err := dropper.Drop(allowedFDs); err != nil {
		c.endAllBestEffort()
		return nil, fmt.Errorf("orchestrator: drop privileges: %w", err)
	}

	return c, nil
}

// NewChildrenWith wraps an already-connected child set, bypassing the spawn
// sequence. Used by tests that service the worker side of each pipe with
// in-process goroutines instead of real child processes; the teardown
// ordering and unlock bookkeeping behave exactly as for spawned children.
func NewChildrenWith(byName map[string]*process.Child, analyzerEnabled bool) *Children {
	return &Children{byName: byName, analyzerOn: analyzerEnabled}
}

// Get returns the named child, or nil if it wasn't spawned (only possible
// for analyzer when analysis is disabled).
func (c *Children) Get(name string) *process.Child {
	return c.byName[name]
}

// Send writes env to the named worker's request pipe.
func (c *Children) Send(name string, env proto.Envelope) error {
	child := c.Get(name)
	if child == nil {
		return fmt.Errorf("orchestrator: worker %s not spawned", name)
	}
	return proto.WriteEnvelope(child.ToChild, env)
}

// Recv reads one envelope from the named worker's response pipe.
func (c *Children) Recv(name string) (proto.Envelope, error) {
	child := c.Get(name)
	if child == nil {
		return proto.Envelope{}, fmt.Errorf("orchestrator: worker %s not spawned", name)
	}
	return proto.ReadEnvelope(child.FromChild)
}

// zeroUnlockPayload returns the fixed zero-value unlock payload for a locked
// worker: 1 byte for files2tar/tar2files, 8 bytes for fs2dev. For
// files2tar/tar2files a zero byte means "proceed"; for fs2dev an all-zero
// 8-byte payload means "no destination, exit" — the correct payload during
// teardown of a worker that never got a real destination.
func zeroUnlockPayload(name string) []byte {
	switch name {
	case WorkerFs2dev:
		return make([]byte, 8)
	default:
		return make([]byte, 1)
	}
}

// fs2devUnlockPayload encodes the 8-byte little-endian unlock payload
// (devnum<<32)|busnum that tells fs2dev which USB destination device to
// open.
func fs2devUnlockPayload(busnum, devnum uint32) []byte {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, (uint64(devnum)<<32)|uint64(busnum))
	return payload
}

// unlock sends the zero-value unlock payload to a locked worker, clearing
// its Locked flag. Safe to call on a worker that is not locked (no-op). Used
// for files2tar/tar2files (always "proceed") and for fs2dev when there is no
// USB destination (Net/Cmd destinations, or teardown of an unused fs2dev).
func (c *Children) unlock(name string) error {
	return c.unlockPayload(name, zeroUnlockPayload(name))
}

// unlockFs2devForDestination unlocks fs2dev with the bus/dev payload
// identifying the destination USB device to open.
func (c *Children) unlockFs2devForDestination(busnum, devnum uint32) error {
	return c.unlockPayload(WorkerFs2dev, fs2devUnlockPayload(busnum, devnum))
}

// unlockTar2files unlocks tar2files with its 1-byte payload: 1 when the
// transfer's destination is USB (tar2files feeds files2fs), 0 otherwise (Net/Cmd destinations never read the staging tar
// back through tar2files, but the worker still needs to be released so it
// can exit cleanly at teardown).
func (c *Children) unlockTar2files(usbDestination bool) error {
	payload := []byte{0}
	if usbDestination {
		payload[0] = 1
	}
	return c.unlockPayload(WorkerTar2files, payload)
}

func (c *Children) unlockPayload(name string, payload []byte) error {
	child := c.Get(name)
	if child == nil || !child.Locked {
		return nil
	}
	env, err := proto.NewEnvelope(proto.TypeUnlock, proto.Unlock{Payload: payload})
	if err != nil {
		return err
	}
	if err := proto.WriteEnvelope(child.ToChild, env); err != nil {
		return err
	}
	child.Locked = false
	metrics.SetWorkerLocked(name, false)
	return nil
}

// EndAll sends End to every spawned worker in teardownOrder, unlocking any
// still-locked worker immediately beforehand. Errors are logged and never
// escalated: one worker's teardown failure never blocks or fails the
// rest.
func (c *Children) EndAll() {
	c.endAllBestEffort()
}

func (c *Children) endAllBestEffort() {
	endEnv, _ := proto.NewEnvelope(proto.TypeEnd, proto.End{})
	for _, name := range teardownOrder {
		child := c.Get(name)
		if child == nil {
			continue
		}
		if child.Locked {
			if err := c.unlock(name); err != nil {
				logger.Warn("failed to unlock worker before teardown", logger.Worker(name), logger.Err(err))
			}
		}
		if err := proto.WriteEnvelope(child.ToChild, endEnv); err != nil {
			logger.Warn("failed to send End to worker", logger.Worker(name), logger.Err(err))
		}
	}
}

// WaitAll waits for every spawned worker to exit, in the same fixed order
// as EndAll. A worker's wait error is logged, never escalated.
func (c *Children) WaitAll() {
	for _, name := range teardownOrder {
		child := c.Get(name)
		if child == nil {
			continue
		}
		if err := child.Wait(); err != nil {
			logger.Warn("worker exited with error", logger.Worker(name), logger.Err(err))
		}
		child.Close()
	}
}

// EndWaitAll is the convenience teardown entry point used when a session
// ends for any reason (including mid-transfer errors).
func (c *Children) EndWaitAll() {
	c.EndAll()
	c.WaitAll()
}
