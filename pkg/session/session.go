// Package session implements the front-end session controller: the
// long-lived half of the transfer pipeline. A Session owns
// one orchestrator Machine and its worker Children, an exclusive mutex
// serializing every request onto that single IPC handle, the per-session
// HMAC path-token authenticator, and the temp file pair a transfer stages
// into. Rather than spawning a second orchestrator process and talking to
// it over another pipe pair, the Machine/Children types run in this same
// process; every worker is still a separate least-privileged child.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/internal/metrics"
	"github.com/marmos91/usbsas/internal/privileges"
	"github.com/marmos91/usbsas/internal/progress"
	"github.com/marmos91/usbsas/internal/tokencache"
	"github.com/marmos91/usbsas/pkg/audit"
	"github.com/marmos91/usbsas/pkg/auth"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/device"
	"github.com/marmos91/usbsas/pkg/orchestrator"
)

// ErrOutputCannotMatchInput is returned by SelectDevice when the source and
// destination fingerprints are equal.
var ErrOutputCannotMatchInput = fmt.Errorf("session: output cannot be the same as input")

// Session is one front-end pipeline: configuration snapshot, orchestrator
// handle, current destination, path HMAC key, staging files. Exactly one
// Copy/Wipe/ImageDisk may run at a time per Session (enforced by mu); a
// Session itself is single-tenant: one pipeline, serial requests.
type Session struct {
	mu sync.Mutex

	id  string
	cfg *config.Config

	children *orchestrator.Children
	machine  *orchestrator.Machine

	authenticator *auth.PathTokenAuthenticator

	tarPath string
	fsPath  string

	// devices caches the most recent ListDevices result plus the
	// configured Net/Cmd targets, keyed by fingerprint, so device_select
	// can resolve the fingerprints a client hands back without a second
	// round trip to usbdev.
	devices map[device.Fingerprint]device.Device

	srcDevice device.Device
	dstDevice device.Device
	hasSrc    bool
	hasDst    bool

	createdAt time.Time

	resolve orchestrator.BinaryResolver
	dropper privileges.Dropper

	// cache is the Manager-owned, process-wide token/fingerprint cache
	// (internal/tokencache). nil when TokenCache.Dir is unconfigured, in
	// which case every cache operation below is a no-op.
	cache *tokencache.Cache

	// audit is the Manager-owned audit trail store (pkg/audit). Never nil;
	// Manager always opens one (SQLite by default).
	audit *audit.Store
}

// New spawns a fresh worker pipeline and returns a ready Session. resolve
// maps each worker name to its binary path; dropper performs the one-shot
// privilege drop after every worker is spawned (nil uses
// privileges.NoopDropper). cache may be nil; store may be nil (audit
// recording becomes a no-op).
func New(cfg *config.Config, resolve orchestrator.BinaryResolver, dropper privileges.Dropper, cache *tokencache.Cache, store *audit.Store) (*Session, error) {
	id := uuid.NewString()

	tarPath := filepath.Join(cfg.OutDirectory, id+".tar")
	fsPath := filepath.Join(cfg.OutDirectory, id+".fs")

	children, err := orchestrator.NewChildren(withSessionArgs(resolve, tarPath, fsPath), cfg.EnvVars, cfg.Analyzer.Enabled, dropper)
	if err != nil {
		return nil, fmt.Errorf("session: spawn workers: %w", err)
	}

	authenticator, err := auth.NewPathTokenAuthenticator()
	if err != nil {
		children.EndWaitAll()
		return nil, fmt.Errorf("session: create path authenticator: %w", err)
	}

	s := &Session{
		id:            id,
		cfg:           cfg,
		children:      children,
		machine:       orchestrator.NewMachine(children, progress.NewChannel(), cfg.Analyzer.Enabled),
		authenticator: authenticator,
		tarPath:       tarPath,
		fsPath:        fsPath,
		createdAt:     time.Now(),
		resolve:       resolve,
		dropper:       dropper,
		cache:         cache,
		audit:         store,
	}
	logger.Info("session created", logger.SessionID(id))
	return s, nil
}

// ID returns the session's identifier, used for audit records and the admin
// session-listing surface.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session's worker pipeline was spawned.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// ListDevices returns every USB device reported by the orchestrator plus
// the configured network/command destinations, if any, each decorated with
// its fingerprint and display fields. Busnum/devnum never leave this
// function: device.Describe deliberately omits them from the wire shape.
func (s *Session) ListDevices() ([]device.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usbDevs, err := s.machine.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("session: list devices: %w", err)
	}

	devices := make(map[device.Fingerprint]device.Device, len(usbDevs)+2)
	var out []device.Descriptor
	for i := range usbDevs {
		u := usbDevs[i]
		d := device.Device{Kind: device.KindUSB, USB: &u}
		devices[d.Fingerprint()] = d
		desc := device.Describe(d)
		out = append(out, desc)
		s.cacheFingerprint(desc)
	}

	if s.cfg.Network.Enabled {
		d := device.Device{Kind: device.KindNet, Net: &device.Net{
			Description:     s.cfg.Network.Description,
			LongDescription: s.cfg.Network.LongDescription,
			URL:             s.cfg.Network.Endpoint,
		}}
		devices[d.Fingerprint()] = d
		out = append(out, device.Describe(d))
	}

	if s.cfg.Command.Enabled {
		d := device.Device{Kind: device.KindCmd, Cmd: &device.Cmd{
			Description:     s.cfg.Command.Description,
			LongDescription: s.cfg.Command.LongDescription,
			Binary:          s.cfg.Command.Binary,
			Args:            s.cfg.Command.Args,
		}}
		devices[d.Fingerprint()] = d
		out = append(out, device.Describe(d))
	}

	s.devices = devices
	return out, nil
}

// SelectDevice resolves srcFingerprint/dstFingerprint against the most
// recent ListDevices result, rejects identical fingerprints, requires the
// source to be a USB device, and opens it via the orchestrator's
// OpenDevice.
func (s *Session) SelectDevice(srcFingerprint, dstFingerprint device.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if srcFingerprint == dstFingerprint {
		return ErrOutputCannotMatchInput
	}
	src, ok := s.devices[srcFingerprint]
	if !ok {
		return fmt.Errorf("session: unknown source device %s", srcFingerprint)
	}
	dst, ok := s.devices[dstFingerprint]
	if !ok {
		return fmt.Errorf("session: unknown destination device %s", dstFingerprint)
	}
	if src.Kind != device.KindUSB {
		return fmt.Errorf("session: source device must be USB")
	}

	if err := s.machine.OpenDevice(*src.USB); err != nil {
		return fmt.Errorf("session: open device: %w", err)
	}

	s.srcDevice, s.hasSrc = src, true
	s.dstDevice, s.hasDst = dst, true
	return nil
}

// Partitions passes through to the orchestrator's Partitions self-loop.
func (s *Session) Partitions() ([]device.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Partitions()
}

// OpenPartition passes through to the orchestrator's OpenPartition.
func (s *Session) OpenPartition(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.OpenPartition(index)
}

// TokenizedEntry is one directory entry whose path has been re-minted as an
// authenticated token bound to this session.
type TokenizedEntry struct {
	Token     string          `json:"token"`
	FType     device.FileType `json:"ftype"`
	Size      uint64          `json:"size"`
	Timestamp int64           `json:"timestamp"`
}

// ReadDir decodes and verifies parentToken (empty means root), issues
// ReadDir to the orchestrator, and re-mints every returned path as an
// authenticated token.
func (s *Session) ReadDir(parentToken string) ([]TokenizedEntry, error) {
	path := ""
	if parentToken != "" {
		p, err := s.authenticator.Verify(parentToken)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		path = p
	}

	s.mu.Lock()
	entries, err := s.machine.ReadDir(path)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("session: read dir: %w", err)
	}

	out := make([]TokenizedEntry, 0, len(entries))
	for _, e := range entries {
		token := s.authenticator.Authenticate(e.Path)
		s.recordToken(token)
		out = append(out, TokenizedEntry{
			Token:     token,
			FType:     e.FType,
			Size:      e.Size,
			Timestamp: e.Timestamp,
		})
	}
	return out, nil
}

// cacheFingerprint records desc in the process-wide tokencache, if
// configured, so a later front-end restart can answer list_devices for a
// device already fingerprinted in a previous run without waiting on usbdev.
// A cache-write failure is logged and otherwise ignored: the cache is a
// performance aid, never load-bearing for correctness.
func (s *Session) cacheFingerprint(desc device.Descriptor) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheFingerprint(desc); err != nil {
		logger.Warn("tokencache: cache fingerprint failed", logger.Err(err), logger.SessionID(s.id))
	}
}

// recordToken records an issued path-token tag for replay-window
// bookkeeping, if a tokencache is configured. The tag is the token string
// itself (already scoped to this session's HMAC key, so it can never
// collide with another session's tags).
func (s *Session) recordToken(token string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.RecordToken(token, s.cfg.TokenCache.TokenTTL); err != nil {
		logger.Warn("tokencache: record token failed", logger.Err(err), logger.SessionID(s.id))
	}
}

// recordAudit inserts one completed operation's audit record, if an audit
// store is configured. An insert failure is logged and otherwise ignored:
// the audit trail is a supplementary record, never load-bearing for the
// transfer it describes.
func (s *Session) recordAudit(rec audit.Record) {
	if s.audit == nil {
		return
	}
	rec.SessionID = s.id
	if err := s.audit.Insert(context.Background(), rec); err != nil {
		logger.Warn("audit: insert record failed", logger.Err(err), logger.SessionID(s.id))
	}
}

// verifyTokens decodes and verifies every token in tokens, returning the
// raw paths in the same order, sorted lexicographically for deterministic
// ordering.
func (s *Session) verifyTokens(tokens []string) ([]string, error) {
	paths := make([]string, 0, len(tokens))
	for _, t := range tokens {
		p, err := s.authenticator.Verify(t)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		paths = append(paths, p)
	}
	sortStrings(paths)
	return paths, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Copy verifies every token, resolves the chosen destination (set by
// SelectDevice), and runs the CopyFiles algorithm on a background
// goroutine, returning the progress channel the caller streams to the
// client. fsFormat selects the filesystem files2fs builds when dst is a USB
// device; it is ignored otherwise. *orchestrator.NotEnoughSpaceError and
// *orchestrator.NothingToCopyError are structural-but-expected outcomes and
// are translated into their structured stream statuses rather than a
// fatal_error; any other error is treated as a transport/worker failure and
// reported as fatal_error.
func (s *Session) Copy(tokens []string, fsFormat device.FSType) (*progress.Channel, error) {
	s.mu.Lock()
	if !s.hasDst {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: no destination selected")
	}
	dst := s.dstDevice
	s.mu.Unlock()

	roots, err := s.verifyTokens(tokens)
	if err != nil {
		return nil, err
	}

	ch := s.machine.Progress()
	start := time.Now()
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		dest := orchestrator.Destination{Kind: dst.Kind, Device: dst, FSType: fsFormat}
		err := s.machine.Copy(roots, dest)
		outcome := "done"
		errMsg := ""
		switch e := err.(type) {
		case nil:
			ch.PushFinalReport(s.machine.ErrorPaths(), s.machine.FilteredPaths(), s.machine.DirtyPaths())
			s.runPostCopyCmd()
		case *orchestrator.NotEnoughSpaceError:
			outcome = "not_enough_space"
			ch.PushNotEnoughSpace(e.MaxSize)
		case *orchestrator.NothingToCopyError:
			outcome = "nothing_to_copy"
			ch.PushNothingToCopy(e.RejectedFilter, e.RejectedDirty)
		default:
			outcome = "error"
			errMsg = err.Error()
			logger.Warn("copy failed", logger.SessionID(s.id), logger.Err(err))
			ch.PushFatalError(err.Error())
		}
		finished := time.Now()
		metrics.ObserveDuration("copy", finished.Sub(start).Seconds())
		metrics.RecordTransfer(string(dst.Kind), outcome, s.machine.TotalSize(), len(roots))
		var srcFP device.Fingerprint
		if s.hasSrc {
			srcFP = s.srcDevice.Fingerprint()
		}
		s.recordAudit(audit.Record{
			Operation:         audit.OperationCopy,
			SourceFingerprint: string(srcFP),
			DestFingerprint:   string(dst.Fingerprint()),
			Destination:       string(dst.Kind),
			Outcome:           outcome,
			ErrorMessage:      errMsg,
			BytesTransferred:  s.machine.TotalSize(),
			FileCount:         len(roots),
			StartedAt:         start,
			FinishedAt:        finished,
		})
		ch.Close()
	}()
	return ch, nil
}

// Wipe initiates the Init -> Wipe branch for the device identified by
// fingerprint, which must already be known from a prior ListDevices call.
// fsFormat names the empty filesystem rebuilt on the device after the
// overwrite pass.
func (s *Session) Wipe(fingerprint device.Fingerprint, fsFormat device.FSType, quick bool) (*progress.Channel, error) {
	s.mu.Lock()
	d, ok := s.devices[fingerprint]
	s.mu.Unlock()
	if !ok || d.Kind != device.KindUSB {
		return nil, fmt.Errorf("session: unknown USB device %s", fingerprint)
	}

	ch := s.machine.Progress()
	start := time.Now()
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		outcome, errMsg := "done", ""
		if err := s.machine.Wipe(d.USB.Busnum, d.USB.Devnum, fsFormat, quick); err != nil {
			outcome, errMsg = "error", err.Error()
			logger.Warn("wipe failed", logger.SessionID(s.id), logger.Err(err))
			ch.PushFatalError(err.Error())
		}
		finished := time.Now()
		metrics.ObserveDuration("wipe", finished.Sub(start).Seconds())
		s.recordAudit(audit.Record{
			Operation:       audit.OperationWipe,
			DestFingerprint: string(d.Fingerprint()),
			Destination:     string(device.KindUSB),
			Outcome:         outcome,
			ErrorMessage:    errMsg,
			StartedAt:       start,
			FinishedAt:      finished,
		})
		ch.Close()
	}()
	return ch, nil
}

// ImageDisk initiates the Init -> ImgDisk branch for the device identified
// by fingerprint. On completion the staging fs file is renamed to its
// retained imgdisk_<timestamp>_<serial>_<vid>_<pid>.bin name.
func (s *Session) ImageDisk(fingerprint device.Fingerprint) (*progress.Channel, error) {
	s.mu.Lock()
	d, ok := s.devices[fingerprint]
	s.mu.Unlock()
	if !ok || d.Kind != device.KindUSB {
		return nil, fmt.Errorf("session: unknown USB device %s", fingerprint)
	}

	ch := s.machine.Progress()
	start := time.Now()
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		outcome, errMsg := "done", ""
		if err := s.machine.ImgDisk(*d.USB); err != nil {
			outcome, errMsg = "error", err.Error()
			logger.Warn("imgdisk failed", logger.SessionID(s.id), logger.Err(err))
			ch.PushFatalError(err.Error())
		} else if dst, err := s.renameImageArtifact(*d.USB, time.Now()); err != nil {
			outcome, errMsg = "error", err.Error()
			logger.Warn("imgdisk artifact rename failed", logger.SessionID(s.id), logger.Err(err))
			ch.PushFatalError(err.Error())
		} else {
			logger.Info("imgdisk artifact retained", logger.SessionID(s.id), logger.Path(dst))
		}
		finished := time.Now()
		metrics.ObserveDuration("imgdisk", finished.Sub(start).Seconds())
		s.recordAudit(audit.Record{
			Operation:        audit.OperationImgDisk,
			DestFingerprint:  string(d.Fingerprint()),
			Destination:      string(device.KindUSB),
			Outcome:          outcome,
			ErrorMessage:     errMsg,
			BytesTransferred: d.USB.DevSize,
			StartedAt:        start,
			FinishedAt:       finished,
		})
		ch.Close()
	}()
	return ch, nil
}

// renameImageArtifact moves the staging fs file to its retained imgdisk
// name. Called with mu held by the
// ImageDisk goroutine.
func (s *Session) renameImageArtifact(src device.USB, at time.Time) (string, error) {
	name := fmt.Sprintf("imgdisk_%s_%s_%04x_%04x.bin",
		at.Format("20060102150405"), src.Serial, src.VendorID, src.ProductID)
	dst := filepath.Join(s.cfg.OutDirectory, name)
	if err := os.Rename(s.fsPath, dst); err != nil {
		return "", fmt.Errorf("session: rename imgdisk artifact: %w", err)
	}
	return dst, nil
}

// runPostCopyCmd triggers the configured post-copy command after a
// successful transfer (TransferDone -> PostCopyCmd -> WaitEnd). A failure
// is logged, never escalated to a fatal stream error: the transfer itself
// already completed.
func (s *Session) runPostCopyCmd() {
	if !s.cfg.PostCopy.Enabled {
		return
	}
	outFileType := "tar"
	if s.hasDst && s.dstDevice.Kind == device.KindUSB {
		outFileType = "fs"
	}
	if err := s.machine.PostCopyCmd(outFileType); err != nil {
		logger.Warn("post-copy command failed", logger.SessionID(s.id), logger.Err(err))
	}
}

// Reset tears down the orchestrator and its workers, truncates the staging
// files, and spawns a fresh pipeline with a new session id and HMAC key —
// the pipeline's only cancellation primitive.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.children.EndWaitAll()
	_ = os.Remove(s.tarPath)
	_ = os.Remove(s.fsPath)

	newID := uuid.NewString()
	tarPath := filepath.Join(s.cfg.OutDirectory, newID+".tar")
	fsPath := filepath.Join(s.cfg.OutDirectory, newID+".fs")

	children, err := orchestrator.NewChildren(withSessionArgs(s.resolve, tarPath, fsPath), s.cfg.EnvVars, s.cfg.Analyzer.Enabled, s.dropper)
	if err != nil {
		return fmt.Errorf("session: respawn workers: %w", err)
	}

	authenticator, err := auth.NewPathTokenAuthenticator()
	if err != nil {
		children.EndWaitAll()
		return fmt.Errorf("session: create path authenticator: %w", err)
	}

	s.id = newID
	s.children = children
	s.machine = orchestrator.NewMachine(children, progress.NewChannel(), s.cfg.Analyzer.Enabled)
	s.authenticator = authenticator
	s.tarPath = tarPath
	s.fsPath = fsPath
	s.devices = nil
	s.hasSrc, s.hasDst = false, false
	s.createdAt = time.Now()

	logger.Info("session reset", logger.SessionID(s.id))
	return nil
}

// withSessionArgs wraps resolve so files2tar/tar2files/uploader/cmdexec (and,
// when enabled, analyzer) receive this session's staging tar path, and
// files2fs/fs2dev receive its staging fs path, as a --archive/--fs flag —
// the only session-specific state a worker binary needs beyond the IPC
// envelopes themselves.
func withSessionArgs(resolve orchestrator.BinaryResolver, tarPath, fsPath string) orchestrator.BinaryResolver {
	return func(name string) (string, []string) {
		path, args := resolve(name)
		switch name {
		case orchestrator.WorkerFiles2tar, orchestrator.WorkerTar2files,
			orchestrator.WorkerUploader, orchestrator.WorkerCmdexec, orchestrator.WorkerAnalyzer:
			args = append(append([]string(nil), args...), "--archive="+tarPath)
		case orchestrator.WorkerFiles2fs, orchestrator.WorkerFs2dev:
			args = append(append([]string(nil), args...), "--fs="+fsPath)
		}
		return path, args
	}
}

// Close tears down the orchestrator and its workers without spawning a
// replacement, for process shutdown or admin force-termination
//.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children.EndWaitAll()
	_ = os.Remove(s.tarPath)
	_ = os.Remove(s.fsPath)
}
