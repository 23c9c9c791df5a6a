// Copyright (C) 2014 Jakob Borg and Contributors (see the CONTRIBUTORS file).
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for
// more details.
//
// You should have received a copy of the GNU General Public License along
// with this program. If not, see <http://www.gnu.org/licenses/>.

// Package coordinator implements the SyncCoordinator of spec §4.11: the
// per-(folder, peer) orchestrator that gates on cooldown, runs the five
// phases (LocalState, Discovery, Planning, Execution, Finalization), and
// owns snapshot persistence and the sync log. It is the one exposed
// entry point of spec §1, sync_with_peer(peer, folder) -- here
// Coordinator.SyncWithPeer, one Coordinator instance per folder.
// Grounded on internal/model/model.go's per-folder folderState-driven run
// loop and its device/folder registry shape, generalized from
// Syncthing's full cluster-config handshake down to the spec's narrower
// GetMST/GetFiles discovery exchange. Runs under thejerf/suture/v4's
// Service interface in the shape lib/api/api.go's service type uses.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/calmh/peersync/internal/blockstore"
	"github.com/calmh/peersync/internal/classifier"
	"github.com/calmh/peersync/internal/cooldown"
	"github.com/calmh/peersync/internal/decision"
	"github.com/calmh/peersync/internal/fsutil"
	"github.com/calmh/peersync/internal/ignore"
	"github.com/calmh/peersync/internal/logger"
	"github.com/calmh/peersync/internal/merkle"
	"github.com/calmh/peersync/internal/scanner"
	"github.com/calmh/peersync/internal/server"
	"github.com/calmh/peersync/internal/statestore"
	"github.com/calmh/peersync/internal/syncmodel"
	"github.com/calmh/peersync/internal/syncproto"
	"github.com/calmh/peersync/internal/synckind"
	"github.com/calmh/peersync/internal/timeutil"
	"github.com/calmh/peersync/internal/transfer"
	"github.com/calmh/peersync/internal/vectorclock"
)

var (
	debug = strings.Contains(os.Getenv("STTRACE"), "coordinator") || os.Getenv("STTRACE") == "all"
	l     = logger.DefaultLogger
)

// Tunables from spec §6.
const (
	OnlineWindow      = 30 * time.Second
	PeerSyncCooldown  = 30 * time.Second
	TombstoneTTL      = 7 * 24 * time.Hour
	summaryTimeout    = 10 * time.Second
	summaryRetries    = 2
	listingTimeout    = 90 * time.Second
	listingRetries    = 3
	syncRoundInterval = 10 * time.Second
)

// State names one step of the phased state machine of spec §4.11.
type State int

const (
	Idle State = iota
	LocalState
	Discovery
	Planning
	Execution
	Finalization
	Error
)

func (s State) String() string {
	switch s {
	case LocalState:
		return "local-state"
	case Discovery:
		return "discovery"
	case Planning:
		return "planning"
	case Execution:
		return "execution"
	case Finalization:
		return "finalization"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// PeerInfo is the externally supplied, read-only view of one peer, per
// spec §3's PeerInfo entity and §1(i)'s "list peers seen recently"
// oracle.
type PeerInfo struct {
	PeerID           string
	Addresses        []string
	LastSeenAt       time.Time
	AnnouncedSyncIDs map[string]struct{}
}

// PeerOracle is the external collaborator of spec §1(i): "a list of
// peers seen in the last W seconds" source, scoped to the peers that
// announce a given sync id. The coordinator re-checks recency itself at
// the gate (§4.11(i)) rather than trusting the oracle's own filtering,
// since the oracle may batch its view less often than a single round.
type PeerOracle interface {
	Peers(syncID string) []PeerInfo
}

// Dialer is the external collaborator of spec §1(ii): "send a request to
// an address, get a response" -- here, establish a syncproto.Conn to a
// peer.
type Dialer interface {
	Dial(ctx context.Context, peer PeerInfo) (*syncproto.Conn, error)
}

// Metrics is the set of Prometheus collectors the coordinator updates;
// nil fields are skipped.
type Metrics struct {
	RunsTotal   prometheus.Counter
	RunErrors   prometheus.Counter
	FolderFiles prometheus.Gauge
	FolderBytes prometheus.Gauge
	Transfer    transfer.Metrics
}

// Coordinator runs reconciliation for one folder against any number of
// peers. Each (SyncID, peer) pair is serialized by the running map; two
// different peers for the same folder may run concurrently, per spec §5.
type Coordinator struct {
	SyncID        string
	FolderID      string
	MyPeerID      string
	FS            *fsutil.FS
	Store         *statestore.Store
	Blocks        *blockstore.Store
	Ignores       *ignore.Matcher
	Handler       *server.RequestHandler
	WriteCooldown *cooldown.Table
	Concurrency   int
	Clock         timeutil.Clock
	Log           *statestore.SyncLog
	Metrics       Metrics

	// OnStateChange is called on every phase transition for (folder,
	// peer); useful for status reporting / the external event stream
	// mentioned in spec §9. May be nil.
	OnStateChange func(peerID string, s State)
	// OnPeerDropped is called when a peer should be removed from this
	// folder's known set: it went silent past the online window, or the
	// server answered "folder not found" for this sync id. Never an
	// error, per spec §7's Peer-absent kind. May be nil.
	OnPeerDropped func(peerID string)

	// Oracle and PeerDialer back Serve's periodic fan-out; SyncWithPeer
	// itself doesn't need them; a caller driving syncs directly (e.g.
	// in response to a watcher event) can call SyncWithPeer without ever
	// populating these.
	Oracle     PeerOracle
	PeerDialer Dialer

	mut          sync.Mutex
	running      map[string]bool
	peerCooldown *cooldown.Table
	summary      merkle.Digest
}

// New returns a Coordinator for one folder and registers it with handler
// so the RequestHandler can answer GetMST/GetFiles/... for this sync id
// against c.FS/c.Store/c.Blocks.
func New(c *Coordinator) *Coordinator {
	c.running = make(map[string]bool)
	c.peerCooldown = cooldown.New()
	if c.Handler != nil {
		c.Handler.Register(&server.Folder{
			SyncID:   c.SyncID,
			FS:       c.FS,
			Store:    c.Store,
			Blocks:   c.Blocks,
			MyPeerID: c.MyPeerID,
			Summary:  c.Summary,
			Cooldown: c.WriteCooldown,
		})
	}
	return c
}

func (c *Coordinator) clock() timeutil.Clock {
	if c.Clock == nil {
		return timeutil.SystemClock{}
	}
	return c.Clock
}

func (c *Coordinator) concurrency() int {
	if c.Concurrency <= 0 {
		return transfer.DefaultConcurrency
	}
	return c.Concurrency
}

// Summary returns the current Merkle root, satisfying server.Folder's
// Summary field.
func (c *Coordinator) Summary() merkle.Digest {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.summary
}

func (c *Coordinator) setSummary(d merkle.Digest) {
	c.mut.Lock()
	c.summary = d
	c.mut.Unlock()
}

func (c *Coordinator) setState(peerID string, s State) {
	if debug {
		l.Debugf("coordinator: %s/%s -> %s", c.SyncID, peerID, s)
	}
	if c.OnStateChange != nil {
		c.OnStateChange(peerID, s)
	}
}

func (c *Coordinator) dropPeer(peerID string) {
	if c.OnPeerDropped != nil {
		c.OnPeerDropped(peerID)
	}
}

func (c *Coordinator) tryStartRun(peerID string) bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.running[peerID] {
		return false
	}
	c.running[peerID] = true
	return true
}

func (c *Coordinator) finishRun(peerID string) {
	c.mut.Lock()
	delete(c.running, peerID)
	c.mut.Unlock()
}

func (c *Coordinator) yield() {
	runtime.Gosched()
}

// SyncWithPeer is the sync_with_peer(peer, folder) entry point of spec
// §1. It applies the four gating checks of §4.11, then runs the phased
// state machine. A peer that fails gating, or that the server reports
// as not hosting this folder, is not an error: SyncWithPeer returns nil
// and (if applicable) calls OnPeerDropped.
func (c *Coordinator) SyncWithPeer(ctx context.Context, dialer Dialer, peer PeerInfo) error {
	now := c.clock().Now()

	if now.Sub(peer.LastSeenAt) > OnlineWindow {
		c.dropPeer(peer.PeerID)
		return nil
	}
	if _, announced := peer.AnnouncedSyncIDs[c.SyncID]; !announced {
		return nil
	}
	cdKey := peer.PeerID + "\x00" + c.SyncID
	if c.peerCooldown.Active(cdKey, PeerSyncCooldown) {
		return nil
	}
	if !c.tryStartRun(peer.PeerID) {
		return nil
	}
	defer c.finishRun(peer.PeerID)

	if c.Metrics.RunsTotal != nil {
		c.Metrics.RunsTotal.Inc()
	}

	err := c.run(ctx, peer, dialer)
	c.peerCooldown.Mark(cdKey)

	if err != nil {
		c.setState(peer.PeerID, Error)
		if c.Metrics.RunErrors != nil {
			c.Metrics.RunErrors.Inc()
		}
		l.Warnf("coordinator: sync %s with %s: %v", c.SyncID, peer.PeerID, err)
		return err
	}
	c.setState(peer.PeerID, Idle)
	return nil
}

// run executes LocalState -> Discovery -> Planning -> Execution ->
// Finalization for one peer.
func (c *Coordinator) run(ctx context.Context, peer PeerInfo, dialer Dialer) error {
	peerID := peer.PeerID

	c.setState(peerID, LocalState)
	scanRes, cls, err := c.localState()
	if err != nil {
		return fmt.Errorf("coordinator: local state: %w", err)
	}
	c.setSummary(scanRes.Summary)

	c.setState(peerID, Discovery)
	conn, err := dialer.Dial(ctx, peer)
	if err != nil {
		return synckind.Wrap(synckind.TransientNetwork, err)
	}
	defer conn.Close()

	remoteRoot, err := withRetry(ctx, summaryTimeout, summaryRetries, func(ctx context.Context) (syncproto.MstRoot, error) {
		return conn.GetMST(syncproto.GetMST{SyncID: c.SyncID})
	})
	if err != nil {
		if isFolderNotFound(err) {
			c.dropPeer(peerID)
			return nil
		}
		return err
	}

	if merkle.Equal(c.Summary(), digestFromBytes(remoteRoot.Digest)) && len(cls.LocallyDeleted) == 0 {
		return c.finalize(peerID, nil)
	}

	filesResp, err := withRetry(ctx, listingTimeout, listingRetries, func(ctx context.Context) (syncproto.FilesV2, error) {
		return conn.GetFiles(syncproto.GetFiles{SyncID: c.SyncID})
	})
	if err != nil {
		if isFolderNotFound(err) {
			c.dropPeer(peerID)
			return nil
		}
		return err
	}

	c.setState(peerID, Planning)
	plan, err := c.plan(peerID, cls, filesResp.States)
	if err != nil {
		return fmt.Errorf("coordinator: planning: %w", err)
	}

	c.setState(peerID, Execution)
	executor := &transfer.Executor{
		Conn:        conn,
		SyncID:      c.SyncID,
		FS:          c.FS,
		Store:       c.Store,
		Blocks:      c.Blocks,
		MyPeerID:    c.MyPeerID,
		PeerID:      peerID,
		Concurrency: c.concurrency(),
		Clock:       c.Clock,
		Metrics:     c.Metrics.Transfer,
	}
	report := executor.Execute(ctx, plan)

	return c.finalize(peerID, report)
}

// localState implements §4.11's LocalState phase: scan, classify,
// migrate renamed vector clocks, tombstone local deletions, and bump the
// vector clock of every path whose content changed (or is brand new)
// since the last persisted snapshot, per the Lifecycle section of §3.
func (c *Coordinator) localState() (scanner.Result, classifier.Result, error) {
	det := &scanner.ChangeDetector{Root: c.FS.Root, Ignores: c.Ignores, VCs: c.Store, Yield: c.yield}
	res, err := det.ComputeFullState()
	if err != nil {
		return res, classifier.Result{}, err
	}

	snap, err := c.Store.GetSnapshot()
	if err != nil {
		return res, classifier.Result{}, err
	}

	lastKnownPaths := make(map[string]struct{}, len(snap.Files))
	for p := range snap.Files {
		lastKnownPaths[p] = struct{}{}
	}
	lastKnownHash := func(p string) ([32]byte, bool) {
		m, ok := snap.Files[p]
		if !ok {
			return [32]byte{}, false
		}
		return m.ContentHash, true
	}

	existsOnDisk := func(p string) bool {
		_, err := c.FS.Stat(p)
		return err == nil
	}

	cls := classifier.Classify(res.States, lastKnownPaths, lastKnownHash, existsOnDisk)

	for _, mErr := range classifier.MigrateRenamedVCs(c.Store, cls.Renamed) {
		l.Warnf("coordinator: migrating renamed vc: %v", mErr)
	}

	now := c.clock().Now().UnixNano()
	for p := range cls.LocallyDeleted {
		vc := vectorclock.New()
		if m, ok := snap.Files[p]; ok {
			vc = m.VC
		}
		rec := syncmodel.DeletionRecord{DeletedAt: now, DeletedBy: syncmodel.PeerID(c.MyPeerID), VC: vc.Increment(c.MyPeerID)}
		if err := c.Store.SetDeleted(p, rec); err != nil {
			l.Warnf("coordinator: tombstoning %q: %v", p, err)
		}
	}

	renameTargets := make(map[string]struct{}, len(cls.Renamed))
	for _, newPath := range cls.Renamed {
		renameTargets[newPath] = struct{}{}
	}

	for path, st := range res.States {
		if _, isTarget := renameTargets[path]; isTarget {
			// Rename preserves the vector clock (spec §8 invariant 5);
			// MigrateRenamedVCs already moved it, nothing bumps here.
			continue
		}
		m, ok := st.Metadata()
		if !ok {
			continue
		}
		if prev, known := snap.Files[path]; known && prev.ContentHash == m.ContentHash {
			continue // unchanged since the last snapshot: no local write happened
		}
		newMeta := syncmodel.FileMetadata{
			ContentHash: m.ContentHash,
			ModTime:     m.ModTime,
			Size:        m.Size,
			VC:          m.VC.Increment(c.MyPeerID),
		}
		res.States[path] = syncmodel.NewExists(newMeta)
		if err := c.Store.SetExists(path, newMeta); err != nil {
			l.Warnf("coordinator: persisting local write %q: %v", path, err)
		}
	}

	return res, cls, nil
}

// plan implements §4.11's Planning phase: union local and remote paths,
// filter rename-old and conflict-filename paths, and invoke
// DecisionEngine per path, applying the §4.8.6/§4.9 side effects that
// aren't pure decisions (tombstone propagation, VC merges on agreeing
// deletes).
func (c *Coordinator) plan(remotePeerID string, cls classifier.Result, remoteStates map[string]syncmodel.FileState) (transfer.Plan, error) {
	localPaths, err := c.Store.AllPaths()
	if err != nil {
		return transfer.Plan{}, err
	}

	renameOld := make(map[string]struct{}, len(cls.Renamed))
	for old := range cls.Renamed {
		renameOld[old] = struct{}{}
	}

	all := make(map[string]struct{}, len(localPaths)+len(remoteStates))
	for _, p := range localPaths {
		all[p] = struct{}{}
	}
	for p := range remoteStates {
		all[p] = struct{}{}
	}

	var plan transfer.Plan
	for path := range all {
		if _, skip := renameOld[path]; skip {
			continue
		}
		if strings.Contains(path, scanner.ConflictSuffix) {
			continue
		}

		local, err := c.Store.Get(path)
		if err != nil {
			l.Warnf("coordinator: reading local state %q: %v", path, err)
			continue
		}
		remote := remoteStates[path]

		switch decision.Decide(local, remote) {
		case decision.Skip:
			c.applySkipSideEffects(path, local, remote)

		case decision.Download:
			rm, _ := remote.Metadata()
			plan.Downloads = append(plan.Downloads, transfer.Item{
				Path: path, Op: transfer.OpDownload, Size: rm.Size, RemoteMetadata: rm,
			})

		case decision.Upload:
			lm, _ := local.Metadata()
			plan.Uploads = append(plan.Uploads, transfer.Item{Path: path, Op: transfer.OpUpload, Size: lm.Size})

		case decision.DeleteLocal:
			if rt, ok := remote.Tombstone(); ok {
				if err := c.Store.SetDeleted(path, rt); err != nil {
					l.Warnf("coordinator: adopting remote tombstone %q: %v", path, err)
				}
			}
			plan.Deletes = append(plan.Deletes, transfer.Item{Path: path, Op: transfer.OpDeleteLocal})

		case decision.DeleteRemote:
			plan.Deletes = append(plan.Deletes, transfer.Item{Path: path, Op: transfer.OpDeleteRemote})

		case decision.Conflict:
			switch decision.ResolveConflict(local, remote) {
			case decision.ArtifactBothExist:
				rm, _ := remote.Metadata()
				plan.Downloads = append(plan.Downloads, transfer.Item{
					Path: path, Op: transfer.OpConflictDownload, Size: rm.Size,
					RemotePeerID: remotePeerID, RemoteModTime: rm.ModTime, RemoteMetadata: rm,
				})
			case decision.AdoptRemoteNoArtifact:
				rm, _ := remote.Metadata()
				plan.Downloads = append(plan.Downloads, transfer.Item{
					Path: path, Op: transfer.OpDownload, Size: rm.Size, RemoteMetadata: rm,
				})
			case decision.KeepLocalNoArtifact:
				// This side's live file wins; the peer's own run adopts
				// it when it sees local=Deleted, remote(us)=Exists.
			}

		case decision.Uncertain:
			// §7's policy: local wins on the upload side. Downloads are
			// deliberately not attempted for an Uncertain verdict -- an
			// unrecognized state combination shouldn't overwrite a live
			// local file.
			l.Warnf("coordinator: uncertain decision for %q, falling back to local-wins", path)
			if lm, ok := local.Metadata(); ok {
				plan.Uploads = append(plan.Uploads, transfer.Item{Path: path, Op: transfer.OpUpload, Size: lm.Size})
			}
		}
	}
	return plan, nil
}

// applySkipSideEffects implements the two Skip sub-cases of §4.8 rules
// 4 and 5 that carry a recording obligation even though no file moves:
// learning of a tombstone we didn't have, and merging two independently
// arrived-at tombstones' vector clocks.
func (c *Coordinator) applySkipSideEffects(path string, local, remote syncmodel.FileState) {
	if local.IsAbsent() && remote.IsDeleted() {
		rt, _ := remote.Tombstone()
		if err := c.Store.SetDeleted(path, rt); err != nil {
			l.Warnf("coordinator: recording propagated tombstone %q: %v", path, err)
		}
		return
	}
	if local.IsDeleted() && remote.IsDeleted() {
		lt, _ := local.Tombstone()
		rt, _ := remote.Tombstone()
		merged := vectorclock.Merge(lt.VC, rt.VC)
		if merged.Compare(lt.VC) != vectorclock.Equal {
			lt.VC = merged
			if err := c.Store.SetDeleted(path, lt); err != nil {
				l.Warnf("coordinator: merging tombstone vc %q: %v", path, err)
			}
		}
	}
}

// finalize implements §4.11's Finalization phase: rescan, persist a
// snapshot, append sync log entries, update folder counters, and sweep
// tombstones past their TTL.
func (c *Coordinator) finalize(peerID string, report *transfer.Report) error {
	c.setState(peerID, Finalization)

	finalRes, err := (&scanner.ChangeDetector{Root: c.FS.Root, Ignores: c.Ignores, VCs: c.Store, Yield: c.yield}).ComputeFullState()
	if err != nil {
		return fmt.Errorf("coordinator: finalize rescan: %w", err)
	}
	c.setSummary(finalRes.Summary)

	snap := syncmodel.FolderSnapshot{
		SyncID:   c.SyncID,
		FolderID: c.FolderID,
		TakenAt:  c.clock().Now().UnixNano(),
		Files:    make(map[string]syncmodel.FileMetadata, len(finalRes.States)),
	}
	for p, st := range finalRes.States {
		if m, ok := st.Metadata(); ok {
			snap.Files[p] = m
		}
	}
	if err := c.Store.PutSnapshot(snap); err != nil {
		return fmt.Errorf("coordinator: persisting snapshot: %w", err)
	}

	if report != nil && c.Log != nil {
		now := c.clock().Now()
		for _, s := range report.Synced {
			c.Log.Append(statestore.SyncLogEntry{Time: now, Peer: peerID, Folder: c.FolderID, Op: logOp(s.Op), Path: s.Path, Bytes: s.Size})
		}
		for _, f := range report.Failed {
			errText := ""
			if f.Err != nil {
				errText = f.Err.Error()
			}
			c.Log.Append(statestore.SyncLogEntry{Time: now, Peer: peerID, Folder: c.FolderID, Op: logOp(f.Op), Path: f.Path, Err: errText})
		}
	}

	if c.Metrics.FolderFiles != nil {
		c.Metrics.FolderFiles.Set(float64(finalRes.FileCount))
	}
	if c.Metrics.FolderBytes != nil {
		c.Metrics.FolderBytes.Set(float64(finalRes.TotalSize))
	}

	if _, err := c.Store.CleanupExpired(c.clock().Now().UnixNano(), int64(TombstoneTTL), func(string, syncmodel.DeletionRecord) bool { return true }); err != nil {
		l.Warnf("coordinator: sweeping expired tombstones: %v", err)
	}

	return nil
}

func logOp(op transfer.Op) statestore.SyncOp {
	switch op {
	case transfer.OpUpload:
		return statestore.OpUpload
	case transfer.OpDownload, transfer.OpConflictDownload:
		if op == transfer.OpConflictDownload {
			return statestore.OpConflict
		}
		return statestore.OpDownload
	case transfer.OpDeleteLocal, transfer.OpDeleteRemote:
		return statestore.OpDelete
	default:
		return statestore.OpUpload
	}
}

// Serve runs periodic sync rounds against every peer the Oracle reports
// for this folder's sync id, satisfying thejerf/suture/v4's Service
// interface so the coordinator can be supervised alongside the
// WatcherBridge. A Coordinator driven purely by watcher events (no
// periodic fan-out) simply never calls Serve and invokes SyncWithPeer
// directly instead.
func (c *Coordinator) Serve(ctx context.Context) error {
	if c.Oracle == nil || c.PeerDialer == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(syncRoundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, p := range c.Oracle.Peers(c.SyncID) {
				if err := c.SyncWithPeer(ctx, c.PeerDialer, p); err != nil && debug {
					l.Debugf("coordinator: round with %s: %v", p.PeerID, err)
				}
			}
		}
	}
}

func isFolderNotFound(err error) bool {
	return err != nil && err.Error() == syncproto.FolderNotFoundText
}

func digestFromBytes(bs []byte) merkle.Digest {
	if len(bs) == 0 {
		return nil
	}
	var d [32]byte
	copy(d[:], bs)
	return &d
}

// withRetry retries fn up to retries times with exponential backoff.
// TransientNetwork errors and unclassified ones (syncproto.Conn returns
// raw errors with no kind attached) are retried; a "folder not found"
// response and an error of any other kind are returned at once.
func withRetry[T any](ctx context.Context, timeout time.Duration, retries int, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt <= retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := fn(callCtx)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if isFolderNotFound(err) || attempt == retries {
			return zero, err
		}
		kind := synckind.Of(err)
		if kind != synckind.Unknown && kind != synckind.TransientNetwork {
			return zero, err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		backoff *= 2
	}
	return zero, lastErr
}
