package fetchengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/katello/grinder/pkg/logger"
)

// MetadataReader is the narrow surface Driver needs from an external
// collaborator (internal/metasource, or a childproc.Process wrapping one
// for isolation): a finite sequence of descriptors, nothing more. Declared
// here rather than imported from internal/metasource to avoid a
// pkg->internal dependency; internal/metasource.MetadataReader already
// satisfies this interface structurally.
type MetadataReader interface {
	Descriptors(ctx context.Context) ([]*FetchDescriptor, error)
}

// VersionKeyFunc groups a directory's on-disk file names for
// RemoveOldPackages: group returns a key shared by every revision of the
// same package (e.g. "name.arch"), and sortKey orders revisions of that
// group oldest-to-newest so all but the newest few can be pruned. The
// default, naiveVersionKey, has no notion of RPM EVR comparison -- real
// version-aware pruning needs native rpm/yum metadata the engine never
// parses; callers with access to a metadata reader capable of parsing
// NEVRA can supply a more precise VersionKeyFunc.
type VersionKeyFunc func(fileName string) (group, sortKey string)

// DriverConfig carries a Driver's fixed settings for one repository sync.
type DriverConfig struct {
	RepoLabel   string
	BasePath    string
	Parallelism int

	FetcherConfig  FetcherConfig
	WorkerPoolConf WorkerPoolConfig

	// PurgeOrphaned, when true, deletes on-disk files under each save
	// path touched by this sync that were not named by any descriptor --
	// RepoFetch.py's purgeOrphanPackages.
	PurgeOrphaned bool
	// RemoveOld, when true, prunes all but NumOldPackages+1 revisions
	// (the current one plus NumOldPackages older) per VersionKeyFunc
	// group -- GrinderUtils.runRemoveOldPackages.
	RemoveOld      bool
	NumOldPackages int
	VersionKey     VersionKeyFunc

	// Progress, if non-nil, receives a GlobalProgress snapshot on every
	// byte/item accounting change -- the live feed a CLI front-end wires
	// into an mpb bar. The step-level STARTED/FINISHED brackets go
	// through Sync's callback argument instead.
	Progress ProgressCallback

	Log logger.Logger
}

// Driver wires a MetadataReader to a WorkerPool and finalizes on-disk
// state. Grounded on GrinderCLI.py's/RepoFetch.py's top-level orchestration
// shape: fetch metadata, enumerate content, download in parallel,
// finalize staged repodata, then purge orphans and prune old revisions.
type Driver struct {
	cfg      DriverConfig
	reader   MetadataReader
	fetcher  *Fetcher
	progress *ProgressTracker
	log      logger.Logger

	mu   sync.Mutex
	pool *WorkerPool
}

// NewDriver builds a Driver. The ReportCallback that receives every
// ProgressReport -- the two DownloadMetadata brackets Driver emits around
// the reader call, plus everything the WorkerPool emits -- is supplied to
// Sync, not here, since it is per-run rather than a fixed Driver setting.
func NewDriver(cfg DriverConfig, reader MetadataReader) *Driver {
	log := cfg.Log
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.VersionKey == nil {
		cfg.VersionKey = naiveVersionKey
	}
	progress := NewProgressTracker(log, cfg.Progress)
	fetcherCfg := cfg.FetcherConfig
	fetcherCfg.Log = log
	return &Driver{
		cfg:      cfg,
		reader:   reader,
		fetcher:  NewFetcher(fetcherCfg, progress),
		progress: progress,
		log:      log,
	}
}

// bracket sends one of Driver's own DownloadMetadata reports to the
// caller's callback, using the pool's report shape without a pool
// existing yet.
func (d *Driver) bracket(callback ReportCallback, status ReportStatus) {
	if callback == nil {
		return
	}
	snapshot := d.progress.GetProgress()
	callback(ProgressReport{
		Step:    StepDownloadMetadata,
		Status:  status,
		Details: snapshot.ByType,
	})
}

// Sync runs one complete repository mirror: fetch metadata, download every
// advertised descriptor in parallel, finalize staged repodata, and clean
// up stale artifacts. Errors from the MetadataReader, or from registering
// its descriptors with the pool, are fatal; everything past that point is
// captured in the returned SyncReport instead of aborting the sync.
func (d *Driver) Sync(ctx context.Context, callback ReportCallback) (SyncReport, error) {
	d.bracket(callback, ReportStarted)
	descriptors, err := d.reader.Descriptors(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("fetchengine: metadata reader: %w", err)
	}
	d.bracket(callback, ReportFinished)

	poolCfg := d.cfg.WorkerPoolConf
	if poolCfg.Parallelism <= 0 {
		poolCfg.Parallelism = d.cfg.Parallelism
	}
	poolCfg.Log = d.log

	pool := NewWorkerPool(poolCfg, d.fetcher.Fetch, d.progress, callback)
	if err := pool.AddItems(descriptors); err != nil {
		return SyncReport{}, fmt.Errorf("fetchengine: register descriptors: %w", err)
	}

	d.mu.Lock()
	d.pool = pool
	d.mu.Unlock()

	pool.Start(ctx)
	report := pool.WaitForFinish()

	d.finalizeMetadata(callback)

	if d.cfg.PurgeOrphaned {
		d.purgeOrphaned(descriptors, callback)
	}
	if d.cfg.RemoveOld {
		d.removeOldPackages(descriptors, callback)
	}

	return report, nil
}

// Stop requests the in-progress Sync's WorkerPool to stop at the next
// descriptor boundary, for a CLI front-end that wants a second interrupt
// to escalate to a force-quit: it calls Stop once on the first signal, and
// its own process-level signal handling takes over for a second one. A
// no-op if no Sync is in flight.
func (d *Driver) Stop() {
	d.mu.Lock()
	pool := d.pool
	d.mu.Unlock()
	if pool != nil {
		pool.Stop()
	}
}

// Progress returns a snapshot of the current byte/item accounting,
// broken down per ItemType -- what a CLI collaborator uses to print a
// GrinderCLI.py-style "N packages, K kickstarts" summary line after Sync
// returns.
func (d *Driver) Progress() GlobalProgress {
	return d.progress.GetProgress()
}

// repoDir is this sync's on-disk root: <basepath>/<repo_label>.
func (d *Driver) repoDir() string {
	return filepath.Join(d.cfg.BasePath, d.cfg.RepoLabel)
}

// finalizeMetadata replaces repodata/ with the staged repodata.new/ tree:
// staged repository metadata is written to
// <basepath>/<repo_label>/repodata.new/ and finalized by removing
// repodata/ and renaming. Errors are logged and swallowed so the report
// is still returned, matching RepoFetch.py's finalizeMetadata bare
// except-and-log.
func (d *Driver) finalizeMetadata(callback ReportCallback) {
	stagedPath := filepath.Join(d.repoDir(), "repodata.new")
	finalPath := filepath.Join(d.repoDir(), "repodata")

	if _, err := os.Stat(stagedPath); os.IsNotExist(err) {
		d.log.Info("fetchengine: no staged metadata to finalize for %s", d.cfg.RepoLabel)
		return
	}

	if err := os.RemoveAll(finalPath); err != nil {
		d.log.Error("fetchengine: finalize metadata: remove old %s: %v", finalPath, err)
		return
	}
	if err := os.Rename(stagedPath, finalPath); err != nil {
		d.log.Error("fetchengine: finalize metadata: rename %s to %s: %v", stagedPath, finalPath, err)
		return
	}
	d.log.Info("fetchengine: finalized metadata for %s", d.cfg.RepoLabel)
}

// purgeOrphaned removes on-disk files under every save path this sync
// touched that are not named by any descriptor, per RepoFetch.py's
// purgeOrphanPackages. Directories not touched by this sync (no
// descriptor pointed at them) are left alone.
func (d *Driver) purgeOrphaned(descriptors []*FetchDescriptor, callback ReportCallback) {
	if callback != nil {
		callback(ProgressReport{Step: StepPurgeOrphanedPackages, Status: ReportStarted})
	}

	wanted := make(map[string]map[string]bool) // savePath -> fileName -> true
	for _, desc := range descriptors {
		dir := desc.SavePath
		if wanted[dir] == nil {
			wanted[dir] = make(map[string]bool)
		}
		wanted[dir][desc.FileName] = true
	}

	for dir, keep := range wanted {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				d.log.Warning("fetchengine: purge orphaned: read %s: %v", dir, err)
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || keep[entry.Name()] {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				d.log.Warning("fetchengine: purge orphaned: remove %s: %v", path, err)
				continue
			}
			d.log.Info("fetchengine: removed orphaned file %s", path)
		}
	}

	if callback != nil {
		callback(ProgressReport{Step: StepPurgeOrphanedPackages, Status: ReportFinished})
	}
}

// removeOldPackages prunes all but the newest NumOldPackages+1 revisions
// per VersionKey group in every descriptor's save path, mirroring
// GrinderUtils.runRemoveOldPackages's "keep the latest package and N
// older releases" policy.
func (d *Driver) removeOldPackages(descriptors []*FetchDescriptor, callback ReportCallback) {
	if callback != nil {
		callback(ProgressReport{Step: StepRemoveOldPackages, Status: ReportStarted})
	}

	dirs := make(map[string]bool)
	for _, desc := range descriptors {
		dirs[desc.SavePath] = true
	}

	keep := d.cfg.NumOldPackages
	if keep < 0 {
		keep = 0
	}

	for dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		groups := make(map[string][]string)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			group, _ := d.cfg.VersionKey(entry.Name())
			groups[group] = append(groups[group], entry.Name())
		}
		for _, names := range groups {
			sort.Slice(names, func(i, j int) bool {
				_, ki := d.cfg.VersionKey(names[i])
				_, kj := d.cfg.VersionKey(names[j])
				return ki < kj
			})
			if len(names) <= keep+1 {
				continue
			}
			for _, name := range names[:len(names)-(keep+1)] {
				path := filepath.Join(dir, name)
				if err := os.Remove(path); err != nil {
					d.log.Warning("fetchengine: remove old package %s: %v", path, err)
					continue
				}
				d.log.Info("fetchengine: removed old package %s", path)
			}
		}
	}

	if callback != nil {
		callback(ProgressReport{Step: StepRemoveOldPackages, Status: ReportFinished})
	}
}

// naiveVersionKey groups by the file name segments preceding the first
// "-"-delimited segment that looks like a version (starts with a digit),
// e.g. "httpd-2.4.6-90.el7.x86_64.rpm" groups as "httpd". Revisions within
// a group sort lexicographically by full file name, which tracks numeric
// order closely enough for same-width version strings but has no real EVR
// comparison semantics; see VersionKeyFunc's doc comment.
func naiveVersionKey(fileName string) (group, sortKey string) {
	parts := strings.Split(fileName, "-")
	for i, p := range parts {
		if p != "" && p[0] >= '0' && p[0] <= '9' {
			return strings.Join(parts[:i], "-"), fileName
		}
	}
	return fileName, fileName
}
