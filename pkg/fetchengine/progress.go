package fetchengine

import (
	"sync"

	"github.com/katello/grinder/pkg/logger"
)

// ItemProgress tracks one in-flight URL's byte accounting. Entries are
// created by AddItem, mutated only by UpdateProgressDownload,
// ModifyItemSize, and ResetProgress, and deleted by ItemComplete.
type ItemProgress struct {
	ItemType        ItemType
	TotalSizeBytes  int64
	RemainingBytes  int64
}

// TypeAggregate tracks totals for one ItemType across every ItemProgress
// ever registered of that type, live or completed.
type TypeAggregate struct {
	TotalSizeBytes int64
	SizeLeft       int64
	TotalCount     int64
	ItemsLeft      int64
	NumSuccess     int64
	NumError       int64
}

// GlobalProgress is a point-in-time snapshot across every item type.
type GlobalProgress struct {
	TotalSizeBytes     int64
	RemainingBytes     int64
	TotalNumItems      int64
	RemainingNumItems  int64
	ByType             map[ItemType]TypeAggregate
}

// ProgressCallback receives a deep-copied GlobalProgress snapshot. It is
// invoked outside ProgressTracker's lock.
type ProgressCallback func(GlobalProgress)

// ProgressTracker is the single mutex-protected store of byte/item
// accounting for an entire sync. Every public method acquires the mutex;
// none call another public method from inside their own critical section,
// which keeps a plain sync.Mutex safe where a reference implementation
// might reach for a reentrant lock.
type ProgressTracker struct {
	mu       sync.Mutex
	items    map[string]*ItemProgress
	byType   map[ItemType]*TypeAggregate
	total    GlobalProgress
	callback ProgressCallback
	log      logger.Logger
}

// NewProgressTracker constructs an empty tracker. cb may be nil.
func NewProgressTracker(log logger.Logger, cb ProgressCallback) *ProgressTracker {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ProgressTracker{
		items:    make(map[string]*ItemProgress),
		byType:   make(map[ItemType]*TypeAggregate),
		callback: cb,
		log:      log,
	}
}

func (t *ProgressTracker) aggregateLocked(it ItemType) *TypeAggregate {
	a, ok := t.byType[it]
	if !ok {
		a = &TypeAggregate{}
		t.byType[it] = a
	}
	return a
}

// AddItem registers url for tracking. A pre-existing entry for the same url
// is overwritten, matching grinder's own add_item semantics. Non-positive
// sizes coerce to 0 with a logged warning.
func (t *ProgressTracker) AddItem(url string, size int64, it ItemType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if size < 0 {
		t.log.Warning("negative size %d for %s coerced to 0", size, url)
		size = 0
	}

	if old, exists := t.items[url]; exists {
		// A re-registered URL fully replaces its predecessor: bytes and
		// counts both, so the partition invariants survive the overwrite.
		t.removeLocked(url, old, false)
		agg := t.aggregateLocked(old.ItemType)
		agg.TotalSizeBytes -= old.TotalSizeBytes
		agg.TotalCount--
		agg.ItemsLeft--
		t.total.TotalSizeBytes -= old.TotalSizeBytes
		t.total.TotalNumItems--
		t.total.RemainingNumItems--
	}

	t.items[url] = &ItemProgress{ItemType: it, TotalSizeBytes: size, RemainingBytes: size}

	agg := t.aggregateLocked(it)
	agg.TotalSizeBytes += size
	agg.SizeLeft += size
	agg.TotalCount++
	agg.ItemsLeft++

	t.total.TotalSizeBytes += size
	t.total.RemainingBytes += size
	t.total.TotalNumItems++
	t.total.RemainingNumItems++
}

// UpdateProgressDownload applies a (total, downloaded) sample for url. It is
// a no-op if url is unknown, or if either total or downloaded is exactly 0
// -- this swallows the spurious zero-valued callback many HTTP clients emit
// before the first real chunk.
func (t *ProgressTracker) UpdateProgressDownload(url string, total, downloaded int64) {
	t.mu.Lock()

	item, ok := t.items[url]
	if !ok || total == 0 || downloaded == 0 {
		t.mu.Unlock()
		return
	}

	if total != item.TotalSizeBytes {
		t.modifyItemSizeLocked(url, item, total)
	}

	newRemaining := total - downloaded
	delta := item.RemainingBytes - newRemaining
	if delta < 0 {
		t.log.Warning("non-monotonic progress for %s: delta=%d ignored", url, delta)
		t.mu.Unlock()
		return
	}
	if delta > 0 {
		agg := t.aggregateLocked(item.ItemType)
		item.RemainingBytes = newRemaining
		agg.SizeLeft -= delta
		t.total.RemainingBytes -= delta
	}

	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if t.callback != nil {
		t.callback(snapshot)
	}
}

// ModifyItemSize updates url's total size mid-flight (e.g. a Content-Length
// the server only revealed after redirects), adjusting every aggregate by
// the delta.
func (t *ProgressTracker) ModifyItemSize(url string, newTotal int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[url]
	if !ok {
		return
	}
	t.modifyItemSizeLocked(url, item, newTotal)
}

func (t *ProgressTracker) modifyItemSizeLocked(url string, item *ItemProgress, newTotal int64) {
	diff := newTotal - item.TotalSizeBytes
	item.TotalSizeBytes += diff
	item.RemainingBytes += diff

	agg := t.aggregateLocked(item.ItemType)
	agg.TotalSizeBytes += diff
	agg.SizeLeft += diff

	t.total.TotalSizeBytes += diff
	t.total.RemainingBytes += diff
}

// ItemComplete retires url, crediting success or error to its TypeAggregate
// and backing out any bytes still marked remaining (covers short/aborted
// transfers that never reached UpdateProgressDownload's final sample).
func (t *ProgressTracker) ItemComplete(url string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[url]
	if !ok {
		return
	}
	t.removeLocked(url, item, true)
	agg := t.byType[item.ItemType]
	if agg != nil {
		agg.ItemsLeft--
		if success {
			agg.NumSuccess++
		} else {
			agg.NumError++
		}
	}
}

func (t *ProgressTracker) removeLocked(url string, item *ItemProgress, final bool) {
	if item.RemainingBytes > 0 {
		agg := t.aggregateLocked(item.ItemType)
		agg.SizeLeft -= item.RemainingBytes
		t.total.RemainingBytes -= item.RemainingBytes
	}
	if final {
		t.total.RemainingNumItems--
	}
	delete(t.items, url)
}

// ResetProgress reinstates url's remaining bytes to its full total size,
// used by Fetcher before a retry attempt.
func (t *ProgressTracker) ResetProgress(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[url]
	if !ok {
		return
	}
	diff := item.TotalSizeBytes - item.RemainingBytes
	if diff == 0 {
		return
	}
	agg := t.aggregateLocked(item.ItemType)
	item.RemainingBytes = item.TotalSizeBytes
	agg.SizeLeft += diff
	t.total.RemainingBytes += diff
}

// GetProgress returns a deep-copied snapshot safe for the caller to read
// without further synchronization.
func (t *ProgressTracker) GetProgress() GlobalProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *ProgressTracker) snapshotLocked() GlobalProgress {
	byType := make(map[ItemType]TypeAggregate, len(t.byType))
	for k, v := range t.byType {
		byType[k] = *v
	}
	snap := t.total
	snap.ByType = byType
	return snap
}
