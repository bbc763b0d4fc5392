package fetchengine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/katello/grinder/pkg/logger"
)

// Step is a coarse phase label reported to a WorkerPool's caller alongside
// each ProgressReport.
type Step string

const (
	StepDownloadMetadata      Step = "DownloadMetadata"
	StepDownloadItems         Step = "DownloadItems"
	StepPurgeOrphanedPackages Step = "PurgeOrphanedPackages"
	StepRemoveOldPackages     Step = "RemoveOldPackages"
)

// ReportStatus is the status value carried on a ProgressReport, which is
// either STARTED, FINISHED, or a Status from descriptor.go.
type ReportStatus string

const (
	ReportStarted  ReportStatus = "STARTED"
	ReportFinished ReportStatus = "FINISHED"
)

// ProgressReport is the callback payload a WorkerPool emits after every
// outcome, plus a STARTED report at launch and a FINISHED report at drain.
type ProgressReport struct {
	Step         Step
	Status       ReportStatus
	ItemsTotal   int64
	ItemsLeft    int64
	SizeTotal    int64
	SizeLeft     int64
	ItemName     string
	ItemType     ItemType
	NumSuccess   int64
	NumError     int64
	NumDownload  int64
	Details      map[ItemType]TypeAggregate
	ErrorDetails []ErrorRecord
}

// ReportCallback receives every ProgressReport a WorkerPool emits.
type ReportCallback func(ProgressReport)

// ErrorRecord is one entry in a SyncReport's error list. Category is the
// closed classification of the failure, derived from Status (a recovered
// panic is always CategoryFatal regardless of status).
type ErrorRecord struct {
	Descriptor    *FetchDescriptor
	Status        Status
	Category      ErrCategory
	Message       string
	ExceptionRepr string
	Traceback     string
}

// SyncReport is the final aggregate a WorkerPool hands back from
// WaitForFinish: counts of successes, downloads, and errors, the error
// records, and the last ProgressReport emitted.
type SyncReport struct {
	Successes    int64
	Downloads    int64
	Errors       int64
	ErrorDetails []ErrorRecord
	LastProgress ProgressReport
}

// FetchFunc performs one descriptor's fetch. A WorkerPool calls this once
// per popped descriptor; wrapping it in a childproc.Process to isolate
// thread-unsafe native libraries is the caller's concern, not the pool's.
type FetchFunc func(ctx context.Context, d *FetchDescriptor) FetchOutcome

// WorkerPoolConfig carries a pool's fixed settings.
type WorkerPoolConfig struct {
	Parallelism int
	// MaxRequeues bounds how many times a single descriptor may be
	// requeued for lock contention before it is surfaced as an error.
	// Zero selects the default of 50.
	MaxRequeues int
	// RequeueBackoff reuses RetryConfig's jittered exponential backoff for
	// the delay between requeue attempts of the same descriptor.
	RequeueBackoff RetryConfig
	Log            logger.Logger
}

const defaultMaxRequeues = 50

// WorkerPool dispatches FetchDescriptors across a bounded set of worker
// goroutines, tracks per-status counts, and reports aggregate progress.
// Grounded on ParallelFetch/WorkerThread: the Python pop-or-exit loop over
// a shared Queue.Queue becomes a condition-variable-backed work queue so
// that REQUEUE can re-enqueue without going through AddItem's bookkeeping,
// and threading.Event's stop flag becomes a bool guarded by the same mutex
// plus a cancelable context passed into every FetchFunc call.
type WorkerPool struct {
	cfg      WorkerPoolConfig
	fetch    FetchFunc
	progress *ProgressTracker
	callback ReportCallback
	log      logger.Logger

	queue *workQueue

	mu          sync.Mutex
	started     bool
	stopping    bool
	cancel      context.CancelFunc
	itemsTotal  int64
	sizeTotal   int64
	sizeLeft    int64
	numSuccess  int64
	numError    int64
	numDownload int64
	errors      []ErrorRecord
	completed   []*FetchDescriptor
	requeues    map[string]int
	step        Step
	// pending counts descriptors that have not yet reached a terminal
	// outcome. A REQUEUE push-back leaves it unchanged (the descriptor is
	// still pending, just back on the queue); it reaches zero only once
	// every added descriptor has succeeded or errored, at which point the
	// queue is closed so idle workers blocked in pop() can exit.
	pending int64

	wg sync.WaitGroup
}

// NewWorkerPool builds a pool. progress and callback may both be nil.
func NewWorkerPool(cfg WorkerPoolConfig, fetch FetchFunc, progress *ProgressTracker, callback ReportCallback) *WorkerPool {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.MaxRequeues <= 0 {
		cfg.MaxRequeues = defaultMaxRequeues
	}
	if cfg.RequeueBackoff == (RetryConfig{}) {
		cfg.RequeueBackoff = DefaultRetryConfig()
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewNopLogger()
	}
	if progress == nil {
		progress = NewProgressTracker(log, nil)
	}
	return &WorkerPool{
		cfg:      cfg,
		fetch:    fetch,
		progress: progress,
		callback: callback,
		log:      log,
		queue:    newWorkQueue(),
		requeues: make(map[string]int),
		step:     StepDownloadItems,
	}
}

// AddItem registers d for fetching, including its ProgressTracker
// bookkeeping (TypeAggregate counts, TotalSizeBytes). Must be called before
// Start; calling it afterwards returns ErrPoolStopped once the pool has
// started. This is the only bookkeeping registration point: a descriptor
// that comes back as REQUEUE re-enters the queue through handleRequeue,
// which bypasses AddItem entirely so counts are never double-registered
// across requeue cycles.
func (wp *WorkerPool) AddItem(d *FetchDescriptor) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return ErrPoolStopped
	}
	wp.itemsTotal++
	wp.pending++
	if d.ExpectedSize > 0 {
		wp.sizeTotal += d.ExpectedSize
		wp.sizeLeft += d.ExpectedSize
	}
	wp.progress.AddItem(d.DownloadURL, d.ExpectedSize, d.ItemType)
	wp.queue.push(d)
	return nil
}

// AddItems is a convenience wrapper around AddItem for a batch.
func (wp *WorkerPool) AddItems(ds []*FetchDescriptor) error {
	for _, d := range ds {
		if err := wp.AddItem(d); err != nil {
			return err
		}
	}
	return nil
}

// Start snapshots the queued item count, emits a STARTED ProgressReport,
// and launches Parallelism worker goroutines against ctx.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	if wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = true
	workerCtx, cancel := context.WithCancel(ctx)
	wp.cancel = cancel
	empty := wp.pending == 0
	report := wp.formReportLocked(StepDownloadItems, "", "", ReportStarted)
	wp.mu.Unlock()

	if empty {
		// No descriptor will ever decrement pending to zero, so close the
		// queue now or the workers would block in pop forever.
		wp.queue.close()
	}

	wp.emit(report)

	for i := 0; i < wp.cfg.Parallelism; i++ {
		wp.wg.Add(1)
		safeGo(wp.log, &wp.wg, "workerpool-worker", func(r interface{}) {
			wp.log.Error("worker recovered from panic: %v", r)
		}, func() { wp.workerLoop(workerCtx) })
	}
}

// workerLoop pulls descriptors off the shared queue until it's empty or the
// pool is stopping. safeGo (installed by Start) owns the WaitGroup decrement
// and panic recovery for the goroutine as a whole; runOne separately recovers
// a panic from a single FetchFunc call into an ERROR outcome so one bad
// descriptor doesn't take the worker down with it.
func (wp *WorkerPool) workerLoop(ctx context.Context) {
	for {
		if wp.isStopping() {
			return
		}
		d, ok := wp.queue.pop()
		if !ok {
			return
		}
		outcome, exceptionRepr, traceback := wp.runOne(ctx, d)
		if outcome.Status == StatusRequeue {
			wp.handleRequeue(d, outcome)
			continue
		}
		wp.handleOutcome(d, outcome, exceptionRepr, traceback)
	}
}

// runOne invokes the pool's FetchFunc, recovering a panic into an ERROR
// outcome with a captured repr and traceback, matching WorkerThread.run's
// bare except clause and its exc_info/format_exc capture.
func (wp *WorkerPool) runOne(ctx context.Context, d *FetchDescriptor) (outcome FetchOutcome, exceptionRepr, traceback string) {
	defer func() {
		if r := recover(); r != nil {
			exceptionRepr = fmt.Sprintf("%v", r)
			traceback = string(debug.Stack())
			outcome = FetchOutcome{Status: StatusError, Detail: exceptionRepr}
		}
	}()
	outcome = wp.fetch(ctx, d)
	return
}

func (wp *WorkerPool) isStopping() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.stopping
}

// handleRequeue re-enqueues d for lock contention, bypassing AddItem's
// total-count bookkeeping, unless its per-descriptor requeue budget is
// exhausted, in which case it is surfaced as an ordinary error outcome.
func (wp *WorkerPool) handleRequeue(d *FetchDescriptor, outcome FetchOutcome) {
	wp.mu.Lock()
	key := d.DownloadURL
	wp.requeues[key]++
	attempt := wp.requeues[key]
	wp.mu.Unlock()

	if attempt > wp.cfg.MaxRequeues {
		wp.handleOutcome(d, FetchOutcome{Status: StatusError, Detail: ErrRequeueBudgetExceeded.Error()}, "", "")
		return
	}

	delay := wp.cfg.RequeueBackoff.CalculateBackoff(attempt)
	if delay > 0 {
		time.Sleep(delay)
	}
	wp.queue.push(d)
}

// handleOutcome records a terminal outcome (everything but REQUEUE):
// updates status counts and completion/error lists, tells the tracker the
// item is done, and emits a DownloadItems ProgressReport. exceptionRepr and
// traceback are only non-empty when outcome came from a recovered panic.
func (wp *WorkerPool) handleOutcome(d *FetchDescriptor, outcome FetchOutcome, exceptionRepr, traceback string) {
	wp.progress.ItemComplete(d.DownloadURL, outcome.Status.IsSuccess())

	wp.mu.Lock()
	if d.ExpectedSize > 0 {
		wp.sizeLeft -= d.ExpectedSize
	}
	if outcome.Status.IsSuccess() {
		wp.numSuccess++
		if outcome.Status == StatusDownloaded {
			wp.numDownload++
		}
		wp.completed = append(wp.completed, d)
	} else {
		wp.numError++
		category := CategoryForStatus(outcome.Status)
		if exceptionRepr != "" {
			category = CategoryFatal
		}
		rec := ErrorRecord{
			Descriptor:    d,
			Status:        outcome.Status,
			Category:      category,
			Message:       outcome.Detail,
			ExceptionRepr: exceptionRepr,
			Traceback:     traceback,
		}
		wp.errors = append(wp.errors, rec)
		wp.log.Warning("fetchengine: %s failed (%s): %s", d.FileName, category, outcome.Detail)
	}
	wp.pending--
	drained := wp.pending == 0
	report := wp.formReportLocked(StepDownloadItems, d.FileName, string(d.ItemType), ReportStatus(outcome.Status))
	wp.mu.Unlock()

	if drained {
		wp.queue.close()
	}
	wp.emit(report)
}

// Stop signals every worker to exit at its next descriptor boundary and
// cancels the in-flight fetch context, aborting any in-progress transfer
// (and, once childproc wraps the FetchFunc, its child RPC) cleanly.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	wp.stopping = true
	cancel := wp.cancel
	wp.mu.Unlock()

	wp.queue.close()
	if cancel != nil {
		cancel()
	}
}

// StopAndWait calls Stop and then blocks until every worker has exited,
// matching stop(block=true).
func (wp *WorkerPool) StopAndWait() SyncReport {
	wp.Stop()
	return wp.WaitForFinish()
}

// WaitForFinish blocks until every worker has exited (naturally, or via
// Stop), drains the completion/error bookkeeping into a SyncReport, emits
// a FINISHED ProgressReport, and returns.
func (wp *WorkerPool) WaitForFinish() SyncReport {
	wp.wg.Wait()

	wp.mu.Lock()
	report := wp.formReportLocked(wp.step, "", "", ReportFinished)
	syncReport := SyncReport{
		Successes:    wp.numSuccess,
		Downloads:    wp.numDownload,
		Errors:       wp.numError,
		ErrorDetails: append([]ErrorRecord(nil), wp.errors...),
		LastProgress: report,
	}
	wp.mu.Unlock()

	wp.emit(report)
	return syncReport
}

// formReportLocked builds a ProgressReport from current bookkeeping. Caller
// must hold wp.mu.
func (wp *WorkerPool) formReportLocked(step Step, itemName, itemType string, status ReportStatus) ProgressReport {
	wp.step = step
	snapshot := wp.progress.GetProgress()
	return ProgressReport{
		Step:         step,
		Status:       status,
		ItemsTotal:   wp.itemsTotal,
		ItemsLeft:    wp.itemsTotal - wp.numSuccess - wp.numError,
		SizeTotal:    wp.sizeTotal,
		SizeLeft:     wp.sizeLeft,
		ItemName:     itemName,
		ItemType:     ItemType(itemType),
		NumSuccess:   wp.numSuccess,
		NumError:     wp.numError,
		NumDownload:  wp.numDownload,
		Details:      snapshot.ByType,
		ErrorDetails: append([]ErrorRecord(nil), wp.errors...),
	}
}

func (wp *WorkerPool) emit(report ProgressReport) {
	if wp.callback != nil {
		wp.callback(report)
	}
}

// workQueue is an unbounded FIFO of descriptors, condition-variable-backed
// so a blocked worker wakes either when an item is pushed or when the
// queue is closed. This replaces Queue.Queue's get_nowait-or-break
// polling loop with a blocking pop, which is the idiomatic Go shape for a
// producer/consumer queue of unknown size (REQUEUE can push back onto it
// at any time, including after the initial AddItem batch is exhausted).
type workQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*FetchDescriptor
	closed bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workQueue) push(d *FetchDescriptor) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed and
// drained, in which case it returns (nil, false).
func (q *workQueue) pop() (*FetchDescriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

func (q *workQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
