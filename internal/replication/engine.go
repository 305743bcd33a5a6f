// Package replication queues and drains cross-region data-mutation tasks.
// Every committed local write fans out one task per remote region; a worker
// pool drains the queue with bounded concurrency while tasks sharing a
// (dataType, dataId) key stay FIFO per target. Conflicting concurrent writes
// are surfaced as DataConflict records for explicit resolution.
package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/edgewatch/multiregion/internal/core"
	"github.com/edgewatch/multiregion/internal/events"
	"github.com/edgewatch/multiregion/internal/health"
	"github.com/edgewatch/multiregion/internal/metrics"
)

const (
	laneBuffer     = 4096
	maxRetained    = 4096
	syncRateWindow = time.Minute
)

// Applier is the injected capability that delivers one replication task to
// its target region. Transport internals are out of scope here.
type Applier interface {
	Apply(ctx context.Context, task *core.ReplicationTask) error
}

// ApplierFunc adapts a plain function to the Applier interface.
type ApplierFunc func(ctx context.Context, task *core.ReplicationTask) (err error)

func (f ApplierFunc) Apply(ctx context.Context, task *core.ReplicationTask) error {
	return f(ctx, task)
}

type Engine struct {
	// enqMu serializes enqueues so per-key FIFO order is defined by the
	// order ReplicateData calls complete. Lane sends may block on a full
	// buffer and must not hold mu, which the workers need.
	enqMu     sync.Mutex
	mu        sync.Mutex
	cfg       core.ReplicationConfig
	primary   string
	hm        *health.Monitor
	applier   Applier
	tasks     []*core.ReplicationTask
	lanes     []chan *core.ReplicationTask
	gate      *gate
	limiter   *rate.Limiter
	lastSync  map[string]time.Time
	completed map[string][]time.Time
	conflicts map[string]*core.DataConflict
	wg        sync.WaitGroup
	started   bool
	events    *events.Log
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// New builds an engine from the replication section of the startup config.
// primary is the failover primary region id; it is only consulted under the
// master-slave strategy, where writes may originate there alone.
func New(cfg core.ReplicationConfig, primary string, hm *health.Monitor, applier Applier, log *events.Log, logger *zap.Logger, collector *metrics.Collector) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Second
	}

	lanes := make([]chan *core.ReplicationTask, cfg.BatchSize)
	for i := range lanes {
		lanes[i] = make(chan *core.ReplicationTask, laneBuffer)
	}

	// Dispatch is paced to one batch per sync interval.
	per := cfg.SyncInterval / time.Duration(cfg.BatchSize)
	if per <= 0 {
		per = time.Millisecond
	}

	return &Engine{
		cfg:       cfg,
		primary:   primary,
		hm:        hm,
		applier:   applier,
		lanes:     lanes,
		gate:      newGate(),
		limiter:   rate.NewLimiter(rate.Every(per), cfg.BatchSize),
		lastSync:  make(map[string]time.Time),
		completed: make(map[string][]time.Time),
		conflicts: make(map[string]*core.DataConflict),
		events:    log,
		logger:    logger,
		metrics:   collector,
	}
}

// Start launches the drain workers. Tasks enqueued before Start sit in their
// lanes until a worker picks them up.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.logger.Info("Replication engine started",
		zap.Int("workers", e.cfg.BatchSize),
		zap.String("strategy", string(e.cfg.Strategy)),
	)

	for _, lane := range e.lanes {
		e.wg.Add(1)
		go func(ch chan *core.ReplicationTask) {
			defer e.wg.Done()
			e.drain(ctx, ch)
		}(lane)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reportLag(ctx)
	}()
}

// Wait blocks until all workers have observed cancellation.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// ReplicateData enqueues one task per configured region other than the
// source and returns the batch id immediately. The source must be a
// configured replication region; under master-slave it must be the primary.
func (e *Engine) ReplicateData(dataType, dataID string, op core.Operation, payload json.RawMessage, sourceRegion string) (string, error) {
	if !e.cfg.Enabled {
		return "", core.ErrReplicationDisabled
	}

	known := false
	for _, id := range e.cfg.Regions {
		if id == sourceRegion {
			known = true
			break
		}
	}
	if !known {
		return "", fmt.Errorf("source region %q is not a replication region", sourceRegion)
	}
	if e.cfg.Strategy == core.MasterSlave && sourceRegion != e.primary {
		return "", fmt.Errorf("master-slave replication only accepts writes from primary %q", e.primary)
	}

	batchID := uuid.New().String()
	now := time.Now()

	e.enqMu.Lock()
	batch := make([]*core.ReplicationTask, 0, len(e.cfg.Regions))
	for _, target := range e.cfg.Regions {
		if target == sourceRegion {
			continue
		}
		batch = append(batch, &core.ReplicationTask{
			ID:           uuid.New().String(),
			BatchID:      batchID,
			SourceRegion: sourceRegion,
			TargetRegion: target,
			DataType:     dataType,
			DataID:       dataID,
			Operation:    op,
			Payload:      payload,
			Status:       core.TaskPending,
			EnqueuedAt:   now,
		})
	}

	e.mu.Lock()
	e.tasks = append(e.tasks, batch...)
	e.prune()
	depth := e.pendingDepth()
	e.mu.Unlock()

	for _, task := range batch {
		e.lanes[e.lane(task.DataType, task.DataID, task.TargetRegion)] <- task
	}
	e.enqMu.Unlock()

	e.metrics.SetQueueDepth(depth)
	e.logger.Debug("Replication batch enqueued",
		zap.String("batch_id", batchID),
		zap.String("data_type", dataType),
		zap.String("data_id", dataID),
		zap.String("source", sourceRegion),
	)
	return batchID, nil
}

// lane maps a (dataType, dataId, target) triple to a fixed worker so tasks
// for the same key and target are applied in enqueue order.
func (e *Engine) lane(dataType, dataID, target string) int {
	h := fnv.New32a()
	h.Write([]byte(dataType))
	h.Write([]byte{0})
	h.Write([]byte(dataID))
	h.Write([]byte{0})
	h.Write([]byte(target))
	return int(h.Sum32() % uint32(len(e.lanes)))
}

func (e *Engine) drain(ctx context.Context, lane chan *core.ReplicationTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-lane:
			if !e.gate.wait(ctx) {
				return
			}
			if err := e.limiter.Wait(ctx); err != nil {
				return
			}
			e.process(ctx, task)
		}
	}
}

// process runs one task through its attempts. Failures retry with a
// non-decreasing exponential backoff until retryAttempts is exhausted, after
// which the task is terminally failed but stays queryable.
func (e *Engine) process(ctx context.Context, task *core.ReplicationTask) {
	e.setStatus(task, core.TaskInProgress, "")

	for attempt := 0; ; attempt++ {
		err := e.applyOnce(ctx, task)
		if err == nil {
			e.complete(task)
			return
		}

		if ctx.Err() != nil {
			// Shutdown, not a delivery verdict. Leave the task pending so a
			// resumed engine can pick it back up.
			e.setStatus(task, core.TaskPending, err.Error())
			return
		}

		// attempt 0 is the initial delivery; everything after is a retry.
		e.mu.Lock()
		task.RetryCount = attempt
		task.LastError = err.Error()
		e.mu.Unlock()

		if attempt >= e.cfg.RetryAttempts {
			e.fail(task, err)
			return
		}

		e.logger.Warn("Replication attempt failed",
			zap.String("task_id", task.ID),
			zap.String("target", task.TargetRegion),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if !sleepCtx(ctx, e.backoff(attempt)) {
			e.setStatus(task, core.TaskPending, err.Error())
			return
		}
	}
}

// applyOnce delivers the task once, treating an unreachable target region as
// a failed attempt.
func (e *Engine) applyOnce(ctx context.Context, task *core.ReplicationTask) error {
	region, err := e.hm.Region(task.TargetRegion)
	if err != nil {
		return fmt.Errorf("target region %q: %w", task.TargetRegion, err)
	}
	if region.Status != core.RegionActive {
		return fmt.Errorf("target region %q is %s", task.TargetRegion, region.Status)
	}
	return e.applier.Apply(ctx, task)
}

// backoff doubles the configured delay per attempt.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.RetryDelay
	if d <= 0 {
		d = time.Second
	}
	return d << attempt
}

func (e *Engine) setStatus(task *core.ReplicationTask, status core.TaskStatus, lastError string) {
	e.mu.Lock()
	task.Status = status
	if lastError != "" {
		task.LastError = lastError
	}
	e.mu.Unlock()
}

func (e *Engine) complete(task *core.ReplicationTask) {
	now := time.Now()

	e.mu.Lock()
	task.Status = core.TaskCompleted
	task.LastError = ""
	task.CompletedAt = &now
	e.lastSync[task.TargetRegion] = now
	window := append(e.completed[task.TargetRegion], now)
	e.completed[task.TargetRegion] = pruneWindow(window, now)
	depth := e.pendingDepth()
	e.mu.Unlock()

	e.metrics.SetQueueDepth(depth)
	e.metrics.RecordTaskDone(task.TargetRegion, string(core.TaskCompleted))
	e.events.Publish(core.EventDataSync, task.TargetRegion, map[string]any{
		"task_id":   task.ID,
		"batch_id":  task.BatchID,
		"data_type": task.DataType,
		"data_id":   task.DataID,
		"operation": string(task.Operation),
	})
}

func (e *Engine) fail(task *core.ReplicationTask, err error) {
	e.mu.Lock()
	task.Status = core.TaskFailed
	task.LastError = err.Error()
	depth := e.pendingDepth()
	e.mu.Unlock()

	e.metrics.SetQueueDepth(depth)
	e.metrics.RecordTaskDone(task.TargetRegion, string(core.TaskFailed))
	e.logger.Error("Replication task exhausted retries",
		zap.String("task_id", task.ID),
		zap.String("target", task.TargetRegion),
		zap.Int("retries", task.RetryCount),
		zap.Error(err),
	)
}

// pendingDepth counts non-terminal tasks. Caller holds the lock.
func (e *Engine) pendingDepth() int {
	n := 0
	for _, task := range e.tasks {
		if !task.Terminal() {
			n++
		}
	}
	return n
}

// prune caps the retained task history. Completed tasks age out oldest
// first; failed and non-terminal tasks are never dropped. Caller holds the
// lock.
func (e *Engine) prune() {
	if len(e.tasks) <= maxRetained {
		return
	}
	excess := len(e.tasks) - maxRetained
	kept := make([]*core.ReplicationTask, 0, maxRetained)
	for _, task := range e.tasks {
		if excess > 0 && task.Status == core.TaskCompleted {
			excess--
			continue
		}
		kept = append(kept, task)
	}
	e.tasks = kept
}

// Pause stops dispatching new work. In-flight tasks finish; everything still
// queued stays queued.
func (e *Engine) Pause() {
	e.gate.pause()
	e.logger.Info("Replication paused")
}

// Resume reopens the dispatch gate.
func (e *Engine) Resume() {
	e.gate.resume()
	e.logger.Info("Replication resumed")
}

// Paused reports the gate state.
func (e *Engine) Paused() bool {
	return e.gate.paused()
}

// Queue returns a snapshot of the retained tasks in enqueue order.
func (e *Engine) Queue() []core.ReplicationTask {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]core.ReplicationTask, 0, len(e.tasks))
	for _, task := range e.tasks {
		out = append(out, *task)
	}
	return out
}

// SyncStatus reports the replication view per region. With no arguments it
// covers every configured region.
func (e *Engine) SyncStatus(regionIDs ...string) []core.DataSyncStatus {
	if len(regionIDs) == 0 {
		regionIDs = e.cfg.Regions
	}
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]core.DataSyncStatus, 0, len(regionIDs))
	for _, id := range regionIDs {
		status := core.DataSyncStatus{RegionID: id}

		if last, ok := e.lastSync[id]; ok {
			status.LastSync = last
			status.Lag = now.Sub(last)
			status.LagMs = status.Lag.Milliseconds()
		}

		for _, task := range e.tasks {
			if task.TargetRegion != id {
				continue
			}
			if !task.Terminal() {
				status.PendingOperations++
			}
			if task.Status == core.TaskFailed {
				status.FailedOperations++
			}
		}

		window := pruneWindow(e.completed[id], now)
		e.completed[id] = window
		status.SyncRatePerMin = float64(len(window))

		for _, conflict := range e.conflicts {
			if conflict.Resolution != nil {
				continue
			}
			for _, region := range conflict.Regions {
				if region == id {
					status.OpenConflicts++
					break
				}
			}
		}

		out = append(out, status)
	}
	return out
}

// reportLag refreshes the per-region lag gauges once per sync interval.
func (e *Engine) reportLag(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, status := range e.SyncStatus() {
				e.metrics.SetReplicationLag(status.RegionID, status.Lag)
			}
		}
	}
}

func pruneWindow(window []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-syncRateWindow)
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	return window[i:]
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
