package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"boardcrawl/cf"
	"boardcrawl/logging"
)

// TaskStatus is the lifecycle state of a queued board scan.
type TaskStatus string

const (
	StatusQueued           TaskStatus = "queued"
	StatusScanning         TaskStatus = "scanning"
	StatusCompleted        TaskStatus = "completed"
	StatusFailed           TaskStatus = "failed"
	StatusCancelled        TaskStatus = "cancelled"
	StatusWaitingChallenge TaskStatus = "waiting_challenge"
)

// ScanTask represents a single board scan
type ScanTask struct {
	ID            string
	Board         *Board
	Status        TaskStatus
	Progress      float64 // 0.0 to 1.0
	StatusMessage string
	CancelFunc    context.CancelFunc
	Error         error

	Done       int
	Total      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// ScanQueue runs board scans one at a time in FIFO order
type ScanQueue struct {
	ctx      context.Context
	settings *Settings
	run      SiteScanFunc

	mu         sync.Mutex
	tasks      []*ScanTask
	processing bool
	wg         sync.WaitGroup

	// Callbacks receive a snapshot of the task
	onTaskAdded   func(ScanTask)
	onTaskUpdated func(ScanTask)
	onTaskRemoved func(string)
	onQueueEmpty  func()
}

// NewScanQueue creates a queue whose scans run under ctx; cancelling ctx
// cancels the running scan and everything after it.
func NewScanQueue(ctx context.Context, settings *Settings) *ScanQueue {
	return newScanQueue(ctx, settings, ExecuteSiteScan)
}

func newScanQueue(ctx context.Context, settings *Settings, run SiteScanFunc) *ScanQueue {
	return &ScanQueue{
		ctx:      ctx,
		settings: settings,
		run:      run,
		tasks:    make([]*ScanTask, 0),
	}
}

// SetCallbacks sets the progress callbacks
func (q *ScanQueue) SetCallbacks(
	onAdded func(ScanTask),
	onUpdated func(ScanTask),
	onRemoved func(string),
	onEmpty func(),
) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.onTaskAdded = onAdded
	q.onTaskUpdated = onUpdated
	q.onTaskRemoved = onRemoved
	q.onQueueEmpty = onEmpty
}

// AddTask adds a board scan to the queue
func (q *ScanQueue) AddTask(board *Board) (*ScanTask, error) {
	q.mu.Lock()

	for _, task := range q.tasks {
		if task.Board.Name == board.Name && isPending(task.Status) {
			q.mu.Unlock()
			return nil, fmt.Errorf("board '%s' is already in scan queue", board.Name)
		}
	}

	task := &ScanTask{
		ID:            uuid.NewString(),
		Board:         board,
		Status:        StatusQueued,
		StatusMessage: "Waiting in queue...",
	}

	q.tasks = append(q.tasks, task)
	snapshot := *task
	onAdded := q.onTaskAdded
	q.startLocked()
	q.mu.Unlock()

	logging.For("Queue").Infof("Added task: %s (%s)", board.Name, task.ID)

	if onAdded != nil {
		onAdded(snapshot)
	}

	return task, nil
}

// RetryTask requeues a task that failed or hit a challenge
func (q *ScanQueue) RetryTask(id string) error {
	q.mu.Lock()

	task := q.findLocked(id)
	if task == nil {
		q.mu.Unlock()
		return fmt.Errorf("task not found: %s", id)
	}
	if task.Status != StatusWaitingChallenge && task.Status != StatusFailed {
		q.mu.Unlock()
		return fmt.Errorf("task cannot be retried (status: %s)", task.Status)
	}

	logging.For("Queue").Infof("Retrying task: %s", task.Board.Name)
	task.Status = StatusQueued
	task.StatusMessage = "Retrying..."
	task.Error = nil
	snapshot := *task
	onUpdated := q.onTaskUpdated
	q.startLocked()
	q.mu.Unlock()

	if onUpdated != nil {
		onUpdated(snapshot)
	}
	return nil
}

// GetTasks returns a snapshot of all tasks
func (q *ScanQueue) GetTasks() []ScanTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make([]ScanTask, len(q.tasks))
	for i, task := range q.tasks {
		tasks[i] = *task
	}
	return tasks
}

// GetTask returns a snapshot of the task with id
func (q *ScanQueue) GetTask(id string) (ScanTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task := q.findLocked(id); task != nil {
		return *task, true
	}
	return ScanTask{}, false
}

// CancelTask cancels a running scan or removes a queued one
func (q *ScanQueue) CancelTask(id string) error {
	q.mu.Lock()

	for i, task := range q.tasks {
		if task.ID != id {
			continue
		}

		switch task.Status {
		case StatusScanning:
			logging.For("Queue").Infof("Cancelling active scan: %s", task.Board.Name)
			if task.CancelFunc != nil {
				task.CancelFunc()
			}
			task.Status = StatusCancelled
			task.StatusMessage = "Cancelled by user"
			snapshot := *task
			onUpdated := q.onTaskUpdated
			q.mu.Unlock()
			if onUpdated != nil {
				onUpdated(snapshot)
			}
			return nil

		case StatusQueued:
			logging.For("Queue").Infof("Removing queued task: %s", task.Board.Name)
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			onRemoved := q.onTaskRemoved
			q.mu.Unlock()
			if onRemoved != nil {
				onRemoved(id)
			}
			return nil

		default:
			q.mu.Unlock()
			return fmt.Errorf("task is not active or queued (status: %s)", task.Status)
		}
	}

	q.mu.Unlock()
	return fmt.Errorf("task not found: %s", id)
}

// CancelAll cancels every running and queued task
func (q *ScanQueue) CancelAll() {
	q.mu.Lock()

	logging.For("Queue").Infof("Cancelling all tasks (%d total)", len(q.tasks))

	var snapshots []ScanTask
	for _, task := range q.tasks {
		if task.Status == StatusScanning && task.CancelFunc != nil {
			task.CancelFunc()
		}
		if isPending(task.Status) {
			task.Status = StatusCancelled
			task.StatusMessage = "Cancelled by user"
			snapshots = append(snapshots, *task)
		}
	}
	onUpdated := q.onTaskUpdated
	q.mu.Unlock()

	if onUpdated != nil {
		for _, s := range snapshots {
			onUpdated(s)
		}
	}
}

// RemoveCompletedTasks removes finished tasks, keeping those still pending
// or waiting for a challenge to clear
func (q *ScanQueue) RemoveCompletedTasks() {
	q.mu.Lock()

	var removed []string
	kept := make([]*ScanTask, 0, len(q.tasks))
	for _, task := range q.tasks {
		if isPending(task.Status) || task.Status == StatusWaitingChallenge {
			kept = append(kept, task)
		} else {
			removed = append(removed, task.ID)
		}
	}
	q.tasks = kept
	onRemoved := q.onTaskRemoved
	q.mu.Unlock()

	if onRemoved != nil {
		for _, id := range removed {
			onRemoved(id)
		}
	}
	logging.For("Queue").Debugf("Cleaned up finished tasks, %d remaining", len(kept))
}

// Wait blocks until the queue has no more work.
func (q *ScanQueue) Wait() {
	q.wg.Wait()
}

// startLocked launches the worker unless one is already running. Caller holds mu.
func (q *ScanQueue) startLocked() {
	if q.processing {
		return
	}
	q.processing = true
	q.wg.Add(1)
	go q.processQueue()
}

// processQueue processes tasks in FIFO order
func (q *ScanQueue) processQueue() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		task := q.nextQueuedLocked()
		if task == nil {
			q.processing = false
			onEmpty := q.onQueueEmpty
			q.mu.Unlock()

			logging.For("Queue").Debug("No more tasks to process")
			if onEmpty != nil {
				onEmpty()
			}
			return
		}

		ctx, cancel := context.WithCancel(q.ctx)
		task.Status = StatusScanning
		task.StatusMessage = "Starting scan..."
		task.CancelFunc = cancel
		task.StartedAt = time.Now()
		snapshot := *task
		onUpdated := q.onTaskUpdated
		q.mu.Unlock()

		if onUpdated != nil {
			onUpdated(snapshot)
		}

		logging.For("Queue").Infof("Processing task: %s", task.Board.Name)
		q.executeTask(ctx, task)
		cancel()
	}
}

func (q *ScanQueue) nextQueuedLocked() *ScanTask {
	for _, task := range q.tasks {
		if task.Status == StatusQueued {
			return task
		}
	}
	return nil
}

func (q *ScanQueue) findLocked(id string) *ScanTask {
	for _, task := range q.tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

// executeTask runs one scan and records its outcome
func (q *ScanQueue) executeTask(ctx context.Context, task *ScanTask) {
	log := logging.For("Queue")

	progressCallback := func(status string, progress float64, done, total int) {
		q.mu.Lock()
		task.Progress = progress
		task.StatusMessage = status
		task.Done = done
		task.Total = total
		snapshot := *task
		onUpdated := q.onTaskUpdated
		q.mu.Unlock()

		if onUpdated != nil {
			onUpdated(snapshot)
		}
	}

	err := q.run(ctx, q.settings, task.Board, progressCallback)

	q.mu.Lock()
	task.CancelFunc = nil
	task.FinishedAt = time.Now()

	switch {
	case err == nil:
		task.Status = StatusCompleted
		task.StatusMessage = "Scan complete"
		task.Progress = 1.0
	case errors.Is(err, context.Canceled) || task.Status == StatusCancelled:
		task.Status = StatusCancelled
		task.StatusMessage = "Cancelled by user"
	default:
		if chErr, ok := cf.IsChallenge(err); ok {
			task.Status = StatusWaitingChallenge
			task.StatusMessage = "Challenge detected - retry once it clears"
			log.Warnf("⚠️ Challenge detected for %s (URL: %s)", task.Board.Name, chErr.URL)
		} else {
			task.Status = StatusFailed
			task.StatusMessage = fmt.Sprintf("Error: %v", err)
		}
		task.Error = err
	}

	snapshot := *task
	onUpdated := q.onTaskUpdated
	q.mu.Unlock()

	if onUpdated != nil {
		onUpdated(snapshot)
	}

	log.Infof("Task finished: %s (status: %s)", task.Board.Name, snapshot.Status)
}

func isPending(s TaskStatus) bool {
	return s == StatusQueued || s == StatusScanning
}
