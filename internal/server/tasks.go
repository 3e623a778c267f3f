package server

import (
	"fmt"
	"sync"

	"github.com/sky-audit/skyaudit/internal/analyzer"
)

const (
	analysisTaskPrefix         = "task-"
	analysisStatusRunning      = analysisTaskStatus("running")
	analysisStatusCompleted    = analysisTaskStatus("completed")
	analysisStatusFailed       = analysisTaskStatus("failed")
	analysisTaskNotFoundNotice = "analysis task not found"
)

// analysisTaskStatus represents the lifecycle state of a follower scan task.
type analysisTaskStatus string

// analysisTask captures state for one background follower scan.
type analysisTask struct {
	identifier   string
	status       analysisTaskStatus
	progress     analyzer.Progress
	results      []analyzer.AnalysisResult
	errorMessage string
}

// analysisTaskSnapshot copies the public portions of a task for serialization.
type analysisTaskSnapshot struct {
	Identifier   string             `json:"taskID"`
	Status       analysisTaskStatus `json:"status"`
	Total        int                `json:"total"`
	Current      int                `json:"current"`
	StatusLine   string             `json:"statusLine"`
	BlockedCount int                `json:"blockedCount"`
	ErrorMessage string             `json:"error,omitempty"`
}

// analysisTaskTracker tracks active and completed scan tasks.
type analysisTaskTracker struct {
	mutex        sync.Mutex
	tasks        map[string]*analysisTask
	nextSequence int
}

func newAnalysisTaskTracker() *analysisTaskTracker {
	return &analysisTaskTracker{tasks: make(map[string]*analysisTask)}
}

// CreateTask registers a new scan task and returns its snapshot.
func (tracker *analysisTaskTracker) CreateTask() analysisTaskSnapshot {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	tracker.nextSequence++
	identifier := fmt.Sprintf("%s%d", analysisTaskPrefix, tracker.nextSequence)
	task := &analysisTask{identifier: identifier, status: analysisStatusRunning}
	tracker.tasks[identifier] = task
	return snapshotTask(task)
}

// UpdateProgress records the latest progress snapshot for a task.
func (tracker *analysisTaskTracker) UpdateProgress(taskIdentifier string, progress analyzer.Progress) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task, exists := tracker.tasks[taskIdentifier]
	if !exists {
		return
	}
	task.progress = progress
}

// CompleteTask transitions a task to completed and stores its results.
func (tracker *analysisTaskTracker) CompleteTask(taskIdentifier string, results []analyzer.AnalysisResult) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task, exists := tracker.tasks[taskIdentifier]
	if !exists {
		return
	}
	task.status = analysisStatusCompleted
	task.results = results
}

// FailTask transitions a task to failed with its error message.
func (tracker *analysisTaskTracker) FailTask(taskIdentifier string, failure error) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task, exists := tracker.tasks[taskIdentifier]
	if !exists {
		return
	}
	task.status = analysisStatusFailed
	if failure != nil {
		task.errorMessage = failure.Error()
	}
}

// TaskSnapshot returns a copy of the task state for external observers.
func (tracker *analysisTaskTracker) TaskSnapshot(taskIdentifier string) (analysisTaskSnapshot, bool) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task, exists := tracker.tasks[taskIdentifier]
	if !exists {
		return analysisTaskSnapshot{}, false
	}
	return snapshotTask(task), true
}

// TaskResults returns the accumulated results of a completed task.
func (tracker *analysisTaskTracker) TaskResults(taskIdentifier string) ([]analyzer.AnalysisResult, bool) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	task, exists := tracker.tasks[taskIdentifier]
	if !exists || task.status != analysisStatusCompleted {
		return nil, false
	}
	results := make([]analyzer.AnalysisResult, len(task.results))
	copy(results, task.results)
	return results, true
}

func snapshotTask(task *analysisTask) analysisTaskSnapshot {
	return analysisTaskSnapshot{
		Identifier:   task.identifier,
		Status:       task.status,
		Total:        task.progress.Total,
		Current:      task.progress.Current,
		StatusLine:   task.progress.Status,
		BlockedCount: task.progress.BlockedCount,
		ErrorMessage: task.errorMessage,
	}
}
