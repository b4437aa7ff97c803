package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ComparisonJob is an async batch comparison over a dataset.
type ComparisonJob struct {
	EventBroadcaster
	ComparisonJobState
}

// ComparisonJobState is the serializable part of a comparison job.
type ComparisonJobState struct {
	ID          string                 `json:"id"`
	Status      JobStatus              `json:"status"`
	Progress    int                    `json:"progress"`
	Total       int                    `json:"total"`
	Processed   int                    `json:"processed"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Options     ComparisonOptions      `json:"options"`
	Result      *attendance.Evaluation `json:"result,omitempty"`
	ReportPath  string                 `json:"report_path,omitempty"`
}

// ComparisonOptions is the body of a batch comparison request.
type ComparisonOptions struct {
	DatasetPath            string `json:"dataset_path"`
	ImagesPerIdentity      int    `json:"images_per_identity"`
	CountCorrectRejections bool   `json:"count_correct_rejections"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *ComparisonJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Snapshot returns a copy of the job state safe to serialize while it runs.
func (j *ComparisonJob) Snapshot() ComparisonJobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.ComparisonJobState
}

// Cancel cancels the comparison job.
func (j *ComparisonJob) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
}

func (j *ComparisonJob) setProgress(done, total int) {
	j.mu.Lock()
	j.Processed = done
	j.Total = total
	if total > 0 {
		j.Progress = done * 100 / total
	}
	j.mu.Unlock()
}

func (j *ComparisonJob) finish(status JobStatus, errMsg string) {
	now := time.Now()
	j.mu.Lock()
	if j.Status != JobStatusCancelled {
		j.Status = status
	}
	j.Error = errMsg
	j.CompletedAt = &now
	j.mu.Unlock()
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners. Slow listeners miss events.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager keeps the most recent comparison jobs in memory.
type JobManager struct {
	jobs    map[string]*ComparisonJob
	maxJobs int
	mu      sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:    make(map[string]*ComparisonJob),
		maxJobs: constants.MaxStoredJobs,
	}
}

// CreateJob registers a pending job, evicting the oldest finished jobs once
// the store is full.
func (m *JobManager) CreateJob(id string, options ComparisonOptions) *ComparisonJob {
	job := &ComparisonJob{ComparisonJobState: ComparisonJobState{
		ID:        id,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		Options:   options,
	}}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	m.jobs[id] = job
	return job
}

func (m *JobManager) evictLocked() {
	if len(m.jobs) < m.maxJobs {
		return
	}
	finished := make([]*ComparisonJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		if isJobTerminal(job.GetStatus()) {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].StartedAt.Before(finished[j].StartedAt)
	})
	for _, job := range finished {
		if len(m.jobs) < m.maxJobs {
			return
		}
		delete(m.jobs, job.ID)
	}
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *ComparisonJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs, newest first.
func (m *JobManager) ListJobs() []*ComparisonJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*ComparisonJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs
}
