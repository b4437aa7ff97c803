package handlers

import (
	"testing"
	"time"
)

func TestJobManager_EvictsOldestFinished(t *testing.T) {
	m := NewJobManager()
	m.maxJobs = 3

	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		job := m.CreateJob(id, ComparisonOptions{})
		job.StartedAt = base.Add(time.Duration(i) * time.Minute)
	}
	m.GetJob("a").Status = JobStatusRunning
	m.GetJob("b").Status = JobStatusCompleted
	m.GetJob("c").Status = JobStatusFailed

	m.CreateJob("d", ComparisonOptions{})

	if m.GetJob("b") != nil {
		t.Error("oldest finished job b should have been evicted")
	}
	for _, id := range []string{"a", "c", "d"} {
		if m.GetJob(id) == nil {
			t.Errorf("job %s should still be stored", id)
		}
	}

	jobs := m.ListJobs()
	if len(jobs) != 3 || jobs[0].ID != "d" {
		t.Errorf("jobs should be listed newest first, got %d starting with %s", len(jobs), jobs[0].ID)
	}
}

func TestJobManager_KeepsRunningJobs(t *testing.T) {
	m := NewJobManager()
	m.maxJobs = 1
	m.CreateJob("a", ComparisonOptions{}).Status = JobStatusRunning
	m.CreateJob("b", ComparisonOptions{})

	if m.GetJob("a") == nil || m.GetJob("b") == nil {
		t.Error("running jobs must never be evicted")
	}
}

func TestEventBroadcaster(t *testing.T) {
	var b EventBroadcaster
	ch := b.AddListener()

	b.SendEvent(JobEvent{Type: "progress"})
	if ev := <-ch; ev.Type != "progress" {
		t.Errorf("got event %q, want progress", ev.Type)
	}

	cancelled := false
	b.cancel = func() { cancelled = true }
	b.Cancel()
	if !cancelled {
		t.Error("Cancel should call the context cancel func")
	}
	if ev := <-ch; ev.Type != "cancelled" {
		t.Errorf("got event %q, want cancelled", ev.Type)
	}

	b.RemoveListener(ch)
	if _, ok := <-ch; ok {
		t.Error("listener channel should be closed after removal")
	}
	b.SendEvent(JobEvent{Type: "ignored"})
}
