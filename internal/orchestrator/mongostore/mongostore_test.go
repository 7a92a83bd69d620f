package mongostore

import (
	"testing"
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/dispatcher"
	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/schedule"
)

// These cover the bson document <-> domain type mapping in isolation, since
// exercising Connect/Save/Get/ListEnabled against a real mongod is out of
// scope for a unit test suite that never runs against live infrastructure.

func TestJobDocumentRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	job := &dispatcher.Job{
		ID:                   "job-1",
		WorkflowID:           "wf-1",
		WorkflowBlob:         []byte(`{"nodes":[]}`),
		Variables:            map[string]interface{}{"x": float64(1)},
		RequiredCapabilities: []string{"vision"},
		Priority:             5,
		State:                dispatcher.JobCompleted,
		AssignedRobotID:      "robot-1",
		Attempts:             2,
		ExecutedNodes:        []string{"start", "end"},
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	doc := jobDocument(job)
	if doc.ID != job.ID || doc.WorkflowID != job.WorkflowID || doc.State != string(job.State) {
		t.Fatalf("jobDocument lost identity fields: %+v", doc)
	}

	back := doc.toJob()
	if back.ID != job.ID || back.WorkflowID != job.WorkflowID {
		t.Fatalf("toJob mismatch: got %+v, want %+v", back, job)
	}
	if back.State != job.State || back.AssignedRobotID != job.AssignedRobotID {
		t.Fatalf("toJob lost state fields: got %+v, want %+v", back, job)
	}
	if len(back.ExecutedNodes) != 2 || back.ExecutedNodes[1] != "end" {
		t.Fatalf("toJob lost ExecutedNodes: got %+v", back.ExecutedNodes)
	}
}

func TestScheduleDocumentRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	last := now.Add(-time.Hour)
	entry := &schedule.Entry{
		ID:         "sched-1",
		WorkflowID: "wf-1",
		Kind:       schedule.KindCron,
		CronExpr:   "0 * * * *",
		Timezone:   "UTC",
		Enabled:    true,
		NextRun:    now.Add(time.Hour),
		LastRun:    &last,
		RunCount:   3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	doc := scheduleDocument(entry)
	if doc.ID != entry.ID || doc.Kind != string(entry.Kind) || !doc.Enabled {
		t.Fatalf("scheduleDocument lost identity fields: %+v", doc)
	}

	back := doc.toEntry()
	if back.ID != entry.ID || back.Kind != entry.Kind || back.CronExpr != entry.CronExpr {
		t.Fatalf("toEntry mismatch: got %+v, want %+v", back, entry)
	}
	if back.LastRun == nil || !back.LastRun.Equal(last) {
		t.Fatalf("toEntry lost LastRun: got %+v", back.LastRun)
	}
	if back.RunCount != entry.RunCount {
		t.Fatalf("toEntry lost RunCount: got %d, want %d", back.RunCount, entry.RunCount)
	}
}
