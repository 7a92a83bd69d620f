package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() HealthConfig {
	return HealthConfig{CheckInterval: time.Second, HeartbeatTimeout: time.Minute}
}

func TestRegisterAndGet(t *testing.T) {
	r := New(testConfig())
	r.Register(&Robot{ID: "r1", Name: "alpha", MaxConcurrentJobs: 2})

	got, err := r.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, got.Status)
	assert.False(t, got.RegisteredAt.IsZero())
	assert.NotNil(t, got.Capabilities)
}

func TestGetUnknownRobotReturnsNotFound(t *testing.T) {
	r := New(testConfig())
	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestHeartbeatBringsOfflineRobotBackOnline(t *testing.T) {
	r := New(testConfig())
	r.Register(&Robot{ID: "r1"})
	require.NoError(t, r.UpdateStatus("r1", StatusOffline))

	require.NoError(t, r.Heartbeat("r1"))

	got, err := r.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, got.Status)
}

func TestDeregisterRemovesRobot(t *testing.T) {
	r := New(testConfig())
	r.Register(&Robot{ID: "r1"})
	r.Deregister("r1")

	_, err := r.Get("r1")
	assert.Error(t, err)
}

func TestAssignJobIsIdempotent(t *testing.T) {
	r := New(testConfig())
	r.Register(&Robot{ID: "r1", MaxConcurrentJobs: 3})

	require.NoError(t, r.AssignJob("r1", "job-1"))
	require.NoError(t, r.AssignJob("r1", "job-1"))

	got, _ := r.Get("r1")
	assert.Equal(t, []string{"job-1"}, got.CurrentJobIDs)
}

func TestReleaseJobRemovesOnlyThatJob(t *testing.T) {
	r := New(testConfig())
	r.Register(&Robot{ID: "r1", MaxConcurrentJobs: 3})
	require.NoError(t, r.AssignJob("r1", "job-1"))
	require.NoError(t, r.AssignJob("r1", "job-2"))

	r.ReleaseJob("r1", "job-1")

	got, _ := r.Get("r1")
	assert.Equal(t, []string{"job-2"}, got.CurrentJobIDs)
}

func TestAvailableRobotsExcludesOfflineAndAtCapacity(t *testing.T) {
	r := New(testConfig())
	r.Register(&Robot{ID: "online-free", MaxConcurrentJobs: 2})
	r.Register(&Robot{ID: "online-full", MaxConcurrentJobs: 1, CurrentJobIDs: []string{"x"}})
	r.Register(&Robot{ID: "offline", MaxConcurrentJobs: 2})
	require.NoError(t, r.UpdateStatus("offline", StatusOffline))

	available := r.AvailableRobots(nil)

	ids := make([]string, len(available))
	for i, robot := range available {
		ids[i] = robot.ID
	}
	assert.Equal(t, []string{"online-free"}, ids)
}

func TestAvailableRobotsExcludesBusyRobotsEvenWithSpareCapacity(t *testing.T) {
	r := New(testConfig())
	r.Register(&Robot{ID: "busy-but-free", MaxConcurrentJobs: 4})
	require.NoError(t, r.UpdateStatus("busy-but-free", StatusBusy))
	r.Register(&Robot{ID: "online-free", MaxConcurrentJobs: 4})

	available := r.AvailableRobots(nil)

	ids := make([]string, len(available))
	for i, robot := range available {
		ids[i] = robot.ID
	}
	assert.Equal(t, []string{"online-free"}, ids)
}

func TestAvailableRobotsFiltersByCapability(t *testing.T) {
	r := New(testConfig())
	r.Register(&Robot{ID: "browser-robot", MaxConcurrentJobs: 1, Capabilities: map[Capability]bool{CapabilityBrowser: true}})
	r.Register(&Robot{ID: "desktop-robot", MaxConcurrentJobs: 1, Capabilities: map[Capability]bool{CapabilityDesktop: true}})

	available := r.AvailableRobots([]Capability{CapabilityBrowser})
	require.Len(t, available, 1)
	assert.Equal(t, "browser-robot", available[0].ID)
}

func TestAvailableRobotsOrdersByAscendingUtilizationThenID(t *testing.T) {
	r := New(testConfig())
	r.Register(&Robot{ID: "b", MaxConcurrentJobs: 4, CurrentJobIDs: []string{"j1"}})
	r.Register(&Robot{ID: "a", MaxConcurrentJobs: 4, CurrentJobIDs: []string{"j1"}})
	r.Register(&Robot{ID: "c", MaxConcurrentJobs: 4})

	available := r.AvailableRobots(nil)

	ids := make([]string, len(available))
	for i, robot := range available {
		ids[i] = robot.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestRunHealthSweepMarksStaleRobotsOfflineAndReportsOrphans(t *testing.T) {
	r := New(HealthConfig{CheckInterval: time.Second, HeartbeatTimeout: 10 * time.Second})
	r.Register(&Robot{ID: "r1", CurrentJobIDs: []string{"job-1", "job-2"}})

	stale, _ := r.Get("r1")
	_ = stale

	r.mu.Lock()
	r.robots["r1"].LastHeartbeat = time.Now().Add(-time.Minute)
	r.mu.Unlock()

	var reportedID string
	var reportedJobs []string
	r.OnOffline(func(robotID string, orphanedJobIDs []string) {
		reportedID = robotID
		reportedJobs = orphanedJobIDs
	})

	r.RunHealthSweep(time.Now())

	assert.Equal(t, "r1", reportedID)
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, reportedJobs)

	got, err := r.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, got.Status)
	assert.Empty(t, got.CurrentJobIDs)
}

func TestRunHealthSweepIgnoresFreshHeartbeats(t *testing.T) {
	r := New(HealthConfig{CheckInterval: time.Second, HeartbeatTimeout: time.Minute})
	r.Register(&Robot{ID: "r1"})

	called := false
	r.OnOffline(func(string, []string) { called = true })

	r.RunHealthSweep(time.Now())

	assert.False(t, called)
	got, _ := r.Get("r1")
	assert.Equal(t, StatusOnline, got.Status)
}
