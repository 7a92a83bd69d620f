package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/registry"
	"github.com/linkflow-ai/linkflow-ai/internal/shared/apperrors"
)

func newTestRegistry() *registry.Registry {
	reg := registry.New(registry.DefaultHealthConfig)
	reg.Register(&registry.Robot{ID: "r1", MaxConcurrentJobs: 2, Capabilities: map[registry.Capability]bool{registry.CapabilityBrowser: true}})
	reg.Register(&registry.Robot{ID: "r2", MaxConcurrentJobs: 2, Capabilities: map[registry.Capability]bool{registry.CapabilityDesktop: true}})
	return reg
}

func TestSelectExplicitOverride(t *testing.T) {
	reg := newTestRegistry()
	robotID, err := Select(reg, Request{Override: &Override{RobotID: "r1"}})
	require.NoError(t, err)
	assert.Equal(t, "r1", robotID)
}

func TestSelectExplicitOverrideMissingCapabilityFails(t *testing.T) {
	reg := newTestRegistry()
	_, err := Select(reg, Request{
		Override:             &Override{RobotID: "r1"},
		RequiredCapabilities: []registry.Capability{registry.CapabilityGPU},
	})
	assert.ErrorIs(t, err, apperrors.ErrNoAvailableRobot)
}

func TestSelectExplicitOverrideUnknownRobot(t *testing.T) {
	reg := newTestRegistry()
	_, err := Select(reg, Request{Override: &Override{RobotID: "ghost"}})
	var notFound *RobotNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestSelectCapabilityOverrideRestrictsCandidates(t *testing.T) {
	reg := newTestRegistry()
	robotID, err := Select(reg, Request{Override: &Override{Capabilities: []registry.Capability{registry.CapabilityDesktop}}})
	require.NoError(t, err)
	assert.Equal(t, "r2", robotID)
}

func TestSelectAssignmentPrefersHighestPriority(t *testing.T) {
	reg := newTestRegistry()
	robotID, err := Select(reg, Request{
		Assignments: []Assignment{
			{RobotID: "r1", Priority: 1},
			{RobotID: "r2", Priority: 5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "r2", robotID)
}

func TestSelectAssignmentTieBreaksOnIsDefault(t *testing.T) {
	reg := newTestRegistry()
	robotID, err := Select(reg, Request{
		Assignments: []Assignment{
			{RobotID: "r1", Priority: 3, IsDefault: false},
			{RobotID: "r2", Priority: 3, IsDefault: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "r2", robotID)
}

func TestSelectFallsBackToAutoSelectWhenAssignmentUnavailable(t *testing.T) {
	reg := newTestRegistry()
	robotID, err := Select(reg, Request{
		Assignments: []Assignment{{RobotID: "ghost", Priority: 10}},
	})
	require.NoError(t, err)
	assert.Contains(t, []string{"r1", "r2"}, robotID)
}

func TestSelectAutoSelectNoCandidatesReturnsNoAvailableRobot(t *testing.T) {
	reg := registry.New(registry.DefaultHealthConfig)
	_, err := Select(reg, Request{RequiredCapabilities: []registry.Capability{registry.CapabilityGPU}})
	assert.ErrorIs(t, err, apperrors.ErrNoAvailableRobot)
}

func TestScoreReportsReasonsPerRobot(t *testing.T) {
	reg := newTestRegistry()
	scores := Score(reg, []registry.Capability{registry.CapabilityBrowser})

	byID := make(map[string]ScoreEntry, len(scores))
	for _, s := range scores {
		byID[s.RobotID] = s
	}
	assert.True(t, byID["r1"].Eligible)
	assert.False(t, byID["r2"].Eligible)
	assert.Equal(t, "missing required capability", byID["r2"].Reason)
}
