package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrdering(t *testing.T) {
	assert.True(t, PriorityLow < PriorityMedium)
	assert.True(t, PriorityMedium < PriorityHigh)
	assert.True(t, PriorityHigh < PriorityCritical)
}

func TestPriorityJSONRoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		data, err := json.Marshal(p)
		require.NoError(t, err)

		var back Priority
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, p, back)
	}
}

func TestParsePriority_Unknown(t *testing.T) {
	_, err := ParsePriority("urgent-ish")
	assert.Error(t, err)
}

func TestAgentHasSkills(t *testing.T) {
	agent := &Agent{
		ID: "agent-1",
		Skills: map[Capability]float64{
			CapSMSIntegration:     0.9,
			CapCalendarManagement: 0.7,
		},
	}

	assert.True(t, agent.HasSkills([]Capability{CapSMSIntegration}))
	assert.True(t, agent.HasSkills([]Capability{CapSMSIntegration, CapCalendarManagement}))
	assert.False(t, agent.HasSkills([]Capability{CapMemoryManagement}))
	assert.True(t, agent.HasSkills(nil))
}

func TestAgentUtilization(t *testing.T) {
	agent := &Agent{MaxConcurrent: 4, CurrentLoad: 1}
	assert.InDelta(t, 0.25, agent.Utilization(), 0.001)

	// Zero capacity counts as saturated, never divides by zero.
	broken := &Agent{MaxConcurrent: 0, CurrentLoad: 0}
	assert.Equal(t, 1.0, broken.Utilization())
}

func TestAgentClone_Detached(t *testing.T) {
	agent := &Agent{
		ID:     "agent-1",
		Skills: map[Capability]float64{CapSMSIntegration: 0.9},
	}

	cp := agent.Clone()
	cp.Skills[CapSMSIntegration] = 0.1

	assert.Equal(t, 0.9, agent.Skills[CapSMSIntegration])
}

func TestRegisterCapability(t *testing.T) {
	require.NoError(t, RegisterCapability("voice-transcription"))
	assert.True(t, ValidCapability("voice-transcription"))

	assert.Error(t, RegisterCapability(""))
	assert.Error(t, RegisterCapability("Mixed-Case"))
	assert.Error(t, RegisterCapability(" padded "))
}

func TestSkillSetKey_OrderIndependent(t *testing.T) {
	a := SkillSetKey([]Capability{CapSMSIntegration, CapCalendarManagement})
	b := SkillSetKey([]Capability{CapCalendarManagement, CapSMSIntegration})
	assert.Equal(t, a, b)
}

func TestSkillWeightDefault(t *testing.T) {
	task := &TaskRequest{
		RequiredSkills: []Capability{CapSMSIntegration},
		SkillWeights:   map[Capability]float64{CapSMSIntegration: 2.5},
	}
	assert.Equal(t, 2.5, task.SkillWeight(CapSMSIntegration))
	assert.Equal(t, 1.0, task.SkillWeight(CapCalendarManagement))
}
