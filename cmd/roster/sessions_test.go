package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhq/roster/pkg/activation"
	"github.com/rosterhq/roster/pkg/roles"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

func testInstances() []*activation.Instance {
	activated := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	return []*activation.Instance{
		{
			ID:          "01JWT0000000000000000000DEV",
			AgentID:     "dev",
			Name:        "Developer",
			Role:        roles.Dev,
			Source:      agenttypes.CoreSource(),
			State:       activation.StateActive,
			ActivatedAt: activated,
		},
		{
			ID:          "01JWT00000000000000000000QA",
			AgentID:     "qa",
			Name:        "Tester",
			Role:        roles.QA,
			Source:      agenttypes.CoreSource(),
			State:       activation.StateActive,
			ActivatedAt: activated.Add(time.Minute),
			Degraded:    true,
			Limitations: []string{"resource bundle incomplete"},
		},
	}
}

func TestSessionListOutputRenderJSON(t *testing.T) {
	output := NewSessionListOutput(testInstances(), JSONFormat)

	var buf bytes.Buffer
	require.NoError(t, output.Render(&buf))

	var parsed struct {
		Sessions []*activation.Instance `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))

	require.Len(t, parsed.Sessions, 2)
	assert.Equal(t, "dev", parsed.Sessions[0].AgentID)
	assert.Equal(t, roles.Dev, parsed.Sessions[0].Role)
	assert.False(t, parsed.Sessions[0].Degraded)

	assert.Equal(t, "qa", parsed.Sessions[1].AgentID)
	assert.True(t, parsed.Sessions[1].Degraded)
	assert.Equal(t, []string{"resource bundle incomplete"}, parsed.Sessions[1].Limitations)
}

func TestSessionListOutputRenderTable(t *testing.T) {
	output := NewSessionListOutput(testInstances(), TableFormat)

	var buf bytes.Buffer
	require.NoError(t, output.Render(&buf))

	rendered := buf.String()
	assert.Contains(t, rendered, "Session")
	assert.Contains(t, rendered, "dev")
	assert.Contains(t, rendered, "qa")
	assert.Contains(t, rendered, "active")
	assert.Contains(t, rendered, "2026-06-01T09:30:00Z")
}
