package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConflicts(t *testing.T) {
	records := []DependencyRecord{
		{Name: "create-doc", Version: "1.0.0", Requester: "core"},
		{Name: "create-doc", Version: "2.0.0", Requester: "pack:game"},
		{Name: "create-doc", Version: "2.0.0", Requester: "pack:audio"},
		{Name: "qa-checklist", Version: "1.0.0", Requester: "core"},
		{Name: "qa-checklist", Version: "1.0.0", Requester: "pack:game"},
	}

	conflicts := ResolveConflicts(records)

	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, "create-doc", c.Name)
	assert.Equal(t, []string{"1.0.0", "2.0.0"}, c.Versions)
	assert.Equal(t, []string{"core", "pack:audio", "pack:game"}, c.Requesters)
	require.Len(t, c.Suggestions, 2)
	assert.Contains(t, c.Suggestions[0], "2.0.0")
}

func TestResolveConflictsNone(t *testing.T) {
	records := []DependencyRecord{
		{Name: "create-doc", Version: "1.0.0", Requester: "core"},
		{Name: "create-doc", Version: "1.0.0", Requester: "pack:game"},
	}

	assert.Empty(t, ResolveConflicts(records))
	assert.Empty(t, ResolveConflicts(nil))
}

func TestResolveConflictsSkipsUnnamed(t *testing.T) {
	records := []DependencyRecord{
		{Name: "", Version: "1.0.0", Requester: "core"},
		{Name: "", Version: "2.0.0", Requester: "pack:game"},
	}

	assert.Empty(t, ResolveConflicts(records))
}

func TestResolveConflictsDuplicateRequesterDeduped(t *testing.T) {
	records := []DependencyRecord{
		{Name: "tmpl", Version: "1.0.0", Requester: "core"},
		{Name: "tmpl", Version: "2.0.0", Requester: "core"},
	}

	conflicts := ResolveConflicts(records)

	require.Len(t, conflicts, 1)
	assert.Equal(t, []string{"core"}, conflicts[0].Requesters)
	// Tie on requester count falls back to the higher version.
	assert.Contains(t, conflicts[0].Suggestions[0], "2.0.0")
}
