package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rosterhq/roster/pkg/resolver"
)

const testManifest = `
dependencies:
  - name: go-style
    version: "1.0.0"
    requester: dev
  - name: go-style
    version: "2.0.0"
    requester: qa
  - name: go-style
    version: "1.0.0"
    requester: architect
  - name: review-checklist
    version: "1.0.0"
    requester: dev
`

func TestDependencyManifestParsing(t *testing.T) {
	var manifest dependencyManifest
	require.NoError(t, yaml.Unmarshal([]byte(testManifest), &manifest))

	require.Len(t, manifest.Dependencies, 4)
	assert.Equal(t, resolver.DependencyRecord{
		Name:      "go-style",
		Version:   "1.0.0",
		Requester: "dev",
	}, manifest.Dependencies[0])
}

func TestManifestConflictDetection(t *testing.T) {
	var manifest dependencyManifest
	require.NoError(t, yaml.Unmarshal([]byte(testManifest), &manifest))

	conflicts := resolver.ResolveConflicts(manifest.Dependencies)

	require.Len(t, conflicts, 1)
	conflict := conflicts[0]
	assert.Equal(t, "go-style", conflict.Name)
	assert.Equal(t, []string{"1.0.0", "2.0.0"}, conflict.Versions)
	assert.Equal(t, []string{"architect", "dev", "qa"}, conflict.Requesters)
	require.NotEmpty(t, conflict.Suggestions)
	// Two requesters pin 1.0.0 against one on 2.0.0
	assert.Contains(t, conflict.Suggestions[0], "1.0.0")
}
