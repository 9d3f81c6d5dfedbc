package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceString(t *testing.T) {
	assert.Equal(t, "core", CoreSource().String())
	assert.Equal(t, "pack:game", PackSource("game").String())
}

func TestDependencyCount(t *testing.T) {
	def := Definition{
		Dependencies: map[string][]string{
			"tasks":     {"create-doc", "review-design"},
			"templates": {"arch-tmpl"},
		},
	}
	assert.Equal(t, 3, def.DependencyCount())
	assert.Equal(t, 0, Definition{}.DependencyCount())
}

func TestActivationContextClone(t *testing.T) {
	original := ActivationContext{"task": "review", "depth": 2}
	clone := original.Clone()
	clone["task"] = "implement"

	assert.Equal(t, "review", original["task"])
	assert.Equal(t, "implement", clone["task"])
	assert.Equal(t, 2, clone["depth"])
}
