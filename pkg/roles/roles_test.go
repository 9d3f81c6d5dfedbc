package roles

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		content  string
		expected Role
	}{
		{
			name:     "architect id",
			id:       "architect",
			expected: Architect,
		},
		{
			name:     "prefixed architect id",
			id:       "game-architect",
			expected: Architect,
		},
		{
			name:     "pm token",
			id:       "pm",
			expected: PM,
		},
		{
			name:     "pm token inside hyphenated id",
			id:       "release-pm",
			expected: PM,
		},
		{
			name:     "pm not matched inside unrelated word",
			id:       "shipment-tracker",
			expected: Generalist,
		},
		{
			name:     "product owner phrase with hyphen",
			id:       "product-owner",
			expected: PO,
		},
		{
			name:     "po token",
			id:       "po",
			expected: PO,
		},
		{
			name:     "dev token",
			id:       "dev",
			expected: Dev,
		},
		{
			name:     "developer phrase",
			id:       "senior-developer",
			expected: Dev,
		},
		{
			name:     "engineer phrase",
			id:       "platform-engineer",
			expected: Dev,
		},
		{
			name:     "qa token",
			id:       "qa",
			expected: QA,
		},
		{
			name:     "quality assurance phrase",
			id:       "quality-assurance",
			expected: QA,
		},
		{
			name:     "tester token",
			id:       "ui-tester",
			expected: QA,
		},
		{
			name:     "underscore separators",
			id:       "lead_architect_v2",
			expected: Architect,
		},
		{
			name:     "mixed case id",
			id:       "Product-Manager",
			expected: PM,
		},
		{
			name:     "unmatched id falls back to generalist",
			id:       "helper",
			expected: Generalist,
		},
		{
			name:     "empty id and content",
			id:       "",
			content:  "",
			expected: Generalist,
		},
		{
			name:     "content used when id inconclusive",
			id:       "winston",
			content:  "# Winston\n\nActs as the system architect for the team.",
			expected: Architect,
		},
		{
			name:     "id wins over content",
			id:       "qa",
			content:  "Pairs with the architect on reviews.",
			expected: QA,
		},
		{
			name:     "phrase beats token ordering",
			id:       "product-owner-dev-liaison",
			expected: PO,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Derive(tt.id, tt.content))
		})
	}
}

func TestDeriveContentScanBounded(t *testing.T) {
	// Role keyword placed past the scan limit must not match.
	content := strings.Repeat("x", contentScanLimit) + " architect"
	assert.Equal(t, Generalist, Derive("winston", content))

	// Inside the limit it does.
	content = "architect " + strings.Repeat("x", contentScanLimit)
	assert.Equal(t, Architect, Derive("winston", content))
}

func TestDeriveFromID(t *testing.T) {
	assert.Equal(t, PM, DeriveFromID("sprint-pm"))
	assert.Equal(t, Generalist, DeriveFromID("sidekick"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.IsSingleton(Architect))
	assert.True(t, cfg.IsSingleton(PM))
	assert.True(t, cfg.IsSingleton(PO))
	assert.False(t, cfg.IsSingleton(Dev))
	assert.False(t, cfg.IsSingleton(QA))
	assert.False(t, cfg.IsSingleton(Generalist))
}

func TestConfigFromStrings(t *testing.T) {
	t.Run("empty falls back to default", func(t *testing.T) {
		cfg := ConfigFromStrings(nil)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("explicit set replaces default", func(t *testing.T) {
		cfg := ConfigFromStrings([]string{"dev"})
		assert.True(t, cfg.IsSingleton(Dev))
		assert.False(t, cfg.IsSingleton(Architect))
	})

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		cfg := ConfigFromStrings([]string{" Architect ", "QA", ""})
		assert.True(t, cfg.IsSingleton(Architect))
		assert.True(t, cfg.IsSingleton(QA))
		assert.Len(t, cfg.Singleton, 2)
	})
}
