// Package roles derives a coarse role classification from agent ids and
// definition content. The classification feeds the activation manager's
// singleton-role conflict policy: some roles allow only one active agent
// at a time, others (dev, qa) legitimately run in parallel.
//
// The derivation is a plain lookup table rather than inline control flow,
// and the singleton set is configuration: the historical id patterns are
// a heuristic, not a contract.
package roles

import "strings"

// Role is a coarse agent classification used for conflict policy.
type Role string

const (
	Architect  Role = "architect"
	PM         Role = "pm"
	PO         Role = "po"
	Dev        Role = "dev"
	QA         Role = "qa"
	Generalist Role = "generalist"
)

// phraseAliases match against the whole normalized id or content, so
// multi-word forms like "product owner" resolve before token matching.
var phraseAliases = []struct {
	phrase string
	role   Role
}{
	{"architect", Architect},
	{"product owner", PO},
	{"product manager", PM},
	{"project manager", PM},
	{"quality assurance", QA},
	{"developer", Dev},
	{"engineer", Dev},
}

// tokenAliases match single normalized tokens only, so short forms like
// "pm" cannot fire inside unrelated words.
var tokenAliases = map[string]Role{
	"architect": Architect,
	"pm":        PM,
	"po":        PO,
	"dev":       Dev,
	"developer": Dev,
	"engineer":  Dev,
	"qa":        QA,
	"tester":    QA,
	"quality":   QA,
}

// contentScanLimit bounds how much of a definition body Derive inspects.
const contentScanLimit = 4096

// Derive returns the role for an agent id, consulting the definition
// content when the id alone is inconclusive. Unmatched agents are
// Generalist, which is never a singleton role.
func Derive(id, content string) Role {
	if role, ok := match(id); ok {
		return role
	}
	if len(content) > contentScanLimit {
		content = content[:contentScanLimit]
	}
	if role, ok := match(content); ok {
		return role
	}
	return Generalist
}

// DeriveFromID is Derive without content inspection.
func DeriveFromID(id string) Role {
	if role, ok := match(id); ok {
		return role
	}
	return Generalist
}

func match(s string) (Role, bool) {
	normalized := normalize(s)
	for _, alias := range phraseAliases {
		if strings.Contains(normalized, alias.phrase) {
			return alias.role, true
		}
	}
	for _, token := range strings.Fields(normalized) {
		if role, ok := tokenAliases[token]; ok {
			return role, true
		}
	}
	return Generalist, false
}

func normalize(s string) string {
	s = strings.ToLower(s)
	replacer := strings.NewReplacer("-", " ", "_", " ", ".", " ", "/", " ", ":", " ")
	return replacer.Replace(s)
}

// Config holds the conflict-policy configuration for roles.
type Config struct {
	// Singleton lists roles permitted at most one active agent.
	Singleton []Role
}

// DefaultConfig returns the default singleton set. Dev and qa are
// deliberately absent: parallel instances of those are expected.
func DefaultConfig() Config {
	return Config{Singleton: []Role{Architect, PM, PO}}
}

// ConfigFromStrings builds a Config from configuration values, falling
// back to the default set when none are given.
func ConfigFromStrings(singleton []string) Config {
	if len(singleton) == 0 {
		return DefaultConfig()
	}
	cfg := Config{Singleton: make([]Role, 0, len(singleton))}
	for _, s := range singleton {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Singleton = append(cfg.Singleton, Role(strings.ToLower(s)))
		}
	}
	return cfg
}

// IsSingleton reports whether at most one agent of the role may be active.
func (c Config) IsSingleton(r Role) bool {
	for _, s := range c.Singleton {
		if s == r {
			return true
		}
	}
	return false
}
