// Package recovery classifies activation failures and drives the
// bounded retry and fallback behavior around them. Every failure maps
// to a category with a fixed severity, troubleshooting steps, and
// manual override options; the categories that are safe to retry are
// retried with backoff behind a per-agent circuit breaker.
package recovery

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// Category identifies a class of activation failure.
type Category string

const (
	CategoryAgentNotFound     Category = "agent-not-found"
	CategoryHandlerFailed     Category = "activation-handler-failed"
	CategoryResourceLoading   Category = "resource-loading-failed"
	CategoryResourceExhausted Category = "resource-exhausted"
	CategoryRoleConflict      Category = "role-conflict"
	CategoryPermissionDenied  Category = "permission-denied"
	CategoryUnknown           Category = "unknown"
)

// Severity ranks how loudly a failure should be surfaced.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Risk rates how dangerous a manual override is to apply.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// ManualOverride is an action the user can take to get past a failure
// that the handler will not resolve automatically.
type ManualOverride struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Risk        Risk   `json:"risk"`
	Action      string `json:"action"`
}

// Phase tells the classifier where in the activation flow the error
// surfaced, used when the error itself carries no recognizable marker.
type Phase string

const (
	PhaseLookup    Phase = "lookup"
	PhaseAdmission Phase = "admission"
	PhaseResources Phase = "resources"
	PhaseHandler   Phase = "handler"
	PhaseState     Phase = "state"
)

// Descriptor is the fixed recovery posture for a category.
type Descriptor struct {
	Category             Category         `json:"category"`
	Severity             Severity         `json:"severity"`
	Recoverable          bool             `json:"recoverable"`
	Message              string           `json:"message"`
	TroubleshootingSteps []string         `json:"troubleshooting_steps,omitempty"`
	ManualOverrides      []ManualOverride `json:"manual_overrides,omitempty"`

	// fallbackSuggested marks categories where a degraded session is
	// still worth offering after recovery fails.
	fallbackSuggested bool
}

var descriptors = map[Category]Descriptor{
	CategoryAgentNotFound: {
		Category:          CategoryAgentNotFound,
		Severity:          SeverityError,
		Recoverable:       false,
		fallbackSuggested: true,
		Message:           "no agent definition is registered under this id",
		TroubleshootingSteps: []string{
			"Run `roster list` to see every registered agent id.",
			"Check the id for typos; ids are lowercase slugs such as `dev` or `game-designer`.",
			"If the definition file is new, confirm it lives under `.roster/agents/` or a pack's `agents/` directory.",
		},
		ManualOverrides: []ManualOverride{
			{
				ID:          "activate-generic",
				Title:       "Activate with generic guidance only",
				Description: "Starts a session without a persona definition; only generic workflow guidance is loaded.",
				Risk:        RiskLow,
				Action:      "re-run the activation and accept the generic fallback",
			},
		},
	},
	CategoryHandlerFailed: {
		Category:          CategoryHandlerFailed,
		Severity:          SeverityError,
		Recoverable:       true,
		fallbackSuggested: true,
		Message:           "the activation handler returned an error",
		TroubleshootingSteps: []string{
			"Re-run with `--log-level debug` to capture the full activation trace.",
			"Run `roster validate` to check the definition for structural problems.",
			"If the handler is custom, inspect its own logs for the underlying failure.",
		},
		ManualOverrides: []ManualOverride{
			{
				ID:          "skip-handler",
				Title:       "Register the session without running the handler",
				Description: "The session starts but persona setup steps are skipped, so behavior may be incomplete.",
				Risk:        RiskMedium,
				Action:      "retry the activation with handler execution disabled",
			},
		},
	},
	CategoryResourceLoading: {
		Category:          CategoryResourceLoading,
		Severity:          SeverityWarning,
		Recoverable:       true,
		fallbackSuggested: true,
		Message:           "steering documents or hooks could not be loaded",
		TroubleshootingSteps: []string{
			"Check read permissions on the `.roster/steering/` and `.roster/hooks/` directories.",
			"Run `roster resolve <id>` to see which dependencies are missing.",
			"Validate the frontmatter of recently edited steering documents.",
		},
		ManualOverrides: []ManualOverride{
			{
				ID:          "activate-degraded",
				Title:       "Activate without the resource bundle",
				Description: "The agent runs with its definition only; steering and hooks are skipped until reloaded.",
				Risk:        RiskLow,
				Action:      "accept the degraded activation",
			},
		},
	},
	CategoryResourceExhausted: {
		Category:    CategoryResourceExhausted,
		Severity:    SeverityWarning,
		Recoverable: false,
		Message:     "the concurrent agent limit has been reached",
		TroubleshootingSteps: []string{
			"Run `roster sessions` to list the active agents.",
			"Deactivate an idle agent with `roster deactivate <id>`.",
			"Raise the ceiling with `--max-active` or the `max_active` config key.",
		},
		ManualOverrides: []ManualOverride{
			{
				ID:          "deactivate-idle",
				Title:       "Deactivate the longest-idle agent",
				Description: "Frees a slot by ending the session that has gone longest without activity.",
				Risk:        RiskMedium,
				Action:      "roster deactivate <idle-agent-id>",
			},
			{
				ID:          "raise-limit",
				Title:       "Raise the concurrency ceiling",
				Description: "Allows more simultaneous agents at the cost of more competing context.",
				Risk:        RiskMedium,
				Action:      "re-run with --max-active set above the current limit",
			},
		},
	},
	CategoryRoleConflict: {
		Category:    CategoryRoleConflict,
		Severity:    SeverityWarning,
		Recoverable: false,
		Message:     "another active agent already holds this singleton role",
		TroubleshootingSteps: []string{
			"Run `roster sessions` to see which agent holds the role.",
			"Deactivate the current holder, or activate an agent with a different role.",
			"Adjust `singleton_roles` in the configuration if this role should allow duplicates.",
		},
		ManualOverrides: []ManualOverride{
			{
				ID:          "evict-oldest",
				Title:       "Replace the current role holder",
				Description: "Deactivates the agent that has held the role longest and activates the new one.",
				Risk:        RiskMedium,
				Action:      "retry the activation with the evict-oldest conflict policy",
			},
			{
				ID:          "downgrade-new",
				Title:       "Activate the new agent outside the role",
				Description: "The new agent starts as a generalist so the current holder keeps the role.",
				Risk:        RiskLow,
				Action:      "retry the activation with the downgrade conflict policy",
			},
			{
				ID:          "allow-duplicate",
				Title:       "Permit duplicate holders of this role",
				Description: "Both agents stay active with the same role; their outputs may contradict each other.",
				Risk:        RiskHigh,
				Action:      "remove the role from singleton_roles and retry",
			},
		},
	},
	CategoryPermissionDenied: {
		Category:    CategoryPermissionDenied,
		Severity:    SeverityCritical,
		Recoverable: false,
		Message:     "filesystem permissions blocked the operation",
		TroubleshootingSteps: []string{
			"Check ownership and mode of the `.roster` directory and its contents.",
			"Confirm the session state path is writable by the current user.",
		},
		ManualOverrides: []ManualOverride{
			{
				ID:          "relocate-state",
				Title:       "Move session state to a writable location",
				Description: "Keeps everything else in place; only persisted sessions move.",
				Risk:        RiskMedium,
				Action:      "re-run with --state-path pointing at a writable directory",
			},
			{
				ID:          "fix-ownership",
				Title:       "Repair directory ownership",
				Description: "Changes ownership of the workspace directories back to the current user.",
				Risk:        RiskHigh,
				Action:      "chown -R the .roster directory, then retry",
			},
		},
	},
	CategoryUnknown: {
		Category:    CategoryUnknown,
		Severity:    SeverityError,
		Recoverable: false,
		Message:     "the activation failed for an unrecognized reason",
		TroubleshootingSteps: []string{
			"Re-run with `--log-level debug` and inspect the full error chain.",
			"If the failure repeats, file an issue with the debug output attached.",
		},
	},
}

// Describe returns the recovery posture for a category. Unrecognized
// categories get the unknown descriptor.
func Describe(c Category) Descriptor {
	if d, ok := descriptors[c]; ok {
		return d
	}
	return descriptors[CategoryUnknown]
}

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryAgentNotFound,
		CategoryHandlerFailed,
		CategoryResourceLoading,
		CategoryResourceExhausted,
		CategoryRoleConflict,
		CategoryPermissionDenied,
		CategoryUnknown,
	}
}

// messagePatterns maps error text fragments to categories for errors
// that arrive without a recognizable sentinel. Checked in order.
var messagePatterns = []struct {
	pattern  string
	category Category
}{
	{"permission denied", CategoryPermissionDenied},
	{"operation not permitted", CategoryPermissionDenied},
	{"read-only file system", CategoryPermissionDenied},
	{"maximum concurrent", CategoryResourceExhausted},
	{"too many active", CategoryResourceExhausted},
	{"singleton role", CategoryRoleConflict},
	{"role conflict", CategoryRoleConflict},
	{"no agent", CategoryAgentNotFound},
	{"unknown agent", CategoryAgentNotFound},
}

// Classify maps an error to a failure category. Wrapped sentinels win,
// then well-known message fragments, then the phase the error surfaced
// in. Anything left is unknown.
func Classify(err error, phase Phase) Category {
	if err == nil {
		return CategoryUnknown
	}

	switch {
	case errors.Is(err, agenttypes.ErrAgentNotFound):
		return CategoryAgentNotFound
	case errors.Is(err, agenttypes.ErrHandlerFailed):
		return CategoryHandlerFailed
	case errors.Is(err, agenttypes.ErrResourceLoading):
		return CategoryResourceLoading
	case errors.Is(err, agenttypes.ErrResourceExhausted):
		return CategoryResourceExhausted
	case errors.Is(err, agenttypes.ErrRoleConflict):
		return CategoryRoleConflict
	case errors.Is(err, agenttypes.ErrPermissionDenied), errors.Is(err, os.ErrPermission):
		return CategoryPermissionDenied
	}

	lower := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if strings.Contains(lower, p.pattern) {
			return p.category
		}
	}

	switch phase {
	case PhaseHandler:
		return CategoryHandlerFailed
	case PhaseResources:
		return CategoryResourceLoading
	}

	return CategoryUnknown
}
