package agent

import "github.com/pkg/errors"

// Sentinel errors for the lifecycle failure taxonomy. The recovery handler
// matches these with errors.Is before falling back to message inspection,
// so wrap them (errors.Wrap) rather than reformatting their text.
var (
	// ErrAgentNotFound reports an id with no registry record.
	ErrAgentNotFound = errors.New("agent not found in registry")

	// ErrHandlerFailed reports an activation handler that returned an
	// error or could not be invoked.
	ErrHandlerFailed = errors.New("activation handler failed")

	// ErrResourceLoading reports a failure while loading steering, hook,
	// or file-context resources for an instance.
	ErrResourceLoading = errors.New("resource loading failed")

	// ErrResourceExhausted reports the active-agent ceiling being hit.
	// This is a hard limit: not retried, not degraded.
	ErrResourceExhausted = errors.New("maximum concurrent agents reached")

	// ErrRoleConflict reports a singleton-role collision between the
	// candidate and an already-active agent.
	ErrRoleConflict = errors.New("conflicting active agent role")

	// ErrPermissionDenied reports an access failure from the underlying
	// store. Never auto-recovered.
	ErrPermissionDenied = errors.New("permission denied")
)
