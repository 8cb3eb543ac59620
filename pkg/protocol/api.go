// Package protocol defines the versioning API request/response types.
package protocol

import "encoding/json"

// Endpoint paths, relative to the admin API base URL.
const (
	ChangesPath = "/admin/versioning/changes"
	UpdatePath  = "/admin/versioning/update"
)

// ArchiveContentType tags archive request bodies.
const ArchiveContentType = "application/tar+gzip"

// Action is the kind of difference reported for a single remote path.
type Action string

const (
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "del"
)

// Known reports whether the action is one this client understands.
func (a Action) Known() bool {
	switch a {
	case ActionAdd, ActionEdit, ActionDelete:
		return true
	default:
		return false
	}
}

// ChangeRecord describes what pushing the archive would do to one remote path.
// Add and Del are line counts and only meaningful for ActionEdit.
type ChangeRecord struct {
	Path   string `json:"path"`
	Action Action `json:"action"`
	Add    int    `json:"add,omitempty"`
	Del    int    `json:"del,omitempty"`
}

// UnitResult is the dry-run outcome for one source unit on the remote side.
// LocalFiles are opaque bookkeeping descriptors and are never interpreted.
type UnitResult struct {
	Changes    []ChangeRecord    `json:"changes"`
	LocalFiles []json.RawMessage `json:"localFiles"`
}

// DryRunResult is returned by POST /admin/versioning/changes.
type DryRunResult []UnitResult

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// Text returns the most descriptive message in the response.
func (e ErrorResponse) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
