// Package changes classifies dry-run results into blocking and non-blocking
// changes and renders them for the operator.
package changes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bundlepush/bundlepush/pkg/protocol"
)

// Classified is the flattened view of a dry-run result.
type Classified struct {
	// All holds every record in source-unit order.
	All []protocol.ChangeRecord
	// Blocking is the subsequence of All that edits or deletes a remote path.
	Blocking []protocol.ChangeRecord
	// LocalFiles holds the opaque descriptors of every unit, flattened.
	LocalFiles []json.RawMessage
	// Unknown holds records whose action this client does not understand.
	// They are neither blocking nor rendered.
	Unknown []protocol.ChangeRecord
}

// HasBlocking reports whether pushing would overwrite remote changes.
func (c Classified) HasBlocking() bool {
	return len(c.Blocking) > 0
}

// Classify flattens a dry-run result and partitions its changes.
func Classify(result protocol.DryRunResult) Classified {
	var c Classified
	for _, unit := range result {
		c.All = append(c.All, unit.Changes...)
		c.LocalFiles = append(c.LocalFiles, unit.LocalFiles...)
	}

	for _, rec := range c.All {
		if IsBlocking(rec.Action) {
			c.Blocking = append(c.Blocking, rec)
		}
		if !rec.Action.Known() {
			c.Unknown = append(c.Unknown, rec)
		}
	}
	return c
}

// IsBlocking reports whether a change with this action overwrites something
// on the remote side that the operator may not have.
func IsBlocking(a protocol.Action) bool {
	switch a {
	case protocol.ActionEdit, protocol.ActionDelete:
		return true
	case protocol.ActionAdd:
		return false
	default:
		return false
	}
}

// RenderLine formats one change for display. Unknown actions render empty.
func RenderLine(rec protocol.ChangeRecord) string {
	switch rec.Action {
	case protocol.ActionAdd:
		return " + " + rec.Path
	case protocol.ActionDelete:
		return " - " + rec.Path
	case protocol.ActionEdit:
		return fmt.Sprintf(" o %s (+%d / -%d)", rec.Path, rec.Add, rec.Del)
	default:
		return ""
	}
}

// Render formats records one per line, without a trailing newline.
func Render(records []protocol.ChangeRecord) string {
	lines := make([]string, len(records))
	for i, rec := range records {
		lines[i] = RenderLine(rec)
	}
	return strings.Join(lines, "\n")
}
