package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kova-lang/kova/internal/typesystem"
)

// ErrWorldsFrozen is returned by structural changes after DisableNewWorlds.
var ErrWorldsFrozen = errors.New("method changes have been disabled via a call to DisableNewWorlds")

// ErrSnapshotInProgress is returned by structural changes attempted while
// the table is being serialized.
var ErrSnapshotInProgress = errors.New("method table changes are forbidden while a snapshot is being written")

// ErrMethodDisabled is returned when disabling a method that is already
// disabled.
var ErrMethodDisabled = errors.New("method already disabled")

// ErrMethodNotFound is returned when a method being disabled or activated is
// not present in the table.
var ErrMethodNotFound = errors.New("method not in method table")

// ErrMethodActivated is returned when activating a definition that was
// already made visible.
var ErrMethodActivated = errors.New("method already activated")

// ErrTooManyMatches is the overflow sentinel from Matches: more matches
// exist than the requested limit. Callers must not treat any partial result
// as complete and must not cache.
var ErrTooManyMatches = errors.New("too many matches")

// MethodError reports that no applicable (or no unambiguous) method exists
// for a call. Fatal to the call, not to the process.
type MethodError struct {
	Func      typesystem.Value
	Args      []typesystem.Value
	World     uint64
	Ambiguous bool
}

func (e *MethodError) Error() string {
	var sb strings.Builder
	if e.Ambiguous {
		sb.WriteString("ambiguous method call: ")
	} else {
		sb.WriteString("no method matching ")
	}
	if e.Func != nil {
		sb.WriteString(e.Func.TypeOf().String())
	}
	sb.WriteString("(")
	for i, a := range e.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("::" + a.TypeOf().String())
	}
	fmt.Fprintf(&sb, ") in world %d", e.World)
	return sb.String()
}
