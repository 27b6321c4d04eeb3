// Package bridge exposes trained decision trees to foreign simulators
// through opaque handles.
package bridge

import (
	"runtime/cgo"

	"github.com/sirupsen/logrus"

	"github.com/whisker-sim/whisker-sim/sim"
	"github.com/whisker-sim/whisker-sim/sim/whisker"
)

// Handle identifies one loaded tree. It is opaque to the caller and
// integer-sized, so it crosses a C boundary unchanged.
type Handle = cgo.Handle

// NativeAction is the fixed-width record returned to the foreign caller:
// the congestion window to switch to and the pacing gap in seconds.
type NativeAction struct {
	NewWindow        uint32
	IntersendSeconds float64
}

// Load decodes a DNA artifact and registers the tree for GetAction. The
// caller owns the returned handle and must release it with Free exactly
// once.
func Load(path string) (Handle, error) {
	tree, err := whisker.Load(path)
	if err != nil {
		return 0, err
	}
	logrus.Debugf("loaded policy %q: %d leaves over %s", path, tree.NumLeaves(), tree.Domain())
	return cgo.NewHandle(tree), nil
}

// Free releases the tree behind h. Freeing a handle twice, or using it
// after Free, is a caller error the bridge does not detect; the hot path
// stays free of liveness checks.
func Free(h Handle) {
	h.Delete()
}

// GetAction consults the tree for the given observation and applies the
// matched action to currentWindow. It never mutates the tree and is safe
// to call concurrently against one handle. An observation outside the
// tree's domain returns a DomainError; trained artifacts are expected to
// cover theirs, so this is a precondition violation rather than a
// recoverable case.
func GetAction(h Handle, ackEWMAMillis, sendEWMAMillis, rttRatio float64, currentWindow uint32) (NativeAction, error) {
	tree := h.Value().(*whisker.Tree)
	action, err := tree.Act(sim.Observation{
		AckEWMA:  ackEWMAMillis,
		SendEWMA: sendEWMAMillis,
		RTTRatio: rttRatio,
	}, currentWindow)
	if err != nil {
		return NativeAction{}, err
	}
	return NativeAction{
		NewWindow:        action.Apply(currentWindow),
		IntersendSeconds: action.IntersendSeconds,
	}, nil
}
