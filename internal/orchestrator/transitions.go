package orchestrator

import (
	"errors"
	"fmt"

	"github.com/book-expert/voice-clone-service/internal/core"
)

// ErrIllegalTransition indicates an attempted state change outside the
// lifecycle table. It is a programming error, not a job failure.
var ErrIllegalTransition = errors.New("illegal state transition")

// legalTransitions is the complete lifecycle table. No transition skips a
// state and no transition leaves a terminal state. The synthesizing self-loop
// is the once-only OOM retry on CPU.
var legalTransitions = map[core.JobState][]core.JobState{
	core.StatePending:      {core.StateValidating},
	core.StateValidating:   {core.StateSynthesizing, core.StateFailed},
	core.StateSynthesizing: {core.StateSynthesizing, core.StateFinalizing, core.StateFailed},
	core.StateFinalizing:   {core.StateCompleted, core.StateFailed},
	core.StateCompleted:    {},
	core.StateFailed:       {},
}

// transitionAllowed reports whether from -> to is in the lifecycle table.
func transitionAllowed(from, to core.JobState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// checkTransition returns ErrIllegalTransition for a move outside the table.
func checkTransition(from, to core.JobState) error {
	if !transitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	return nil
}
