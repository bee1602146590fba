package orchestrator

import "github.com/book-expert/voice-clone-service/internal/core"

// statePercent is the coarse progress estimate per lifecycle state.
var statePercent = map[core.JobState]int{
	core.StatePending:      0,
	core.StateValidating:   10,
	core.StateSynthesizing: 50,
	core.StateFinalizing:   90,
	core.StateCompleted:    100,
	core.StateFailed:       0,
}

// Project maps a job onto its externally observable status. It is a pure
// function of job state with no side effects, safe to call repeatedly while
// the job is in flight.
func Project(job *core.GenerationJob) core.StatusView {
	view := core.StatusView{
		JobID:   job.ID,
		State:   job.State,
		Percent: statePercent[job.State],
	}

	if job.State == core.StateFailed {
		view.Error = job.FailureDetail
	}

	if job.State == core.StateCompleted && job.Artifact != nil {
		view.DownloadKey = job.Artifact.Key
	}

	return view
}
