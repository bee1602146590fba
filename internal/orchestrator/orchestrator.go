// Package orchestrator owns the generation job lifecycle: admission, the
// state machine, device fallback, and error propagation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/validate"
)

// Config holds the admission limits of the orchestrator.
type Config struct {
	// ConcurrencyLimit is the number of jobs that may run at once.
	ConcurrencyLimit int
	// QueueCapacity bounds the FIFO admission queue; beyond it Submit fails
	// with ErrQueueFull.
	QueueCapacity int
}

// jobEntry pairs a job with the mutable control state the orchestrator needs.
// ctx is the per-job context; Cancel cancels it, which kills an in-flight
// engine call best-effort.
type jobEntry struct {
	job             *core.GenerationJob
	draft           core.RequestDraft
	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

// Orchestrator drives generation jobs through the lifecycle state machine.
//
// Concurrency policy: at most one non-terminal job per session; a second
// submission is rejected with ErrJobInProgress rather than superseding the
// first, so callers get predictable feedback. Across sessions, jobs run in
// parallel up to ConcurrencyLimit and queue FIFO beyond it.
type Orchestrator struct {
	cfg       Config
	validator *validate.Validator
	resolver  core.DeviceResolver
	engine    core.SynthesisEngine
	store     core.ArtifactStore
	post      core.AudioProcessor // nil disables mastering
	log       *logger.Logger

	// mu guards jobs and active. They are the only state shared across
	// jobs; every mutation goes through setState or the admission path.
	mu     sync.Mutex
	jobs   map[string]*jobEntry
	active map[string]string // session id -> in-flight job id

	queue chan *jobEntry
}

// New creates an Orchestrator. A nil post processor disables the audio
// mastering step. Run must be called before jobs make progress.
func New(
	cfg Config,
	validator *validate.Validator,
	resolver core.DeviceResolver,
	engine core.SynthesisEngine,
	store core.ArtifactStore,
	post core.AudioProcessor,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		validator: validator,
		resolver:  resolver,
		engine:    engine,
		store:     store,
		post:      post,
		log:       log,
		jobs:      make(map[string]*jobEntry),
		active:    make(map[string]string),
		queue:     make(chan *jobEntry, cfg.QueueCapacity),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight jobs have finished. Jobs still queued at shutdown end failed with
// a cancellation detail, so their waiters are released.
func (o *Orchestrator) Run(ctx context.Context) {
	var waitGroup sync.WaitGroup

	for range o.cfg.ConcurrencyLimit {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			for {
				if ctx.Err() != nil {
					return
				}

				select {
				case <-ctx.Done():
					return
				case entry := <-o.queue:
					o.runJob(entry)
				}
			}
		}()
	}

	waitGroup.Wait()

	for {
		select {
		case entry := <-o.queue:
			o.abandon(entry)
		default:
			return
		}
	}
}

// abandon fails a job that was still queued when the pool shut down.
func (o *Orchestrator) abandon(entry *jobEntry) {
	err := o.setState(entry, core.StateValidating, "accept")
	if err != nil {
		o.log.Error("Job %s: %v", entry.job.ID, err)

		return
	}

	o.fail(entry, fmt.Errorf("%w: service shutting down", core.ErrCancelled))
}

// Submit accepts a request draft for the session and returns the new job id.
// The draft is validated asynchronously; callers observe progress through
// Status or Wait.
func (o *Orchestrator) Submit(sessionID string, draft core.RequestDraft) (string, error) {
	if !o.engine.Ready() {
		return "", core.ErrEngineNotReady
	}

	jobCtx, cancel := context.WithCancel(context.Background())

	entry := &jobEntry{
		job: &core.GenerationJob{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			State:     core.StatePending,
			CreatedAt: time.Now().UTC(),
		},
		draft:  draft,
		ctx:    jobCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()

	if _, inFlight := o.active[sessionID]; inFlight {
		o.mu.Unlock()
		cancel()

		return "", core.ErrJobInProgress
	}

	o.jobs[entry.job.ID] = entry
	o.active[sessionID] = entry.job.ID
	o.mu.Unlock()

	select {
	case o.queue <- entry:
		return entry.job.ID, nil
	default:
		o.mu.Lock()
		delete(o.jobs, entry.job.ID)
		delete(o.active, sessionID)
		o.mu.Unlock()
		cancel()

		return "", core.ErrQueueFull
	}
}

// Status returns a read-only snapshot of the job. It is safe to call
// repeatedly while the job is in flight.
func (o *Orchestrator) Status(jobID string) (core.StatusView, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, found := o.jobs[jobID]
	if !found {
		return core.StatusView{}, core.ErrJobNotFound
	}

	return Project(entry.job), nil
}

// History returns the recorded state transitions of the job.
func (o *Orchestrator) History(jobID string) ([]core.StateChange, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, found := o.jobs[jobID]
	if !found {
		return nil, core.ErrJobNotFound
	}

	history := make([]core.StateChange, len(entry.job.History))
	copy(history, entry.job.History)

	return history, nil
}

// Wait blocks until the job reaches a terminal state or ctx expires, then
// returns the final status view.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (core.StatusView, error) {
	o.mu.Lock()
	entry, found := o.jobs[jobID]
	o.mu.Unlock()

	if !found {
		return core.StatusView{}, core.ErrJobNotFound
	}

	select {
	case <-ctx.Done():
		return core.StatusView{}, fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
	case <-entry.done:
		return o.Status(jobID)
	}
}

// Cancel requests cancellation of a job. While pending or validating the job
// is guaranteed to end failed with a cancellation detail; during synthesizing
// cancellation is best-effort and takes effect once the in-flight engine call
// returns. Later states cannot be cancelled.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, found := o.jobs[jobID]
	if !found {
		return core.ErrJobNotFound
	}

	state := entry.job.State
	if state.Terminal() || state == core.StateFinalizing {
		return fmt.Errorf("%w: job is %s", core.ErrNotCancellable, state)
	}

	entry.cancelRequested = true
	entry.cancel()

	return nil
}

// Clear removes a terminal job from the orchestrator. In-flight jobs cannot
// be cleared.
func (o *Orchestrator) Clear(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, found := o.jobs[jobID]
	if !found {
		return core.ErrJobNotFound
	}

	if !entry.job.State.Terminal() {
		return fmt.Errorf("%w: job is %s", core.ErrJobInProgress, entry.job.State)
	}

	delete(o.jobs, jobID)

	return nil
}

// setState is the single mutation point for job lifecycle state.
func (o *Orchestrator) setState(entry *jobEntry, to core.JobState, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	from := entry.job.State

	err := checkTransition(from, to)
	if err != nil {
		return err
	}

	entry.job.State = to
	entry.job.History = append(entry.job.History, core.StateChange{
		From:   from,
		To:     to,
		At:     time.Now().UTC(),
		Reason: reason,
	})

	o.log.Info("Job %s: %s -> %s (%s)", entry.job.ID, from, to, reason)

	return nil
}

// finish moves the job into a terminal state, releases the session gate, and
// wakes waiters. Every failed job carries a non-empty failure detail.
func (o *Orchestrator) finish(entry *jobEntry, state core.JobState, reason string) {
	err := o.setState(entry, state, reason)
	if err != nil {
		// Unreachable by construction; log rather than swallow.
		o.log.Error("Job %s: %v", entry.job.ID, err)

		return
	}

	o.mu.Lock()
	entry.job.CompletedAt = time.Now().UTC()
	delete(o.active, entry.job.SessionID)
	o.mu.Unlock()

	entry.cancel()
	close(entry.done)
}

// fail terminates the job with the given failure detail.
func (o *Orchestrator) fail(entry *jobEntry, detail error) {
	o.mu.Lock()
	entry.job.FailureDetail = detail.Error()
	o.mu.Unlock()

	o.finish(entry, core.StateFailed, detail.Error())
}

// wasCancelled reports whether the caller requested cancellation.
func (o *Orchestrator) wasCancelled(entry *jobEntry) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return entry.cancelRequested
}

// runJob drives one job through validating, synthesizing, and finalizing.
// Stages run on the per-job context so cancellation reaches the engine.
func (o *Orchestrator) runJob(entry *jobEntry) {
	if o.wasCancelled(entry) {
		// Cancelled while still queued: validating is entered and left so
		// the observed path stays within the lifecycle table.
		err := o.setState(entry, core.StateValidating, "accept")
		if err == nil {
			o.fail(entry, core.ErrCancelled)
		}

		return
	}

	err := o.setState(entry, core.StateValidating, "accept")
	if err != nil {
		o.fail(entry, err)

		return
	}

	request, err := o.validateStage(entry)
	if err != nil {
		o.fail(entry, err)

		return
	}

	if o.wasCancelled(entry) {
		o.fail(entry, core.ErrCancelled)

		return
	}

	audioData, err := o.synthesizeStage(entry, request)
	if err != nil {
		if o.wasCancelled(entry) {
			o.fail(entry, fmt.Errorf("%w: %w", core.ErrCancelled, err))

			return
		}

		o.fail(entry, err)

		return
	}

	err = o.finalizeStage(entry, audioData)
	if err != nil {
		o.fail(entry, err)

		return
	}

	o.finish(entry, core.StateCompleted, "artifact stored")
}

// validateStage validates the draft and stores the reference upload. The
// reference store is idempotent, so re-uploading identical audio reuses the
// existing artifact.
func (o *Orchestrator) validateStage(entry *jobEntry) (core.GenerationRequest, error) {
	result, err := o.validator.Validate(entry.draft)
	if err != nil {
		return core.GenerationRequest{}, err
	}

	reference, err := o.store.Store(
		entry.ctx,
		entry.draft.ReferenceAudio,
		core.KindReference,
		core.ArtifactMeta{
			Format:     result.Format,
			SampleRate: result.SampleRate,
			Duration:   result.Duration,
		},
	)
	if err != nil {
		return core.GenerationRequest{}, err
	}

	return core.GenerationRequest{
		Text:          result.Text,
		ReferenceText: result.ReferenceText,
		Reference:     reference,
		Options:       result.Options,
	}, nil
}

// synthesizeStage resolves the device and runs the engine, retrying exactly
// once on CPU after a GPU out-of-memory failure.
func (o *Orchestrator) synthesizeStage(
	entry *jobEntry,
	request core.GenerationRequest,
) ([]byte, error) {
	device := o.resolver.Resolve(entry.ctx)

	err := o.setState(entry, core.StateSynthesizing, "validation ok, device "+string(device.Kind))
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	entry.job.Request = request
	entry.job.Device = device.Kind
	o.mu.Unlock()

	audioData, synthErr := o.engine.Synthesize(entry.ctx, request, device)
	if synthErr == nil {
		return audioData, nil
	}

	if !core.EngineErrorOfKind(synthErr, core.EngineOutOfMemory) || device.Kind != core.DeviceGPU {
		return nil, synthErr
	}

	// Deferred, once-only fallback: the engine ran out of device memory on
	// the GPU, so this job retries on CPU.
	device = core.DeviceContext{Kind: core.DeviceCPU, FreeMemory: 0}

	err = o.setState(entry, core.StateSynthesizing, "engine out of memory, retrying on cpu")
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	entry.job.Device = core.DeviceCPU
	entry.job.RetryCount++
	o.mu.Unlock()

	audioData, retryErr := o.engine.Synthesize(entry.ctx, request, device)
	if retryErr != nil {
		return nil, retryErr
	}

	return audioData, nil
}

// finalizeStage masters the generated audio, stores it, and attaches it to
// the job. Outputs carry the job id in their identity, so identical audio
// from two jobs yields two artifacts.
func (o *Orchestrator) finalizeStage(entry *jobEntry, audioData []byte) error {
	err := o.setState(entry, core.StateFinalizing, "engine succeeded")
	if err != nil {
		return err
	}

	// Mastering is best-effort: a failed run keeps the raw engine audio.
	if o.post != nil {
		processed, postErr := o.post.Process(entry.ctx, audioData)
		if postErr != nil {
			o.log.Warn("Job %s: post-processing failed, keeping raw audio: %v", entry.job.ID, postErr)
		} else {
			audioData = processed
		}
	}

	meta := core.ArtifactMeta{
		JobID:  entry.job.ID,
		Format: core.FormatWAV,
	}

	// Engine output is WAV; probe it for the record. An unreadable header
	// here means the engine misbehaved.
	sampleRate, duration, probeErr := validate.ProbeAudio(audioData, core.FormatWAV)
	if probeErr != nil {
		return core.NewEngineError(
			core.EngineModelError,
			fmt.Errorf("engine produced undecodable audio: %w", probeErr),
		)
	}

	meta.SampleRate = sampleRate
	meta.Duration = duration

	output, err := o.store.Store(entry.ctx, audioData, core.KindOutput, meta)
	if err != nil {
		return err
	}

	o.mu.Lock()
	entry.job.Artifact = &output
	o.mu.Unlock()

	return nil
}

// IsRetryable reports whether the caller may usefully resubmit after err.
func IsRetryable(err error) bool {
	return errors.Is(err, core.ErrJobInProgress) || errors.Is(err, core.ErrQueueFull)
}
