// Package worker provides the NATS boundary that accepts voice-clone
// submissions and reports results.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/orchestrator"
)

// VoiceCloneRequestedEvent is a submission from a caller. The reference audio
// is uploaded to the uploads bucket beforehand and referenced by key;
// ReferenceText is its transcript.
type VoiceCloneRequestedEvent struct {
	Header            events.EventHeader `json:"header"`
	ReferenceKey      string             `json:"reference_key"`
	ReferenceText     string             `json:"reference_text"`
	ReferenceLanguage string             `json:"reference_language,omitempty"`
	Text              string             `json:"text"`
	Language          string             `json:"language"`
	ModelVersion      string             `json:"model_version,omitempty"`
	SpeedFactor       float64            `json:"speed_factor"`
	Seed              int                `json:"seed"`
}

// VoiceCloneCompletedEvent is the reply published once a job reaches a
// terminal state. OutputKey is set only on success and names the generated
// audio in the outputs bucket.
type VoiceCloneCompletedEvent struct {
	Header    events.EventHeader `json:"header"`
	JobID     string             `json:"job_id,omitempty"`
	Status    core.StatusView    `json:"status"`
	OutputKey string             `json:"output_key,omitempty"`
}

// NatsWorker listens for voice-clone submissions on a NATS subject and drives
// the orchestrator.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	uploads        core.ObjectStore
	outputs        core.ObjectStore
	artifacts      core.ArtifactStore
	orch           *orchestrator.Orchestrator
	jobTimeout     time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	uploads core.ObjectStore,
	outputs core.ObjectStore,
	artifacts core.ArtifactStore,
	orch *orchestrator.Orchestrator,
	jobTimeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		uploads:        uploads,
		outputs:        outputs,
		artifacts:      artifacts,
		orch:           orch,
		jobTimeout:     jobTimeout,
		log:            log,
	}
}

// Run starts the worker and begins listening for messages. Each submission is
// handled on its own goroutine: a job blocks until terminal, and handling
// submissions one at a time would serialize every job behind the slowest one.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, func(msg *nats.Msg) {
		go w.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	// The deadline covers the queue wait, the engine call, and finalizing.
	ctx, cancel := context.WithTimeout(context.Background(), 2*w.jobTimeout)
	defer cancel()

	var event VoiceCloneRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal submission event: %v", err)

		return
	}

	reply := w.processSubmission(ctx, &event)

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processSubmission runs one submission end to end and builds the reply. No
// failure is swallowed: every error lands in the reply's status view.
func (w *NatsWorker) processSubmission(
	ctx context.Context,
	event *VoiceCloneRequestedEvent,
) *VoiceCloneCompletedEvent {
	reply := &VoiceCloneCompletedEvent{Header: event.Header}

	referenceAudio, err := w.uploads.Download(ctx, event.ReferenceKey)
	if err != nil {
		w.log.Error(
			"Failed to download reference '%s' for workflow %s: %v",
			event.ReferenceKey,
			event.Header.WorkflowID,
			err,
		)

		reply.Status = failedView("", fmt.Errorf("reference download failed: %w", err))

		return reply
	}

	draft := core.RequestDraft{
		Text:           event.Text,
		ReferenceText:  event.ReferenceText,
		ReferenceAudio: referenceAudio,
		Options: core.SynthesisOptions{
			Language:          event.Language,
			ReferenceLanguage: event.ReferenceLanguage,
			ModelVersion:      event.ModelVersion,
			SpeedFactor:       event.SpeedFactor,
			Seed:              event.Seed,
		},
	}

	jobID, err := w.orch.Submit(sessionOf(event.Header), draft)
	if err != nil {
		w.log.Error("Submission rejected for workflow %s: %v", event.Header.WorkflowID, err)

		reply.Status = failedView("", err)

		return reply
	}

	reply.JobID = jobID

	status, err := w.orch.Wait(ctx, jobID)
	if err != nil {
		reply.Status = failedView(jobID, err)

		return reply
	}

	reply.Status = status

	if status.State == core.StateCompleted {
		reply.OutputKey = w.publishOutput(ctx, status)
	}

	return reply
}

// publishOutput copies the generated artifact into the outputs bucket and
// returns its key, or empty on failure.
func (w *NatsWorker) publishOutput(ctx context.Context, status core.StatusView) string {
	audioData, err := w.artifacts.Load(ctx, status.DownloadKey)
	if err != nil {
		w.log.Error("Failed to load artifact '%s': %v", status.DownloadKey, err)

		return ""
	}

	err = w.outputs.Upload(ctx, status.DownloadKey, audioData)
	if err != nil {
		w.log.Error("Failed to upload output '%s': %v", status.DownloadKey, err)

		return ""
	}

	return status.DownloadKey
}

// sessionOf derives the session identity from the event header. Jobs from the
// same user are serialized; anonymous submissions fall back to the workflow.
func sessionOf(header events.EventHeader) string {
	if header.UserID != "" {
		return header.UserID
	}

	return header.WorkflowID
}

func failedView(jobID string, err error) core.StatusView {
	return core.StatusView{
		JobID:   jobID,
		State:   core.StateFailed,
		Percent: 0,
		Error:   err.Error(),
	}
}
