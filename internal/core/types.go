// Package core defines the domain model and interfaces for the voice-clone service.
package core

import "time"

// SynthesisOptions holds the per-request voice parameters. Every field has a
// default applied by Normalize, so a zero value is a valid starting point.
type SynthesisOptions struct {
	Language          string
	ReferenceLanguage string
	ModelVersion      string
	SpeedFactor       float64
	Seed              int
}

const (
	// DefaultLanguage is used when a request carries no language option.
	DefaultLanguage = "en"
	// DefaultSpeedFactor is the neutral playback speed.
	DefaultSpeedFactor = 1.0

	// MinSpeedFactor and MaxSpeedFactor bound the speed option.
	MinSpeedFactor = 0.5
	MaxSpeedFactor = 2.0
)

// recognizedLanguages is the set of language codes the inference CLI accepts.
var recognizedLanguages = map[string]struct{}{
	"en": {},
	"ja": {},
	"ko": {},
	"zh": {},
}

// LanguageRecognized reports whether the given code is a supported language.
func LanguageRecognized(code string) bool {
	_, ok := recognizedLanguages[code]

	return ok
}

// Normalize fills in defaults for unset options. The reference language,
// unset, follows the target language. The model version default belongs to the
// engine, which owns the installed checkpoints.
func (o SynthesisOptions) Normalize() SynthesisOptions {
	if o.Language == "" {
		o.Language = DefaultLanguage
	}

	if o.ReferenceLanguage == "" {
		o.ReferenceLanguage = o.Language
	}

	if o.SpeedFactor == 0 {
		o.SpeedFactor = DefaultSpeedFactor
	}

	return o
}

// RequestDraft is the untrusted caller input before validation. ReferenceText
// is the transcript of the reference audio, required to prime the voice
// prompt.
type RequestDraft struct {
	Text           string
	ReferenceText  string
	ReferenceAudio []byte
	Options        SynthesisOptions
}

// GenerationRequest is an immutable, validated synthesis request. It is
// produced only by the validator and consumed exactly once by the orchestrator.
type GenerationRequest struct {
	Text          string
	ReferenceText string
	Reference     AudioArtifact
	Options       SynthesisOptions
}

// JobState is a lifecycle state of a generation job.
type JobState string

// Lifecycle states. Completed and Failed are terminal.
const (
	StatePending      JobState = "pending"
	StateValidating   JobState = "validating"
	StateSynthesizing JobState = "synthesizing"
	StateFinalizing   JobState = "finalizing"
	StateCompleted    JobState = "completed"
	StateFailed       JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StateChange records one observed transition of a job.
type StateChange struct {
	From   JobState
	To     JobState
	At     time.Time
	Reason string
}

// GenerationJob is one end-to-end synthesis job. It is owned exclusively by the
// orchestrator; callers observe it only through StatusView snapshots.
type GenerationJob struct {
	ID            string
	SessionID     string
	Request       GenerationRequest
	State         JobState
	CreatedAt     time.Time
	CompletedAt   time.Time
	Artifact      *AudioArtifact
	FailureDetail string
	Device        DeviceKind
	RetryCount    int
	History       []StateChange
}

// ArtifactKind separates the two artifact namespaces.
type ArtifactKind string

const (
	// KindReference is an uploaded reference sample.
	KindReference ArtifactKind = "references"
	// KindOutput is a generated synthesis result.
	KindOutput ArtifactKind = "outputs"
)

// AudioFormat is a supported audio container.
type AudioFormat string

// Supported containers.
const (
	FormatWAV  AudioFormat = "wav"
	FormatMP3  AudioFormat = "mp3"
	FormatFLAC AudioFormat = "flac"
)

// AudioArtifact is a stored audio file with content-addressed identity.
// Every artifact on disk has exactly one record.
type AudioArtifact struct {
	Key        string
	Path       string
	Kind       ArtifactKind
	JobID      string
	Format     AudioFormat
	SampleRate int
	Duration   time.Duration
	ByteSize   int64
	Checksum   string
	CreatedAt  time.Time
}

// ArtifactMeta carries the probed properties attached to a stored artifact.
// JobID is set only for generated outputs, whose identity includes the job.
type ArtifactMeta struct {
	JobID      string
	Format     AudioFormat
	SampleRate int
	Duration   time.Duration
}

// DeviceKind identifies an execution device.
type DeviceKind string

// Execution devices.
const (
	DeviceGPU DeviceKind = "gpu"
	DeviceCPU DeviceKind = "cpu"
)

// DeviceContext is the execution target resolved for one job. It is resolved
// at synthesis start and never cached across jobs.
type DeviceContext struct {
	Kind       DeviceKind
	FreeMemory int64 // MiB, zero when unknown
}

// StatusView is a read-only snapshot of a job for polling callers.
type StatusView struct {
	JobID       string   `json:"job_id"`
	State       JobState `json:"state"`
	Percent     int      `json:"percent"`
	Error       string   `json:"error,omitempty"`
	DownloadKey string   `json:"download_key,omitempty"`
}
