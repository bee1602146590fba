package core

import "context"

// SynthesisEngine is the capability boundary around the external
// text-to-speech model. Implementations must release any device memory they
// acquire on every exit path, including timeout and cancellation.
type SynthesisEngine interface {
	// Synthesize produces audio bytes for the request text, conditioned on
	// the reference sample, on the given device. Failures are *EngineError.
	Synthesize(
		ctx context.Context,
		req GenerationRequest,
		device DeviceContext,
	) ([]byte, error)

	// Ready reports whether the engine initialized successfully. A not-ready
	// engine must cause the orchestrator to refuse new jobs.
	Ready() bool
}

// ArtifactStore persists audio artifacts with content-addressed identity.
type ArtifactStore interface {
	// Store writes data into the given namespace. Storing bytes with a
	// checksum already present in the references namespace returns the
	// existing record; outputs are never de-duplicated across jobs.
	// Failures are *StorageError.
	Store(ctx context.Context, data []byte, kind ArtifactKind, meta ArtifactMeta) (AudioArtifact, error)

	// Load returns the bytes of a previously stored artifact by key.
	Load(ctx context.Context, key string) ([]byte, error)
}

// AudioProcessor reworks generated audio before it is published. Processing is
// best-effort: on failure the orchestrator keeps the unprocessed audio.
type AudioProcessor interface {
	Process(ctx context.Context, audioData []byte) ([]byte, error)
}

// DeviceResolver chooses an execution device for one job. Resolution never
// fails: absence of a GPU is a normal outcome, not an error.
type DeviceResolver interface {
	Resolve(ctx context.Context) DeviceContext
}

// ObjectStore is the transfer boundary for moving audio bytes between the
// service and remote callers.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
