package core

import (
	"errors"
	"fmt"
)

// Validation errors. All are caller-fixable and never retried.
var (
	// ErrEmptyText indicates that the request text is blank after trimming.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrEmptyReferenceText indicates the reference transcript is blank after trimming.
	ErrEmptyReferenceText = errors.New("reference transcript cannot be empty")
	// ErrTextTooLong indicates that the request text exceeds the configured maximum.
	ErrTextTooLong = errors.New("text exceeds maximum length")
	// ErrUnsupportedFormat indicates an upload outside the configured allow-list.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrFileTooLarge indicates an upload above the configured byte threshold.
	ErrFileTooLarge = errors.New("audio file exceeds maximum size")
	// ErrCorruptAudio indicates an upload whose duration or sample rate is unreadable.
	ErrCorruptAudio = errors.New("audio file cannot be decoded")
	// ErrUnsupportedLanguage indicates a language option outside the recognized set.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrSpeedFactorRange indicates a speed factor outside the valid range.
	ErrSpeedFactorRange = errors.New("speed factor out of range")
)

// Concurrency errors. Callers should retry later.
var (
	// ErrJobInProgress indicates the session already has a non-terminal job.
	ErrJobInProgress = errors.New("a job is already in progress for this session")
	// ErrQueueFull indicates the admission queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")
)

// Orchestrator errors.
var (
	// ErrJobNotFound indicates an unknown job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrCancelled indicates the job was cancelled by the caller.
	ErrCancelled = errors.New("job cancelled")
	// ErrNotCancellable indicates the job is past the point of guaranteed cancellation.
	ErrNotCancellable = errors.New("job can no longer be cancelled")
	// ErrEngineNotReady indicates the engine failed to initialize; no jobs are accepted.
	ErrEngineNotReady = errors.New("synthesis engine is not ready")
)

// EngineErrorKind classifies inference engine failures.
type EngineErrorKind string

// Engine failure kinds. Only OutOfMemory is retried, exactly once, on CPU.
const (
	EngineOutOfMemory  EngineErrorKind = "out_of_memory"
	EngineInvalidInput EngineErrorKind = "invalid_input"
	EngineModelError   EngineErrorKind = "model_error"
	EngineTimeout      EngineErrorKind = "timeout"
)

// EngineError is a failure reported by the inference engine adapter.
type EngineError struct {
	Kind EngineErrorKind
	Err  error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error (%s): %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError wraps err with an engine failure kind.
func NewEngineError(kind EngineErrorKind, err error) *EngineError {
	return &EngineError{Kind: kind, Err: err}
}

// EngineErrorOfKind reports whether err is an EngineError of the given kind.
func EngineErrorOfKind(err error, kind EngineErrorKind) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Kind == kind
	}

	return false
}

// StorageErrorKind classifies artifact store failures.
type StorageErrorKind string

// Storage failure kinds. All are environment-fixable and never retried.
const (
	StorageDiskFull         StorageErrorKind = "disk_full"
	StoragePermissionDenied StorageErrorKind = "permission_denied"
	StorageIOError          StorageErrorKind = "io_error"
)

// StorageError is a failure reported by the artifact store.
type StorageError struct {
	Kind StorageErrorKind
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err with a storage failure kind.
func NewStorageError(kind StorageErrorKind, err error) *StorageError {
	return &StorageError{Kind: kind, Err: err}
}
