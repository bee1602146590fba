// Package engine provides the inference engine adapter for the voice-clone
// service. The production implementation shells out to the GPT-SoVITS
// inference CLI; a deterministic stub is selected via configuration for
// development and tests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/voice-clone-service/internal/core"
)

// ModelPaths is one installable checkpoint pair.
type ModelPaths struct {
	GPTModelPath    string
	SovitsModelPath string
}

// Config holds the paths and timeout for the SoVITS engine. Versions maps
// model version names to checkpoint pairs; relative checkpoint paths are
// resolved against ModelsDir.
type Config struct {
	BinaryPath     string
	WorkDir        string
	ModelsDir      string
	DefaultVersion string
	Versions       map[string]ModelPaths
	Timeout        time.Duration
}

// SoVITS runs voice-cloning inference by executing the GPT-SoVITS CLI.
type SoVITS struct {
	config   Config
	versions map[string]ModelPaths
	log      *logger.Logger
	ready    bool
}

// oomMarkers are substrings of inference output that indicate device memory
// exhaustion rather than a model failure.
var oomMarkers = []string{
	"out of memory",
	"CUDA error: out of memory",
	"OOM",
}

// ErrSynthesisFailed is the base error for failed inference runs.
var ErrSynthesisFailed = errors.New("synthesis failed")

// New creates a SoVITS engine. Readiness is decided once at startup: the
// binary and the default version's checkpoints must exist. Other versions with
// missing checkpoints are logged and left out, so a request naming one fails
// with an invalid-input error instead of a dead subprocess.
func New(cfg Config, log *logger.Logger) *SoVITS {
	ready := true

	_, err := os.Stat(cfg.BinaryPath)
	if err != nil {
		log.Error("Engine binary missing at %q: %v", cfg.BinaryPath, err)

		ready = false
	}

	versions := make(map[string]ModelPaths, len(cfg.Versions))

	for name, paths := range cfg.Versions {
		resolved := ModelPaths{
			GPTModelPath:    resolvePath(cfg.ModelsDir, paths.GPTModelPath),
			SovitsModelPath: resolvePath(cfg.ModelsDir, paths.SovitsModelPath),
		}

		missing := firstMissing(resolved.GPTModelPath, resolved.SovitsModelPath)
		if missing != "" {
			log.Warn("Model version %s unavailable, checkpoint missing at %q", name, missing)

			continue
		}

		versions[name] = resolved
	}

	if _, installed := versions[cfg.DefaultVersion]; !installed {
		log.Error("Default model version %q is not installed", cfg.DefaultVersion)

		ready = false
	}

	return &SoVITS{
		config:   cfg,
		versions: versions,
		log:      log,
		ready:    ready,
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(baseDir, path)
}

func firstMissing(paths ...string) string {
	for _, path := range paths {
		if path == "" {
			return "(unset)"
		}

		if _, err := os.Stat(path); err != nil {
			return path
		}
	}

	return ""
}

// Ready reports whether the engine initialized with all its dependencies.
func (e *SoVITS) Ready() bool {
	return e.ready
}

// modelsFor resolves the checkpoint pair for the requested model version,
// defaulting to the configured version when the request names none.
func (e *SoVITS) modelsFor(version string) (ModelPaths, error) {
	if version == "" {
		version = e.config.DefaultVersion
	}

	models, installed := e.versions[version]
	if !installed {
		return ModelPaths{}, core.NewEngineError(
			core.EngineInvalidInput,
			fmt.Errorf("model version %q is not installed", version),
		)
	}

	return models, nil
}

// Synthesize runs one inference call. The configured wall-clock timeout is
// enforced here; the temporary output file is removed on every exit path.
// Retry policy belongs to the orchestrator, not the engine.
func (e *SoVITS) Synthesize(
	ctx context.Context,
	req core.GenerationRequest,
	device core.DeviceContext,
) ([]byte, error) {
	if req.Reference.Path == "" {
		return nil, core.NewEngineError(
			core.EngineInvalidInput,
			errors.New("reference audio path is empty"),
		)
	}

	models, err := e.modelsFor(req.Options.ModelVersion)
	if err != nil {
		return nil, err
	}

	outputFile, err := os.CreateTemp("", "voiceclone-output-*.wav")
	if err != nil {
		return nil, core.NewEngineError(
			core.EngineModelError,
			fmt.Errorf("failed to create temp output file: %w", err),
		)
	}

	defer func() {
		removeErr := os.Remove(outputFile.Name())
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			e.log.Warn("Failed to remove temp file %q: %v", outputFile.Name(), removeErr)
		}
	}()

	// The CLI writes to the path, not the handle.
	closeErr := outputFile.Close()
	if closeErr != nil {
		return nil, core.NewEngineError(
			core.EngineModelError,
			fmt.Errorf("failed to close temp output file: %w", closeErr),
		)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	output, runErr := e.runInference(runCtx, req, device, models, outputFile.Name())
	if runErr != nil {
		return nil, e.classify(runCtx, runErr, output)
	}

	audioData, readErr := os.ReadFile(outputFile.Name())
	if readErr != nil {
		return nil, core.NewEngineError(
			core.EngineModelError,
			fmt.Errorf("failed to read engine output: %w", readErr),
		)
	}

	if len(audioData) == 0 {
		return nil, core.NewEngineError(
			core.EngineModelError,
			fmt.Errorf("%w: engine produced no audio", ErrSynthesisFailed),
		)
	}

	return audioData, nil
}

// runInference executes the CLI and returns its combined output.
func (e *SoVITS) runInference(
	ctx context.Context,
	req core.GenerationRequest,
	device core.DeviceContext,
	models ModelPaths,
	outputPath string,
) (string, error) {
	args := []string{
		"--gpt_model", models.GPTModelPath,
		"--sovits_model", models.SovitsModelPath,
		"--ref_audio", req.Reference.Path,
		"--ref_text", req.ReferenceText,
		"--ref_language", req.Options.ReferenceLanguage,
		"--target_text", req.Text,
		"--target_language", req.Options.Language,
		"--output_path", outputPath,
		"--speed_factor", strconv.FormatFloat(req.Options.SpeedFactor, 'f', 2, 64),
		"--text_split_method", "cut5",
	}

	// #nosec G204 -- arguments come from a validated request and static config
	cmd := exec.CommandContext(ctx, e.config.BinaryPath, args...)
	cmd.Dir = e.config.WorkDir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")

	if device.Kind == core.DeviceCPU {
		// Hide all GPUs from the inference process to force CPU execution.
		cmd.Env = append(cmd.Env, "CUDA_VISIBLE_DEVICES=-1")
	}

	output, err := cmd.CombinedOutput()

	return string(output), err
}

// classify maps a failed run onto the engine error taxonomy.
func (e *SoVITS) classify(ctx context.Context, runErr error, output string) *core.EngineError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.NewEngineError(
			core.EngineTimeout,
			fmt.Errorf("%w: inference exceeded %s", ErrSynthesisFailed, e.config.Timeout),
		)
	}

	for _, marker := range oomMarkers {
		if strings.Contains(output, marker) {
			return core.NewEngineError(
				core.EngineOutOfMemory,
				fmt.Errorf("%w: %s", ErrSynthesisFailed, firstLine(output)),
			)
		}
	}

	return core.NewEngineError(
		core.EngineModelError,
		fmt.Errorf("%w: %v - output: %s", ErrSynthesisFailed, runErr, firstLine(output)),
	)
}

func firstLine(output string) string {
	trimmed := strings.TrimSpace(output)

	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		return trimmed[:idx]
	}

	return trimmed
}
