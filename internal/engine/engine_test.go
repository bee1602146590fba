// Package engine_test tests the synthesis engine implementations.
package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/engine"
	"github.com/book-expert/voice-clone-service/internal/validate"
)

func testRequest() core.GenerationRequest {
	return core.GenerationRequest{
		Text:          "Hello world",
		ReferenceText: "reference transcript",
		Reference: core.AudioArtifact{
			Path: "artifacts/references/abc.wav",
		},
		Options: core.SynthesisOptions{
			Language:          "en",
			ReferenceLanguage: "en",
			SpeedFactor:       1.0,
		},
	}
}

// missingConfig is an engine configuration whose binary and checkpoints do
// not exist on disk.
func missingConfig() engine.Config {
	return engine.Config{
		BinaryPath:     "/nonexistent/inference_cli",
		DefaultVersion: "V2ProPlus",
		Versions: map[string]engine.ModelPaths{
			"V2ProPlus": {
				GPTModelPath:    "/nonexistent/s1v3.ckpt",
				SovitsModelPath: "/nonexistent/s2G.pth",
			},
		},
		Timeout: time.Second,
	}
}

// installVersion writes fake checkpoint files under modelsDir so the engine
// considers the version installed.
func installVersion(t *testing.T, modelsDir string, paths engine.ModelPaths) {
	t.Helper()

	for _, rel := range []string{paths.GPTModelPath, paths.SovitsModelPath} {
		full := filepath.Join(modelsDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
		require.NoError(t, os.WriteFile(full, []byte("checkpoint"), 0o600))
	}
}

func TestStubProducesValidWAV(t *testing.T) {
	t.Parallel()

	stub := engine.NewStub()
	require.True(t, stub.Ready())

	audioData, err := stub.Synthesize(
		context.Background(),
		testRequest(),
		core.DeviceContext{Kind: core.DeviceCPU},
	)
	require.NoError(t, err)
	require.NotEmpty(t, audioData)

	sampleRate, duration, err := validate.ProbeAudio(audioData, core.FormatWAV)
	require.NoError(t, err)
	assert.Equal(t, 16000, sampleRate)
	assert.Positive(t, duration)
}

func TestStubIsDeterministic(t *testing.T) {
	t.Parallel()

	stub := engine.NewStub()
	ctx := context.Background()
	device := core.DeviceContext{Kind: core.DeviceCPU}

	first, err := stub.Synthesize(ctx, testRequest(), device)
	require.NoError(t, err)

	second, err := stub.Synthesize(ctx, testRequest(), device)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical requests yield identical audio")

	other := testRequest()
	other.Text = "Different text"

	third, err := stub.Synthesize(ctx, other, device)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestStubHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	stub := engine.NewStub()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stub.Synthesize(ctx, testRequest(), core.DeviceContext{Kind: core.DeviceCPU})
	require.Error(t, err)
	assert.True(t, core.EngineErrorOfKind(err, core.EngineTimeout))
}

func TestSoVITSNotReadyWithMissingDependencies(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, err)

	sovits := engine.New(missingConfig(), testLogger)

	assert.False(t, sovits.Ready())
}

func TestSoVITSReadyWithInstalledDefaultVersion(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, err)

	modelsDir := t.TempDir()
	defaultModels := engine.ModelPaths{
		GPTModelPath:    "s1v3.ckpt",
		SovitsModelPath: "v2Pro/s2Gv2ProPlus.pth",
	}
	installVersion(t, modelsDir, defaultModels)

	binaryPath := filepath.Join(t.TempDir(), "inference_cli")
	require.NoError(t, os.WriteFile(binaryPath, []byte("#!/bin/sh\n"), 0o700))

	sovits := engine.New(engine.Config{
		BinaryPath:     binaryPath,
		ModelsDir:      modelsDir,
		DefaultVersion: "V2ProPlus",
		Versions: map[string]engine.ModelPaths{
			"V2ProPlus": defaultModels,
			// Missing checkpoints: dropped at startup, not fatal.
			"V4": {
				GPTModelPath:    "s1v3.ckpt",
				SovitsModelPath: "gsv-v4-pretrained/s2Gv4.pth",
			},
		},
		Timeout: time.Second,
	}, testLogger)

	assert.True(t, sovits.Ready())
}

func TestSoVITSRejectsUnknownModelVersion(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, err)

	sovits := engine.New(missingConfig(), testLogger)

	request := testRequest()
	request.Options.ModelVersion = "V9"

	_, err = sovits.Synthesize(
		context.Background(),
		request,
		core.DeviceContext{Kind: core.DeviceCPU},
	)
	require.Error(t, err)
	assert.True(t, core.EngineErrorOfKind(err, core.EngineInvalidInput))
	assert.Contains(t, err.Error(), "V9")
}

func TestSoVITSRejectsEmptyReferencePath(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, err)

	sovits := engine.New(missingConfig(), testLogger)

	request := testRequest()
	request.Reference.Path = ""

	_, err = sovits.Synthesize(
		context.Background(),
		request,
		core.DeviceContext{Kind: core.DeviceCPU},
	)
	require.Error(t, err)
	assert.True(t, core.EngineErrorOfKind(err, core.EngineInvalidInput))
}

func TestSoVITSPassesReferenceFlags(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, err)

	modelsDir := t.TempDir()
	models := engine.ModelPaths{
		GPTModelPath:    "s1v3.ckpt",
		SovitsModelPath: "v2Pro/s2Gv2ProPlus.pth",
	}
	installVersion(t, modelsDir, models)

	// A stand-in binary that records its arguments and writes a byte to
	// the requested output path.
	binDir := t.TempDir()
	argsFile := filepath.Join(binDir, "args.txt")
	script := `#!/bin/sh
printf '%s\n' "$@" > "` + argsFile + `"
prev=""
for a in "$@"; do
  if [ "$prev" = "--output_path" ]; then printf 'RIFF' > "$a"; fi
  prev="$a"
done
`
	binaryPath := filepath.Join(binDir, "inference_cli")
	require.NoError(t, os.WriteFile(binaryPath, []byte(script), 0o700))

	sovits := engine.New(engine.Config{
		BinaryPath:     binaryPath,
		ModelsDir:      modelsDir,
		DefaultVersion: "V2ProPlus",
		Versions:       map[string]engine.ModelPaths{"V2ProPlus": models},
		Timeout:        5 * time.Second,
	}, testLogger)
	require.True(t, sovits.Ready())

	request := testRequest()
	request.Options.ReferenceLanguage = "zh"

	audioData, err := sovits.Synthesize(
		context.Background(),
		request,
		core.DeviceContext{Kind: core.DeviceCPU},
	)
	require.NoError(t, err)
	require.NotEmpty(t, audioData)

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)

	args := strings.Split(strings.TrimSpace(string(recorded)), "\n")
	assert.Contains(t, args, "--ref_text")
	assert.Contains(t, args, "reference transcript")
	assert.Contains(t, args, "--ref_language")
	assert.Contains(t, args, "zh")
	assert.Contains(t, args, filepath.Join(modelsDir, "v2Pro/s2Gv2ProPlus.pth"))
}
