// Package postprocess reworks generated audio before publication: long
// silences are trimmed and loudness is normalized to EBU R128.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/book-expert/logger"
)

// The filter chain mirrors the service's mastering defaults: drop silences
// longer than half a second quieter than -45 dB, then normalize to -14 LUFS
// with a -1 dB true peak.
const audioFilters = "silenceremove=stop_periods=-1:stop_duration=0.5:stop_threshold=-45dB," +
	"loudnorm=I=-14:TP=-1.0"

// ErrProcessingFailed is the base error for failed ffmpeg runs.
var ErrProcessingFailed = errors.New("audio post-processing failed")

// Processor trims and normalizes WAV audio by executing ffmpeg.
type Processor struct {
	binaryPath string
	timeout    time.Duration
	log        *logger.Logger
}

// New creates a Processor that runs the ffmpeg binary at binaryPath.
func New(binaryPath string, timeout time.Duration, log *logger.Logger) *Processor {
	return &Processor{
		binaryPath: binaryPath,
		timeout:    timeout,
		log:        log,
	}
}

// Process runs the filter chain over audioData and returns the reworked bytes.
// Both temporary files are removed on every exit path.
func (p *Processor) Process(ctx context.Context, audioData []byte) ([]byte, error) {
	inputFile, err := p.tempFile("voiceclone-master-in-*.wav", audioData)
	if err != nil {
		return nil, err
	}
	defer p.remove(inputFile)

	outputFile, err := p.tempFile("voiceclone-master-out-*.wav", nil)
	if err != nil {
		return nil, err
	}
	defer p.remove(outputFile)

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// #nosec G204 -- the binary path comes from static config
	cmd := exec.CommandContext(
		runCtx,
		p.binaryPath,
		"-y",
		"-hide_banner",
		"-i", inputFile,
		"-af", audioFilters,
		outputFile,
	)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return nil, fmt.Errorf("%w: %v - output: %s", ErrProcessingFailed, runErr, output)
	}

	processed, readErr := os.ReadFile(outputFile)
	if readErr != nil {
		return nil, fmt.Errorf("%w: reading output: %w", ErrProcessingFailed, readErr)
	}

	if len(processed) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no audio", ErrProcessingFailed)
	}

	return processed, nil
}

func (p *Processor) tempFile(pattern string, data []byte) (string, error) {
	file, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("%w: creating temp file: %w", ErrProcessingFailed, err)
	}

	if data != nil {
		_, err = file.Write(data)
		if err != nil {
			closeErr := file.Close()
			if closeErr != nil {
				p.log.Warn("Failed to close temp file %q: %v", file.Name(), closeErr)
			}

			return "", fmt.Errorf("%w: writing temp file: %w", ErrProcessingFailed, err)
		}
	}

	err = file.Close()
	if err != nil {
		return "", fmt.Errorf("%w: closing temp file: %w", ErrProcessingFailed, err)
	}

	return file.Name(), nil
}

func (p *Processor) remove(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		p.log.Warn("Failed to remove temp file %q: %v", path, err)
	}
}
