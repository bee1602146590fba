package engine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/book-expert/voice-clone-service/internal/core"
)

const (
	stubSampleRate    = 16000
	stubBitsPerSample = 16
	stubChannels      = 1
	stubSamples       = stubSampleRate / 10 // 100ms of audio
)

// Stub is a deterministic engine for development and tests. It produces a
// valid mono WAV whose payload is derived from the request text, so identical
// requests yield identical bytes.
type Stub struct{}

// NewStub creates a stub engine.
func NewStub() *Stub {
	return &Stub{}
}

// Ready always reports true.
func (s *Stub) Ready() bool {
	return true
}

// Synthesize returns a small deterministic WAV for the request.
func (s *Stub) Synthesize(
	ctx context.Context,
	req core.GenerationRequest,
	_ core.DeviceContext,
) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, core.NewEngineError(core.EngineTimeout, ctx.Err())
	}

	seed := sha256.Sum256([]byte(req.Text + req.Options.Language))

	samples := make([]byte, stubSamples*stubChannels*stubBitsPerSample/8)
	for i := range samples {
		samples[i] = seed[i%len(seed)]
	}

	return wrapWAV(samples), nil
}

// wrapWAV frames raw PCM samples in a minimal RIFF/WAVE container.
func wrapWAV(samples []byte) []byte {
	const headerSize = 44

	byteRate := stubSampleRate * stubChannels * stubBitsPerSample / 8
	blockAlign := stubChannels * stubBitsPerSample / 8

	buf := make([]byte, 0, headerSize+len(samples))
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+len(samples)))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, stubChannels)
	buf = binary.LittleEndian.AppendUint32(buf, stubSampleRate)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, stubBitsPerSample)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(samples)))
	buf = append(buf, samples...)

	return buf
}
