// Package validate checks untrusted generation request drafts before any
// expensive work begins.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/book-expert/voice-clone-service/internal/core"
)

// mimeFormats maps detected MIME types to supported audio containers.
var mimeFormats = map[string]core.AudioFormat{
	"audio/wav":  core.FormatWAV,
	"audio/wave": core.FormatWAV,
	"audio/mpeg": core.FormatMP3,
	"audio/mp3":  core.FormatMP3,
	"audio/flac": core.FormatFLAC,
}

// Limits holds the validation thresholds.
type Limits struct {
	MaxTextLength  int
	MaxUploadBytes int64
	AllowedFormats []string
}

// Result is a validated draft: the sanitized texts, normalized options, and
// the probed properties of the reference audio. It carries everything the
// orchestrator needs to build an immutable GenerationRequest.
type Result struct {
	Text          string
	ReferenceText string
	Options       core.SynthesisOptions
	Format        core.AudioFormat
	SampleRate    int
	Duration      time.Duration
}

// Validator validates request drafts against configured limits. Validation is
// pure: repeated calls on the same draft yield equivalent results and perform
// no I/O.
type Validator struct {
	limits  Limits
	allowed map[core.AudioFormat]struct{}
}

// New creates a Validator for the given limits.
func New(limits Limits) *Validator {
	allowed := make(map[core.AudioFormat]struct{}, len(limits.AllowedFormats))
	for _, format := range limits.AllowedFormats {
		allowed[core.AudioFormat(strings.ToLower(format))] = struct{}{}
	}

	return &Validator{
		limits:  limits,
		allowed: allowed,
	}
}

// Validate checks the draft text, options, and reference audio. It returns a
// Result on success and one of the core validation errors otherwise.
func (v *Validator) Validate(draft core.RequestDraft) (Result, error) {
	text, err := v.validateText(draft.Text)
	if err != nil {
		return Result{}, err
	}

	referenceText, err := v.validateReferenceText(draft.ReferenceText)
	if err != nil {
		return Result{}, err
	}

	options, err := v.validateOptions(draft.Options)
	if err != nil {
		return Result{}, err
	}

	format, sampleRate, duration, err := v.validateAudio(draft.ReferenceAudio)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Text:          text,
		ReferenceText: referenceText,
		Options:       options,
		Format:        format,
		SampleRate:    sampleRate,
		Duration:      duration,
	}, nil
}

func (v *Validator) validateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", core.ErrEmptyText
	}

	if len([]rune(trimmed)) > v.limits.MaxTextLength {
		return "", fmt.Errorf(
			"%w: %d characters exceeds limit of %d",
			core.ErrTextTooLong,
			len([]rune(trimmed)),
			v.limits.MaxTextLength,
		)
	}

	return trimmed, nil
}

// validateReferenceText checks the transcript of the reference audio. The
// engine needs it to prime the voice prompt, so a blank transcript is rejected
// up front rather than at synthesis time.
func (v *Validator) validateReferenceText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", core.ErrEmptyReferenceText
	}

	if len([]rune(trimmed)) > v.limits.MaxTextLength {
		return "", fmt.Errorf(
			"%w: reference transcript is %d characters, limit is %d",
			core.ErrTextTooLong,
			len([]rune(trimmed)),
			v.limits.MaxTextLength,
		)
	}

	return trimmed, nil
}

func (v *Validator) validateOptions(options core.SynthesisOptions) (core.SynthesisOptions, error) {
	normalized := options.Normalize()

	if !core.LanguageRecognized(normalized.Language) {
		return core.SynthesisOptions{}, fmt.Errorf(
			"%w: %q",
			core.ErrUnsupportedLanguage,
			normalized.Language,
		)
	}

	if !core.LanguageRecognized(normalized.ReferenceLanguage) {
		return core.SynthesisOptions{}, fmt.Errorf(
			"%w: reference language %q",
			core.ErrUnsupportedLanguage,
			normalized.ReferenceLanguage,
		)
	}

	if normalized.SpeedFactor < core.MinSpeedFactor || normalized.SpeedFactor > core.MaxSpeedFactor {
		return core.SynthesisOptions{}, fmt.Errorf(
			"%w: %.2f not in [%.1f, %.1f]",
			core.ErrSpeedFactorRange,
			normalized.SpeedFactor,
			core.MinSpeedFactor,
			core.MaxSpeedFactor,
		)
	}

	return normalized, nil
}

func (v *Validator) validateAudio(data []byte) (core.AudioFormat, int, time.Duration, error) {
	if len(data) == 0 {
		return "", 0, 0, fmt.Errorf("%w: empty upload", core.ErrCorruptAudio)
	}

	if int64(len(data)) > v.limits.MaxUploadBytes {
		return "", 0, 0, fmt.Errorf(
			"%w: %d bytes exceeds limit of %d",
			core.ErrFileTooLarge,
			len(data),
			v.limits.MaxUploadBytes,
		)
	}

	// The container is decided from content, never from a filename.
	detected := mimetype.Detect(data)

	format, known := mimeFormats[strings.Split(detected.String(), ";")[0]]
	if !known {
		return "", 0, 0, fmt.Errorf(
			"%w: detected %s",
			core.ErrUnsupportedFormat,
			detected.String(),
		)
	}

	if _, ok := v.allowed[format]; !ok {
		return "", 0, 0, fmt.Errorf(
			"%w: %s is not in the configured allow-list",
			core.ErrUnsupportedFormat,
			format,
		)
	}

	sampleRate, duration, err := ProbeAudio(data, format)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %w", core.ErrCorruptAudio, err)
	}

	return format, sampleRate, duration, nil
}
