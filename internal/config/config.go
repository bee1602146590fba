// Package config provides the configuration structure for the voice-clone service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied by ApplyDefaults. Absence of any setting must not prevent
// startup.
const (
	DefaultEngine            = "sovits"
	DefaultMaxTextLength     = 1000
	DefaultMaxUploadBytes    = 25 << 20
	DefaultGPUMinFreeMB      = 4096
	DefaultJobTimeoutSeconds = 300
	DefaultConcurrencyLimit  = 2
	DefaultQueueCapacity     = 16
	DefaultArtifactsDir      = "artifacts"
	DefaultModelsDir         = "pretrained_models"
	DefaultModelVersion      = "V2ProPlus"
	DefaultRequestSubject    = "voiceclone.requested"
	DefaultCompletedSubject  = "voiceclone.completed"
	DefaultUploadsBucket     = "VOICECLONE_UPLOADS"
	DefaultOutputsBucket     = "VOICECLONE_OUTPUTS"
)

// DefaultModelVersions is the stock checkpoint layout of a GPT-SoVITS
// pretrained-models directory.
func DefaultModelVersions() map[string]ModelVersionConfig {
	return map[string]ModelVersionConfig{
		"V4": {
			GPTModelPath:    "s1v3.ckpt",
			SovitsModelPath: "gsv-v4-pretrained/s2Gv4.pth",
		},
		"V2Pro": {
			GPTModelPath:    "s1v3.ckpt",
			SovitsModelPath: "v2Pro/s2Gv2Pro.pth",
		},
		"V2ProPlus": {
			GPTModelPath:    "s1v3.ckpt",
			SovitsModelPath: "v2Pro/s2Gv2ProPlus.pth",
		},
	}
}

// ServiceConfig holds the limits and policies of the orchestration core.
type ServiceConfig struct {
	Engine            string   `toml:"engine"`
	MaxTextLength     int      `toml:"max_text_length"`
	MaxUploadBytes    int64    `toml:"max_upload_bytes"`
	AllowedFormats    []string `toml:"allowed_formats"`
	GPUMinFreeMB      int64    `toml:"gpu_min_free_mb"`
	JobTimeoutSeconds int      `toml:"job_timeout_seconds"`
	ConcurrencyLimit  int      `toml:"concurrency_limit"`
	QueueCapacity     int      `toml:"queue_capacity"`
}

// ModelVersionConfig is one installable checkpoint pair. Relative paths are
// resolved against the models directory.
type ModelVersionConfig struct {
	GPTModelPath    string `toml:"gpt_model_path"`
	SovitsModelPath string `toml:"sovits_model_path"`
}

// EngineConfig holds the paths used by the SoVITS inference CLI. Versions
// maps model version names to checkpoint pairs; an empty table gets the
// stock pretrained-model layout. FFmpegPath enables the audio mastering step
// when set.
type EngineConfig struct {
	BinaryPath     string                        `toml:"binary_path"`
	WorkDir        string                        `toml:"work_dir"`
	ModelsDir      string                        `toml:"models_dir"`
	DefaultVersion string                        `toml:"default_version"`
	FFmpegPath     string                        `toml:"ffmpeg_path"`
	Versions       map[string]ModelVersionConfig `toml:"versions"`
}

// NATSConfig holds the configuration for the NATS boundary.
type NATSConfig struct {
	URL              string `toml:"url"`
	RequestSubject   string `toml:"request_subject"`
	CompletedSubject string `toml:"completed_subject"`
	UploadsBucket    string `toml:"uploads_bucket"`
	OutputsBucket    string `toml:"outputs_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	ArtifactsDir string `toml:"artifacts_dir"`
	BaseLogsDir  string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Engine  EngineConfig  `toml:"engine"`
	NATS    NATSConfig    `toml:"nats"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the voice-clone service and applies defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills in every unset knob with its default value.
func (c *Config) ApplyDefaults() {
	if c.Service.Engine == "" {
		c.Service.Engine = DefaultEngine
	}

	if c.Service.MaxTextLength <= 0 {
		c.Service.MaxTextLength = DefaultMaxTextLength
	}

	if c.Service.MaxUploadBytes <= 0 {
		c.Service.MaxUploadBytes = DefaultMaxUploadBytes
	}

	if len(c.Service.AllowedFormats) == 0 {
		c.Service.AllowedFormats = []string{"wav", "mp3", "flac"}
	}

	if c.Service.GPUMinFreeMB <= 0 {
		c.Service.GPUMinFreeMB = DefaultGPUMinFreeMB
	}

	if c.Service.JobTimeoutSeconds <= 0 {
		c.Service.JobTimeoutSeconds = DefaultJobTimeoutSeconds
	}

	if c.Service.ConcurrencyLimit <= 0 {
		c.Service.ConcurrencyLimit = DefaultConcurrencyLimit
	}

	if c.Service.QueueCapacity <= 0 {
		c.Service.QueueCapacity = DefaultQueueCapacity
	}

	if c.Engine.ModelsDir == "" {
		c.Engine.ModelsDir = DefaultModelsDir
	}

	if c.Engine.DefaultVersion == "" {
		c.Engine.DefaultVersion = DefaultModelVersion
	}

	if len(c.Engine.Versions) == 0 {
		c.Engine.Versions = DefaultModelVersions()
	}

	if c.Paths.ArtifactsDir == "" {
		c.Paths.ArtifactsDir = DefaultArtifactsDir
	}

	if c.NATS.RequestSubject == "" {
		c.NATS.RequestSubject = DefaultRequestSubject
	}

	if c.NATS.CompletedSubject == "" {
		c.NATS.CompletedSubject = DefaultCompletedSubject
	}

	if c.NATS.UploadsBucket == "" {
		c.NATS.UploadsBucket = DefaultUploadsBucket
	}

	if c.NATS.OutputsBucket == "" {
		c.NATS.OutputsBucket = DefaultOutputsBucket
	}
}
