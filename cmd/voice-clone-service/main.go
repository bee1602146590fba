// main package for the voice-clone-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/afero"

	"github.com/book-expert/voice-clone-service/internal/artifact"
	"github.com/book-expert/voice-clone-service/internal/config"
	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/device"
	"github.com/book-expert/voice-clone-service/internal/engine"
	"github.com/book-expert/voice-clone-service/internal/objectstore"
	"github.com/book-expert/voice-clone-service/internal/orchestrator"
	"github.com/book-expert/voice-clone-service/internal/postprocess"
	"github.com/book-expert/voice-clone-service/internal/validate"
	"github.com/book-expert/voice-clone-service/internal/worker"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voice-clone-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func selectEngine(cfg *config.Config, log *logger.Logger) core.SynthesisEngine {
	if cfg.Service.Engine == "stub" {
		log.Warn("Using the stub synthesis engine; no real inference will run")

		return engine.NewStub()
	}

	versions := make(map[string]engine.ModelPaths, len(cfg.Engine.Versions))
	for name, paths := range cfg.Engine.Versions {
		versions[name] = engine.ModelPaths{
			GPTModelPath:    paths.GPTModelPath,
			SovitsModelPath: paths.SovitsModelPath,
		}
	}

	return engine.New(engine.Config{
		BinaryPath:     cfg.Engine.BinaryPath,
		WorkDir:        cfg.Engine.WorkDir,
		ModelsDir:      cfg.Engine.ModelsDir,
		DefaultVersion: cfg.Engine.DefaultVersion,
		Versions:       versions,
		Timeout:        time.Duration(cfg.Service.JobTimeoutSeconds) * time.Second,
	}, log)
}

func buildOrchestrator(
	cfg *config.Config,
	synthesisEngine core.SynthesisEngine,
	log *logger.Logger,
) (*orchestrator.Orchestrator, core.ArtifactStore, error) {
	store, err := artifact.New(afero.NewOsFs(), cfg.Paths.ArtifactsDir, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	validator := validate.New(validate.Limits{
		MaxTextLength:  cfg.Service.MaxTextLength,
		MaxUploadBytes: cfg.Service.MaxUploadBytes,
		AllowedFormats: cfg.Service.AllowedFormats,
	})

	resolver := device.New(cfg.Service.GPUMinFreeMB, log)

	var post core.AudioProcessor
	if cfg.Engine.FFmpegPath != "" {
		post = postprocess.New(
			cfg.Engine.FFmpegPath,
			time.Duration(cfg.Service.JobTimeoutSeconds)*time.Second,
			log,
		)
	}

	orch := orchestrator.New(
		orchestrator.Config{
			ConcurrencyLimit: cfg.Service.ConcurrencyLimit,
			QueueCapacity:    cfg.Service.QueueCapacity,
		},
		validator,
		resolver,
		synthesisEngine,
		store,
		post,
		log,
	)

	return orch, store, nil
}

func connectNATS(cfg *config.Config) (*nats.Conn, jetstream.JetStream, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	js, err := jetstream.New(natsConnection)
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return natsConnection, js, nil
}

func run() error {
	// A .env file may carry PROJECT_TOML and friends for local runs.
	_ = godotenv.Load()

	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := bootstrapLog

	if cfg.Paths.BaseLogsDir != "" {
		log, err = setupLogger(cfg.Paths.BaseLogsDir)
		if err != nil {
			bootstrapLog.Error("Failed to create final logger: %v", err)

			return fmt.Errorf("failed to create final logger: %w", err)
		}

		defer func() {
			closeErr := log.Close()
			if closeErr != nil {
				fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
			}
		}()
	}

	synthesisEngine := selectEngine(cfg, log)
	if !synthesisEngine.Ready() {
		log.Error("Synthesis engine failed to initialize; refusing to accept jobs")

		return core.ErrEngineNotReady
	}

	orch, store, err := buildOrchestrator(cfg, synthesisEngine, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsConnection, js, err := connectNATS(cfg)
	if err != nil {
		return err
	}
	defer natsConnection.Close()

	uploads, err := objectstore.New(ctx, js, cfg.NATS.UploadsBucket)
	if err != nil {
		return fmt.Errorf("failed to open uploads bucket: %w", err)
	}

	outputs, err := objectstore.New(ctx, js, cfg.NATS.OutputsBucket)
	if err != nil {
		return fmt.Errorf("failed to open outputs bucket: %w", err)
	}

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.RequestSubject,
		uploads,
		outputs,
		store,
		orch,
		time.Duration(cfg.Service.JobTimeoutSeconds)*time.Second,
		log,
	)

	go orch.Run(ctx)

	log.System(
		"Voice-clone service initialized. Listening for jobs on subject: %s",
		cfg.NATS.RequestSubject,
	)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker exited with error: %w", err)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
