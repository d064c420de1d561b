package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sjawhar/mock-interviewer/internal/config"
	"github.com/sjawhar/mock-interviewer/internal/dispatch"
	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/feedback"
	"github.com/sjawhar/mock-interviewer/internal/gdrive"
	"github.com/sjawhar/mock-interviewer/internal/llm"
	"github.com/sjawhar/mock-interviewer/internal/questions"
	"github.com/sjawhar/mock-interviewer/internal/retry"
	"github.com/sjawhar/mock-interviewer/internal/server"
	"github.com/sjawhar/mock-interviewer/internal/session"
	"github.com/sjawhar/mock-interviewer/internal/storage"
	"github.com/sjawhar/mock-interviewer/internal/telemetry"
	"github.com/sjawhar/mock-interviewer/internal/voice"
	"github.com/sjawhar/mock-interviewer/internal/voice/deepgram"
	"github.com/sjawhar/mock-interviewer/internal/voice/relay"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml"), "path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "mock-interviewer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range warnings {
		logger.Warn("config warning", "warning", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing {
		shutdownTracer, err := telemetry.InitTracer("mock-interviewer", nil, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(shutdownCtx)
		}()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}
	defer func() { _ = store.Close() }()

	archive := storage.NewTranscriptArchive(cfg.Storage.TranscriptDir)
	if cfg.GDrive.FolderID != "" {
		exporter, err := gdrive.NewExporter(ctx, cfg.GDrive.CredentialsFile, cfg.GDrive.FolderID)
		if err != nil {
			logger.Warn("gdrive export disabled", "error", err)
		} else {
			archive.OnSaved(func(ctx context.Context, path string) {
				go func() {
					uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
					defer cancel()
					if err := exporter.Upload(uploadCtx, path); err != nil {
						logger.Warn("gdrive upload failed", "path", path, "error", err)
					}
				}()
			})
		}
	}

	scoringClient, err := newLLMClient(&cfg, cfg.LLM.Model)
	if err != nil {
		logger.Warn("feedback scoring unavailable", "error", err)
	}
	questionsClient, err := newLLMClient(&cfg, cfg.QuestionsModel())
	if err != nil {
		logger.Warn("question generation unavailable", "error", err)
	}

	requesterOpts := []feedback.Option{feedback.WithLogger(logger)}
	if counter, err := feedback.NewTiktokenCounter(); err != nil {
		logger.Warn("transcript token limit disabled", "error", err)
	} else {
		requesterOpts = append(requesterOpts, feedback.WithTokenLimit(counter, cfg.Feedback.MaxTranscriptTokens))
	}
	var scorer feedback.Scorer = unavailableScorer{}
	if scoringClient != nil {
		scorer = feedback.NewLLMScorer(scoringClient)
	}
	requester := feedback.NewRequester(store, scorer, requesterOpts...)

	dispatcher := dispatch.New(store, requester,
		dispatch.WithPollPolicy(retry.Fixed(cfg.Dispatch.PollAttempts, cfg.ParsedPollInterval())),
		dispatch.WithLogger(logger),
	)

	hub := server.NewHub(logger)
	calls := session.NewManager(session.ManagerConfig{
		GenerateAssistantID:    cfg.Voice.GenerateWorkflowID,
		InterviewerAssistantID: cfg.Voice.InterviewerAssistantID,
		Retention:              cfg.ParsedRetention(),
		UnstartedTTL:           cfg.ParsedRetention(),
		IdleTimeout:            cfg.ParsedIdleTimeout(),
	}, newVoiceService(&cfg, logger), dispatcher, store, hub, archive, logger)
	defer calls.Shutdown()

	var generator server.QuestionGenerator
	if questionsClient != nil {
		generator = questions.NewGenerator(questionsClient, store, questions.WithLogger(logger))
	}

	handler := server.Handler(server.Deps{
		Calls:     calls,
		Store:     store,
		Generator: generator,
		Hub:       hub,
		Warnings:  func() []string { return warnings },
		Logger:    logger,
	})
	srv := server.New(cfg.Server.Addr, handler, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	return nil
}

func newLLMClient(cfg *config.Config, model string) (llm.Client, error) {
	provider, _, err := llm.ParseModel(model)
	if err != nil {
		return nil, err
	}
	var opts []llm.Option
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(cfg.LLM.MaxTokens))
	}
	return llm.NewClientFromModel(model, cfg.APIKeyFor(provider), opts...)
}

func newVoiceService(cfg *config.Config, logger *slog.Logger) voice.Service {
	switch cfg.Voice.Provider {
	case config.VoiceRelay:
		return relay.New(relay.Config{URL: cfg.Voice.RelayURL, APIKey: cfg.VoiceAPIKey}, logger)
	case config.VoiceDeepgram:
		return deepgram.New(deepgram.Config{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.Voice.Deepgram.Model,
			Language:   cfg.Voice.Deepgram.Language,
			SampleRate: cfg.Voice.Deepgram.SampleRate,
		}, logger)
	default:
		return voice.NewPushService()
	}
}

// unavailableScorer fails every request so conduct calls land on the home
// page when no scoring model is configured.
type unavailableScorer struct{}

func (unavailableScorer) Score(context.Context, feedback.ScoreRequest) (domain.Assessment, error) {
	return domain.Assessment{}, errors.New("no scoring model configured")
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
