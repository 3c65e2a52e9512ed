package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/audio"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/auth"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/bus"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/config"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/httpserver"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/infra/storage"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/live"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/llm"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/recorder"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/session"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/store"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/transcript"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/tts"
)

// backend is satisfied by both the Postgres and the in-memory store.
type backend interface {
	session.Provider
	session.Lifecycle
	recorder.Store
	httpserver.TranscriptStore
}

func main() {
	cfg := config.Load()
	logger := setupLogging(cfg.LogLevel)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := openBackend(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("store unavailable", "err", err)
		os.Exit(1)
	}
	defer closeDB()

	var sinks []recorder.Sink
	var lifecycle session.Lifecycle = db
	if cfg.NATSURL != "" {
		pub, err := bus.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			logger.Error("nats unavailable", "err", err)
			os.Exit(1)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		lifecycle = pub.Lifecycle(db)
	}
	if cfg.SupabaseURL != "" {
		up, err := storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
		if err != nil {
			logger.Error("supabase unavailable", "err", err)
			os.Exit(1)
		}
		sinks = append(sinks, storage.NewArchive(up))
	}

	rec := recorder.New(db, recorder.Config{FlushInterval: cfg.RecorderFlushInterval}, logger, sinks...)
	recCtx, stopRecorder := context.WithCancel(context.Background())
	rec.Start(recCtx)

	deps := interview.Dependencies{
		Transcriber: newTranscriber(cfg, logger),
		Synthesizer: newSynthesizer(cfg, logger),
		Oracle:      newOracle(rootCtx, cfg, logger),
		Logger:      logger,
	}
	engineCfg := interview.Config{
		AudioFlushBytes:      cfg.AudioFlushBytes,
		ShortAnswerWords:     cfg.ShortAnswerWords,
		OracleTimeout:        cfg.OracleTimeout,
		SynthesisTimeout:     cfg.SynthesisTimeout,
		TranscriptionTimeout: cfg.TranscriptionTimeout,
		DefaultLanguage:      cfg.DefaultLanguage,
		DefaultVoiceID:       cfg.ElevenLabsVoiceID,
	}
	if _, err := audio.New(cfg.AudioInputEncoding); err != nil {
		logger.Error("audio decoder unavailable", "err", err)
		os.Exit(1)
	}

	registry := session.NewRegistry(session.Dependencies{
		Provider:  db,
		Lifecycle: lifecycle,
		Recorder:  rec,
		NewEngine: func(iv interview.Interview) *interview.Engine {
			return interview.New(iv, deps, engineCfg)
		},
		NewDecoder: func() (audio.Decoder, error) { return audio.New(cfg.AudioInputEncoding) },
		Logger:     logger,
	}, session.Config{GracePeriod: cfg.SessionGracePeriod})

	verifier := auth.NewVerifier(cfg.ObserverJWTSecret)
	e := httpserver.New(logger)
	httpserver.Handlers{
		Live:        live.NewHandler(registry, verifier, live.Config{}, logger),
		Transcripts: db,
		Stats:       registry,
		Auth:        verifier,
	}.Register(e)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = server.Close()
	}
	if err := registry.Shutdown(ctx); err != nil {
		logger.Warn("sessions did not stop in time", "err", err)
	}
	stopRecorder()
	rec.Wait()
	logger.Info("shutdown complete")
}

func setupLogging(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, func(), error) {
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		logger.Info("store: postgres ready")
		return pg, pg.Close, nil
	}
	if cfg.FixturePath != "" {
		mem, err := store.LoadFixtureFile(cfg.FixturePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("store: memory store loaded from fixture", "path", cfg.FixturePath)
		return mem, func() {}, nil
	}
	logger.Warn("store: no DATABASE_URL or FIXTURE_PATH, every token will be rejected")
	return store.NewMemory(), func() {}, nil
}

func newTranscriber(cfg config.Config, logger *slog.Logger) interview.Transcriber {
	if cfg.STTProvider == "whisper" {
		return transcript.NewWhisper(cfg.WhisperKey, cfg.WhisperBaseURL, cfg.WhisperModel)
	}
	return transcript.NewAssemblyAI(cfg.AssemblyAIKey, logger)
}

func newSynthesizer(cfg config.Config, logger *slog.Logger) interview.Synthesizer {
	if cfg.TTSProvider == "elevenlabs" {
		return tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	}
	return tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel, logger)
}

// newOracle returns nil when no generator is configured; the engine then
// relies on the short-answer rule alone.
func newOracle(ctx context.Context, cfg config.Config, logger *slog.Logger) interview.Oracle {
	switch cfg.OracleProvider {
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil
		}
		gen, err := llm.NewGemini(ctx, llm.GeminiConfig{APIKey: cfg.GeminiKey, Model: cfg.GeminiModel})
		if err != nil {
			logger.Warn("oracle: gemini unavailable", "err", err)
			return nil
		}
		return llm.NewFollowUpOracle(gen)
	default:
		if cfg.CerebrasKey == "" {
			return nil
		}
		return llm.NewFollowUpOracle(llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID))
	}
}
