// Command companion is the live tabletop session companion server: it
// turns a streamed voice session into a corrected, speaker-attributed
// transcript and drives ambient audio and game-state extraction from it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Jaaaxx/DnD-Companion/internal/autoaudio"
	"github.com/Jaaaxx/DnD-Companion/internal/config"
	"github.com/Jaaaxx/DnD-Companion/internal/diag"
	"github.com/Jaaaxx/DnD-Companion/internal/gateway"
	"github.com/Jaaaxx/DnD-Companion/internal/health"
	"github.com/Jaaaxx/DnD-Companion/internal/observe"
	"github.com/Jaaaxx/DnD-Companion/internal/session"
	"github.com/Jaaaxx/DnD-Companion/pkg/catalog"
	"github.com/Jaaaxx/DnD-Companion/pkg/catalog/freesound"
	"github.com/Jaaaxx/DnD-Companion/pkg/catalog/jamendo"
	"github.com/Jaaaxx/DnD-Companion/pkg/catalog/tabletopaudio"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm/anyllm"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/llm/openai"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/stt"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/stt/deepgram"
	"github.com/Jaaaxx/DnD-Companion/pkg/store/postgres"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "companion: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "companion: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("companion starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sdCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	st, err := postgres.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		slog.Error("database connect failed", "err", err)
		return 1
	}
	defer st.Close()

	sttProvider, err := buildSTT(cfg)
	if err != nil {
		slog.Error("stt provider init failed", "err", err)
		return 1
	}
	llmProvider, err := buildLLM(cfg)
	if err != nil {
		slog.Error("llm provider init failed", "err", err)
		return 1
	}
	music, effects, err := buildCatalogs(cfg)
	if err != nil {
		slog.Error("catalog init failed", "err", err)
		return 1
	}

	deps := session.Deps{
		Store:         st,
		STT:           sttProvider,
		LLM:           llmProvider,
		MusicSources:  music,
		EffectSources: effects,
		AutoAudio: autoaudio.Settings{
			Enabled:         cfg.AutoAudio.Enabled,
			EffectFrequency: cfg.AutoAudio.EffectFrequency,
			SceneMusic:      cfg.AutoAudio.SceneMusic,
		},
		PersistInterval: cfg.Session.PersistInterval,
		Logger:          logger,
	}

	table := session.NewTable()
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.New(deps, table))
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Probe{Name: "database", Run: st.Ping}).Register(mux)
	diag.New(diagReport(cfg, music, effects)).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server ready",
		"transcription", sttProvider != nil,
		"model_passes", llmProvider != nil,
		"music_sources", len(music),
		"effect_sources", len(effects),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sdCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sdCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("companion stopped")
	return 0
}

// buildSTT returns the configured transcription provider, or nil for
// degraded mode without transcription.
func buildSTT(cfg *config.Config) (stt.Provider, error) {
	entry := cfg.Providers.STT
	if entry.Name != "deepgram" || entry.APIKey == "" {
		return nil, nil
	}
	var opts []deepgram.Option
	if entry.Model != "" {
		opts = append(opts, deepgram.WithModel(entry.Model))
	}
	return deepgram.New(entry.APIKey, opts...)
}

// buildLLM returns the configured model provider, or nil to disable all
// model-backed passes.
func buildLLM(cfg *config.Config) (llm.Provider, error) {
	entry := cfg.Providers.LLM
	if entry.Name == "" {
		return nil, nil
	}
	if entry.Name == "openai" && entry.BaseURL == "" {
		return openai.New(entry.APIKey, entry.Model)
	}
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// buildCatalogs assembles the music priority chain (curated soundscapes,
// then generic music) and the effect sources from whatever is configured.
func buildCatalogs(cfg *config.Config) (music, effects []catalog.Source, err error) {
	if cfg.Catalogs.TabletopAudio {
		music = append(music, tabletopaudio.New())
	}
	if cfg.Catalogs.JamendoClientID != "" {
		src, err := jamendo.New(cfg.Catalogs.JamendoClientID)
		if err != nil {
			return nil, nil, err
		}
		music = append(music, src)
	}
	if cfg.Catalogs.FreesoundToken != "" {
		src, err := freesound.New(cfg.Catalogs.FreesoundToken)
		if err != nil {
			return nil, nil, err
		}
		effects = append(effects, src)
		// Freesound ambience doubles as the last-resort music source.
		music = append(music, src)
	}
	return music, effects, nil
}

func diagReport(cfg *config.Config, music, effects []catalog.Source) diag.Report {
	report := diag.Report{
		STTProvider:   cfg.Providers.STT.Name,
		LLMProvider:   cfg.Providers.LLM.Name,
		Transcription: cfg.Providers.STT.Name == "deepgram" && cfg.Providers.STT.APIKey != "",
		ModelPasses:   cfg.Providers.LLM.Name != "",
	}
	for _, src := range music {
		report.MusicSources = append(report.MusicSources, src.Name())
	}
	for _, src := range effects {
		report.EffectSources = append(report.EffectSources, src.Name())
	}
	return report
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
