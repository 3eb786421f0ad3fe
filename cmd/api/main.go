package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"video-pipeline/internal/api"
	"video-pipeline/internal/config"
	"video-pipeline/internal/enhance"
	"video-pipeline/internal/jobs"
	"video-pipeline/internal/logging"
	"video-pipeline/internal/media"
	"video-pipeline/internal/music"
	"video-pipeline/internal/proc"
	"video-pipeline/internal/provider"
	"video-pipeline/internal/ratelimit"
	"video-pipeline/internal/render"
	"video-pipeline/internal/storage"
	"video-pipeline/internal/store"
	"video-pipeline/internal/telemetry"
	"video-pipeline/internal/vault"
	"video-pipeline/internal/voice"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open job store")
	}
	defer st.Close()

	layout, err := storage.NewLayout(cfg.OutputDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("prepare output dir")
	}

	secret, err := vault.LoadOrCreateSecret(cfg.SecretKey, cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("load vault secret")
	}
	v, err := vault.Open(filepath.Join(cfg.DataDir, "credentials.json"), secret, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open credential vault")
	}
	creds := vault.NewResolver(v, cfg.ProviderKeys)

	pipeline := jobs.NewPipeline(pipelineOptions(ctx, cfg, creds, layout, logger))
	manager := jobs.NewManager(jobs.Options{
		Store:      st,
		Runner:     pipeline,
		Workers:    cfg.MaxConcurrentJobs,
		JobTimeout: cfg.JobTimeout,
		ListMax:    cfg.JobListMax,
		MaxVideo:   time.Duration(cfg.MaxVideoSeconds) * time.Second,
		Logger:     logger,
	})
	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start job manager")
	}

	serverCfg := api.ServerConfig{
		Addr:           cfg.Addr(),
		Jobs:           manager,
		Credentials:    creds,
		Layout:         layout,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		serverCfg.Limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		logger.Info().Str("redis", cfg.RedisAddr).Int("capacity", cfg.RateLimitCapacity).Msg("submission rate limit enabled")
	}
	server := api.NewServer(serverCfg)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Strs("in_flight", manager.InFlight()).Msg("jobs interrupted at shutdown")
	}
}

// pipelineOptions builds every stage adapter. Providers without a key are
// skipped at call time, so keys saved later through the settings API apply
// to the next job without a restart.
func pipelineOptions(ctx context.Context, cfg config.Config, creds *vault.Resolver, layout *storage.Layout, logger zerolog.Logger) jobs.PipelineOptions {
	client := provider.NewClient(provider.Options{MaxBody: cfg.MaxDownloadBytes})
	runner := proc.Exec{Logger: logger}
	ffmpeg, hasFFmpeg := proc.Lookup(cfg.FFmpegPath)
	if !hasFFmpeg {
		logger.Warn().Str("ffmpeg", cfg.FFmpegPath).Msg("ffmpeg not found; using storyboard renderer and WAV-only audio")
	}

	enhancer := enhance.NewChain(logger, telemetry.Fallback("enhance"), nil,
		enhance.NewGemini(enhance.GeminiOptions{Client: client, Credentials: creds}),
		enhance.NewGroq(client, creds),
		enhance.NewOpenAI(client, creds),
	)

	pexels := &media.Pexels{Client: client, Creds: creds}
	mediaOpts := media.Options{
		Searchers: []media.Searcher{
			pexels,
			&media.Pixabay{Client: client, Creds: creds},
			&media.Unsplash{Client: client, Creds: creds},
		},
		Client:     client,
		Width:      cfg.VideoWidth,
		Height:     cfg.VideoHeight,
		Logger:     logger,
		OnFallback: telemetry.Fallback("media"),
	}
	// stock clips need ffmpeg to decode; the storyboard renderer only takes stills
	if hasFFmpeg && cfg.StockVideo {
		mediaOpts.Videos = []media.VideoSearcher{pexels}
	}
	fetcher := media.NewFetcher(mediaOpts)

	synth := voice.NewSynthesizer(voice.Options{
		Engines: []voice.Engine{
			&voice.ElevenLabs{Client: client, Creds: creds},
			voice.NewEspeak(cfg.EspeakPath, runner),
		},
		FFmpegPath:     ffmpeg,
		Runner:         runner,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
		OnFallback:     telemetry.Fallback("voice"),
	})

	selector := music.NewSelector(music.Options{
		LibraryDir: cfg.MusicDir,
		FFmpegPath: ffmpeg,
		Runner:     runner,
		Logger:     logger,
	})

	renderer := render.New(render.Options{
		FFmpegPath: cfg.FFmpegPath,
		Runner:     runner,
		Width:      cfg.VideoWidth,
		Height:     cfg.VideoHeight,
		FPS:        cfg.VideoFPS,
		Logger:     logger,
	})
	logger.Info().Str("renderer", renderer.Name()).Msg("renderer selected")

	opts := jobs.PipelineOptions{
		Enhancer:      enhancer,
		Media:         fetcher,
		Voice:         synth,
		Music:         selector,
		Renderer:      renderer,
		Layout:        layout,
		StageTimeout:  cfg.StageTimeout,
		RenderTimeout: cfg.RenderTimeout,
		MaxVideo:      time.Duration(cfg.MaxVideoSeconds) * time.Second,
		Logger:        logger,
	}
	if cfg.ArtifactS3Bucket != "" {
		pub, err := storage.NewS3Publisher(ctx, storage.S3Options{
			Bucket:    cfg.ArtifactS3Bucket,
			Region:    cfg.ArtifactS3Region,
			Endpoint:  cfg.ArtifactS3Endpoint,
			PathStyle: cfg.ArtifactS3PathStyle,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("artifact mirror disabled")
		} else {
			opts.Publisher = pub
			logger.Info().Str("bucket", cfg.ArtifactS3Bucket).Msg("artifacts mirrored to S3")
		}
	}
	return opts
}
