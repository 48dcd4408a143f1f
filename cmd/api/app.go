package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/z-wentao/jkid/pkg/assets"
	"github.com/z-wentao/jkid/pkg/cleanup"
	"github.com/z-wentao/jkid/pkg/config"
	"github.com/z-wentao/jkid/pkg/models"
	"github.com/z-wentao/jkid/pkg/ocr"
	"github.com/z-wentao/jkid/pkg/pipeline"
	"github.com/z-wentao/jkid/pkg/queue"
	"github.com/z-wentao/jkid/pkg/storage"
	"github.com/z-wentao/jkid/pkg/tts"
	"github.com/z-wentao/jkid/pkg/worker"
)

// HistorySource 归档查询
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]models.Task, error)
}

// App 应用上下文
type App struct {
	config     *config.Config
	logger     *slog.Logger
	supervisor *pipeline.Supervisor
	history    HistorySource
	ocr        pipeline.OCRProvider
	speech     pipeline.Synthesizer
	voice      models.VoiceConfig

	queue     queue.Queue
	pool      *worker.Pool
	goDisp    *pipeline.GoDispatcher
	runCancel context.CancelFunc
	archiver  *storage.Archiver
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	for _, dir := range []string{cfg.Server.UploadDir, cfg.Server.AudioDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建目录 %s 失败: %w", dir, err)
		}
	}

	app := &App{config: cfg, logger: logger, voice: cfg.TTS.Voice}

	// 1. 归档（可选）
	storeOpts := []storage.Option{
		storage.WithTTL(cfg.Task.TTL()),
		storage.WithLogger(logger),
	}
	if cfg.Archive.Enabled {
		repo, err := storage.OpenSQLArchive(ctx, cfg.Archive.Driver, cfg.Archive.DSN, logger)
		if err != nil {
			return nil, err
		}
		app.archiver = storage.NewArchiver(repo, storage.ArchiverOptions{
			QueueSize:     cfg.Archive.QueueSize,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval(),
		}, logger)
		app.history = app.archiver
		storeOpts = append(storeOpts, storage.WithTerminalSink(app.archiver))
		logger.Info("✓ 任务归档已启用", "driver", cfg.Archive.Driver)
	}

	store := storage.NewTaskStore(storeOpts...)
	store.StartSweeper(ctx, cfg.Task.SweepInterval())

	// 2. 外部能力，未配置的为 nil
	deps := pipeline.Deps{
		Audio: assets.NewFSWriter(cfg.Server.AudioDir, cfg.Server.PublicBaseURL, cfg.TTS.Voice.AudioEncoding),
	}

	if cfg.OCR.APIKey != "" {
		vision := ocr.NewVisionClient(cfg.OCR.APIKey,
			ocr.WithEndpoint(cfg.OCR.Endpoint),
			ocr.WithLanguageHints(cfg.OCR.LanguageHints...),
		)
		app.ocr = vision
		deps.OCR = vision
		logger.Info("✓ OCR 模块初始化成功")
	} else {
		logger.Warn("⚠️ 未设置 GOOGLE_CLOUD_API_KEY，OCR 模块未初始化")
	}

	cleaner, err := newCleaner(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cleaner != nil {
		deps.Cleaner = cleaner
		logger.Info("✓ 文本处理模块初始化成功", "provider", cfg.LLM.Provider, "format", cfg.LLM.Format)
	} else {
		logger.Warn("⚠️ 文本处理模块未初始化，将直接使用 OCR 原文")
	}

	if speech := app.newSpeech(ctx); speech != nil {
		app.speech = speech
		deps.Speech = speech
		logger.Info("✓ TTS 模块初始化成功", "provider", cfg.TTS.Provider)
	} else {
		logger.Warn("⚠️ TTS 模块未初始化")
	}

	ocrTimeout, cleanupTimeout, speechTimeout := cfg.Pipeline.Timeouts()
	runner := pipeline.NewRunner(store, deps, pipeline.Options{
		SentencesPerSegment: cfg.Pipeline.SentencesPerSegment,
		DetectionMode:       models.DetectionMode(cfg.Pipeline.DetectionMode),
		Voice:               cfg.TTS.Voice,
		OCRTimeout:          ocrTimeout,
		CleanupTimeout:      cleanupTimeout,
		SpeechTimeout:       speechTimeout,
		SpeechConcurrency:   cfg.Pipeline.SpeechConcurrency,
	}, logger)

	// 3. 调度
	var dispatcher pipeline.Dispatcher
	switch cfg.Dispatch.Mode {
	case "pool":
		q, err := newQueue(cfg, logger)
		if err != nil {
			return nil, err
		}
		app.queue = q
		app.pool = worker.NewPool(q, runner, cfg.Dispatch.PoolSize, logger)
		app.pool.Start()
		dispatcher = pipeline.NewQueueDispatcher(q)
		logger.Info("✓ Worker 池已启动", "size", cfg.Dispatch.PoolSize, "queue", cfg.Queue.Type)
	default:
		runCtx, cancel := context.WithCancel(context.Background())
		app.runCancel = cancel
		app.goDisp = pipeline.NewGoDispatcher(runCtx, runner)
		dispatcher = app.goDisp
	}

	app.supervisor = pipeline.NewSupervisor(store, dispatcher, logger)
	return app, nil
}

func newCleaner(ctx context.Context, cfg *config.Config) (pipeline.TextCleaner, error) {
	switch cfg.LLM.Provider {
	case "openai":
		opts := cleanup.OpenAIOptions{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}
		if cfg.LLM.Format == "json" {
			return cleanup.NewOpenAIJSONCleaner(opts, cfg.Pipeline.SentencesPerSegment), nil
		}
		return cleanup.NewOpenAICleaner(opts), nil
	case "gemini":
		g, err := cleanup.NewGeminiCleaner(ctx, cleanup.GeminiOptions{
			APIKey:      cfg.LLM.GeminiAPIKey,
			Model:       cfg.LLM.GeminiModel,
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, nil
}

func (app *App) newSpeech(ctx context.Context) pipeline.Synthesizer {
	cfg := app.config
	var speech pipeline.Synthesizer
	switch cfg.TTS.Provider {
	case "google":
		if cfg.TTS.APIKey == "" {
			return nil
		}
		speech = tts.NewGoogleClient(cfg.TTS.APIKey, cfg.TTS.Endpoint)
	case "openai":
		if cfg.LLM.APIKey == "" {
			return nil
		}
		speech = tts.NewOpenAISpeech(cfg.LLM.APIKey, cfg.TTS.Endpoint, cfg.TTS.OpenAIModel)
	default:
		return nil
	}

	if !cfg.TTS.Cache.Enabled {
		return speech
	}
	c := cfg.TTS.Cache
	rc, err := tts.NewRedisCache(ctx, c.Addr, c.Password, c.DB, c.TTL())
	if err != nil {
		app.logger.Warn("⚠️ Redis 不可用，语音缓存关闭", "error", err)
		return speech
	}
	app.closers = append(app.closers, rc.Close)
	app.logger.Info("✓ 语音缓存已启用", "addr", c.Addr)
	return tts.NewCachedSynthesizer(speech, rc, app.logger)
}

func newQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	if cfg.Queue.Type == "rabbitmq" {
		return queue.NewRabbitMQQueue(queue.RabbitMQOptions{
			URL:       cfg.Queue.RabbitMQ.URL,
			QueueName: cfg.Queue.RabbitMQ.QueueName,
			Prefetch:  cfg.Dispatch.PoolSize,
			MaxLength: cfg.Queue.RabbitMQ.MaxLength,
		}, logger)
	}
	return queue.NewMemoryQueue(cfg.Queue.BufferSize), nil
}

// shutdown 顺序：停止 Worker → 关闭队列 → 归档落盘 → 其它连接
func (app *App) shutdown(ctx context.Context) {
	if app.pool != nil {
		app.pool.Stop(ctx)
	}
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			app.logger.Warn("⚠️ 关闭队列失败", "error", err)
		}
	}
	if app.goDisp != nil {
		if !app.goDisp.Wait(ctx) {
			app.logger.Warn("⚠️ 等待后台任务超时，取消剩余任务")
		}
		app.runCancel()
	}
	if app.archiver != nil {
		if err := app.archiver.Close(); err != nil {
			app.logger.Warn("⚠️ 关闭归档失败", "error", err)
		}
	}
	for _, closeFn := range app.closers {
		if err := closeFn(); err != nil {
			app.logger.Warn("⚠️ 关闭连接失败", "error", err)
		}
	}
}
