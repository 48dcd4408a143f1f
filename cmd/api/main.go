package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/z-wentao/jkid/pkg/config"
	"github.com/z-wentao/jkid/pkg/logger"
)

func main() {
	// 1. 加载配置
	path := os.Getenv("JKID_CONFIG")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		slog.Error("❌ 加载配置失败", "path", path, "error", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info("✓ 配置加载成功", "path", path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化组件
	app, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("❌ 初始化失败", "error", err)
		os.Exit(1)
	}

	// 3. 启动 HTTP 服务器
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: app.setupRouter(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("❌ 服务器启动失败", "error", err)
			stop()
		}
	}()

	log.Info("🚀 JKid 服务器启动",
		"addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		"dispatch", cfg.Dispatch.Mode,
		"llm", cfg.LLM.Provider,
		"tts", cfg.TTS.Provider,
		"archive", cfg.Archive.Enabled,
	)

	// 4. 优雅关闭
	<-ctx.Done()
	log.Info("🛑 正在关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("⚠️ HTTP 服务器关闭超时", "error", err)
	}
	app.shutdown(shutdownCtx)
	log.Info("✓ 服务器已关闭")
}
