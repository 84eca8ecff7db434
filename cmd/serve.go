package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gatotkota/internal/api"
	"gatotkota/internal/config"
	fileutil "gatotkota/internal/file"
	"gatotkota/internal/form"
	"gatotkota/internal/preview"
	"gatotkota/internal/storage"
	"gatotkota/internal/upload"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	previewURLPrefix  = "/previews"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the no-JS report UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg config.Config) error {
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return fmt.Errorf("ensure data dir %s: %w", cfg.DataDir, err)
	}

	previews, err := preview.NewStore(filepath.Join(cfg.DataDir, "previews"), previewURLPrefix, cfg.Preview.Size)
	if err != nil {
		return fmt.Errorf("preview store: %w", err)
	}
	uploader, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}

	forms := buildRegistry(cfg, uploader, previews)
	stopJanitor, err := forms.StartJanitor(cfg.Form.SweepSchedule, cfg.Form.IdleTimeout)
	if err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}

	router := setupRouter()
	apiHandler := api.NewAPI(forms, previews, cfg.Upload.MaxFileSize)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)

	srv := newHTTPServer(cfg.Port, router)
	go func() {
		log.Info().Int("port", cfg.Port).Str("backend", cfg.Storage.Backend).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()
	stopJanitor()
	gracefulShutdown(srv, forms)
	return nil
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func buildRegistry(cfg config.Config, uploader upload.Uploader, previewer upload.Previewer) *form.Registry {
	return form.NewRegistry(form.Options{
		DataDir: cfg.DataDir,
		MaxOpen: cfg.Form.MaxOpen,
		Queue:   queueOptions(cfg, uploader, previewer),
	})
}

func queueOptions(cfg config.Config, uploader upload.Uploader, previewer upload.Previewer) upload.Options {
	return upload.Options{
		MaxFiles:             cfg.Upload.MaxFiles,
		MaxFileSize:          cfg.Upload.MaxFileSize,
		AllowedTypes:         cfg.Upload.AllowedTypes,
		MaxConcurrentUploads: cfg.Upload.MaxConcurrentUploads,
		UploadTimeout:        cfg.Upload.Timeout,
		Uploader:             uploader,
		Previewer:            previewer,
	}
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, forms *form.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	if !forms.CloseAll(ctx) {
		log.Warn().Msg("open forms did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
