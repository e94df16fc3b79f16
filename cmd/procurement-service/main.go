package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nurpe/procurement-workflow/internal/auth"
	"github.com/nurpe/procurement-workflow/internal/config"
	"github.com/nurpe/procurement-workflow/internal/db"
	"github.com/nurpe/procurement-workflow/internal/excel"
	httphandler "github.com/nurpe/procurement-workflow/internal/http"
	"github.com/nurpe/procurement-workflow/internal/http/middleware"
	"github.com/nurpe/procurement-workflow/internal/logger"
	"github.com/nurpe/procurement-workflow/internal/notify"
	"github.com/nurpe/procurement-workflow/internal/pdf"
	"github.com/nurpe/procurement-workflow/internal/repository"
	"github.com/nurpe/procurement-workflow/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment, cfg.Log.Level)

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ocRepo := repository.NewOCRepository(database)
	invoiceRepo := repository.NewInvoiceRepository(database)
	settingsRepo := repository.NewSettingsRepository(database)

	snapshots, err := service.NewSnapshots(settingsRepo, cfg.Workflow, time.Now)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init workflow settings")
	}

	hub := notify.NewHub(cfg.Events.BufferSize, cfg.HTTP.AllowedOrigins, log)
	hub.Start(ctx)

	ocService := service.NewOCService(ocRepo, invoiceRepo, snapshots, hub, pdf.NewGenerator(), log)
	invoiceService := service.NewInvoiceService(invoiceRepo, ocRepo, snapshots, hub, log)
	bulkService := service.NewBulkService(ocService, invoiceService, excel.NewGenerator(), log)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	handler := httphandler.NewHandler(ocService, invoiceService, bulkService, hub, log)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, cfg.HTTP.AllowedOrigins, log)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("starting procurement service")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	hub.Wait()
	log.Info().Msg("procurement service stopped")
}
