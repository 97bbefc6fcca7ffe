package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voice-guard-go/internal/api"
	"voice-guard-go/internal/config"
	"voice-guard-go/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST / and GET /healthz",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New()
	log.WithField("service", "voice-guard-go").Info("starting service")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, closeAll, err := build(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer closeAll()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     api.New(orch, log).Routes(),
		ReadTimeout: 15 * time.Second,
		// Leave room past the incident ceiling to write the response.
		WriteTimeout: cfg.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown incomplete")
		}
	}()

	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("server terminated")
		return err
	}
	return nil
}
