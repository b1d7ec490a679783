package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/valiloop/internal/server"
	"github.com/ShayCichocki/valiloop/internal/version"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept validation attempts over HTTP",
	Long: `Start the HTTP server the generation step calls after each regeneration.

Endpoints:
  GET  /vali?fileName=<zip>  run one attempt and return its response
  GET  /status               live status of the current attempt
  GET  /config               current parallel count, round limit and provider
  POST /config               change them for the next attempt
  POST /reset                start a new session of attempts
  GET  /metrics              Prometheus metrics
  GET  /healthz              liveness`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	handler := server.New(a.ctrl, a.rc,
		server.WithMetricsHandler(a.metrics.Handler()),
		server.WithSettleDelay(cfg.Server.SettleDelay),
	).Handler()
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	fmt.Printf("%s valiloop %s listening on %s\n", color.GreenString("✓"), version.Get(), cfg.Server.Addr)
	fmt.Printf("  provider: %s  parallel: %d  round limit: %d\n", cfg.Provider().Config().Name, cfg.Validation.ParallelCount, cfg.Validation.RoundLimit)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("[server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] shutdown: %v", err)
	}

	if removed, err := a.deployer.Teardown(shutdownCtx); err != nil {
		log.Printf("[deploy] teardown on exit: %v", err)
	} else if len(removed) > 0 {
		log.Printf("[deploy] removed %d instances on exit", len(removed))
	}
	return nil
}
