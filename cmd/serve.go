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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"repodocx/internal/api"
	"repodocx/internal/job"
	"repodocx/internal/metrics"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local web front for one conversion session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config)")
	return cmd
}

func runServe(cc *commandContext, port int) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Port
	}
	client, err := cc.newClient()
	if err != nil {
		return err
	}
	metrics.MustRegister()

	machine := job.NewMachine(job.Options{Gateway: client, Status: client, PollInterval: cfg.PollInterval})
	baseCtx, baseCancel := context.WithCancel(context.Background())
	machine.SetBaseContext(baseCtx)

	router := setupRouter()
	apiHandler := api.NewAPI(machine, client, cfg.DefaultExtensions)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)

	srv := newHTTPServer(port, router, readHeaderTimeout)
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("remote", client.BaseURL()).Msg("web front listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := waitForShutdownSignal(serveErr); err != nil {
		baseCancel()
		machine.Reset()
		return fmt.Errorf("http server failed: %w", err)
	}
	gracefulShutdown(srv, baseCancel, machine, shutdownTimeout)
	return nil
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// waitForShutdownSignal blocks until SIGINT/SIGTERM or a server failure.
func waitForShutdownSignal(serveErr <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
		return nil
	case err, ok := <-serveErr:
		if !ok {
			return nil
		}
		return err
	}
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, machine *job.Machine, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	machine.Reset()
	log.Info().Msg("server exited cleanly")
}
