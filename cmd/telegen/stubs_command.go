package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/langobservatory/telegen/internal/config"
	"github.com/langobservatory/telegen/internal/stub"
	"github.com/langobservatory/telegen/internal/synth"
)

const stubShutdownTimeout = 5 * time.Second

type stubServer struct {
	name   string
	server *http.Server
}

func runStubs(args []string, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("stubs", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "stubs does not accept positional arguments")
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		}
		return 1
	}

	gen, err := newGenerator(cfg, 0, "")
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	logger := newCommandLogger(errOut)
	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveStubs(ctx, cfg, gen, logger)
}

func newStubServers(cfg config.Config, gen *synth.Generator, logger *slog.Logger) []stubServer {
	metrics := stub.NewMetrics()
	recorder := stub.NewRecorder()
	return []stubServer{
		{
			name:   "openai",
			server: newStubHTTPServer(cfg.Stubs.OpenAIAddress(), stub.NewOpenAIHandler(gen, logger)),
		},
		{
			name:   "prometheus",
			server: newStubHTTPServer(cfg.Stubs.PrometheusAddress(), stub.NewPrometheusHandler(metrics, logger)),
		},
		{
			name:   "collector",
			server: newStubHTTPServer(cfg.Stubs.CollectorAddress(), stub.NewCollectorHandler(recorder, cfg.Stubs.PublicKey, cfg.Stubs.SecretKey, logger)),
		},
	}
}

func newStubHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}

func serveStubs(ctx context.Context, cfg config.Config, gen *synth.Generator, logger *slog.Logger) int {
	servers := newStubServers(cfg, gen, logger)

	errCh := make(chan error, len(servers))
	for _, entry := range servers {
		entry := entry
		logger.Info("stub listening", "stub", entry.name, "addr", entry.server.Addr)
		go func() {
			if err := entry.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s stub: %w", entry.name, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		code := shutdownStubServers(servers, logger)
		logger.Info("stubs stopped")
		return code
	case err := <-errCh:
		logger.Error("stub server failed", "error", err)
		shutdownStubServers(servers, logger)
		return 1
	}
}

func shutdownStubServers(servers []stubServer, logger *slog.Logger) int {
	code := 0
	for _, entry := range servers {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), stubShutdownTimeout)
		if err := entry.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown stub", "stub", entry.name, "error", err)
			code = 1
		}
		cancel()
	}
	return code
}
