package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	gateway "github.com/lattice-ai/inference-gateway"
	"github.com/lattice-ai/inference-gateway/internal/credentials"
	"github.com/lattice-ai/inference-gateway/internal/logging"
	"github.com/lattice-ai/inference-gateway/internal/version"
)

func newServeCommand() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inference gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("GATEWAY_CONFIG")
			}
			if configPath == "" {
				return &gateway.ConfigError{Message: "no config file given: pass --config or set GATEWAY_CONFIG"}
			}
			if addr == "" {
				addr = ":8080"
				if p := os.Getenv("PORT"); p != "" {
					addr = ":" + p
				}
			}
			return runServe(configPath, addr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a gateway config file (.json, .yaml, .yml); defaults to $GATEWAY_CONFIG")
	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on; defaults to $PORT or :8080")
	return cmd
}

func runServe(configPath, addr string) error {
	log := logging.FromContext(context.Background())

	raw, err := gateway.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := gateway.ValidateConfig(raw); err != nil {
		return err
	}

	build, err := gateway.Build(raw, credentials.NewResolver())
	if err != nil {
		return err
	}

	disp := gateway.New(build)
	log.Info("config loaded", "models", len(build.Models), "functions", len(build.Functions))

	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(disp),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	log.Info("listening", "addr", addr, "version", version.Short())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		return err
	}
	log.Info("server stopped")
	return nil
}

// newRouter builds the HTTP router for the gateway server.
func newRouter(disp *gateway.Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)
	r.Use(middleware.Logger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Post("/inference", handleInference(disp))
	r.Post("/evaluate", handleEvaluate(disp))

	return r
}
