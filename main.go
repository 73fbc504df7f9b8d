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

	"golang.org/x/sync/errgroup"

	"foundrychat/internal/agent"
	"foundrychat/internal/cli"
	"foundrychat/internal/config"
	"foundrychat/internal/logger"
	"foundrychat/internal/web"
)

const sweepInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serve := len(os.Args) > 1 && os.Args[1] == "serve"
	config.LoadDotEnv()

	// Initialize logger
	debug := os.Getenv("DEBUG") == "true"
	logger.Initialize(logger.Options{Debug: debug, Pretty: !serve})
	logger.Get().Debug().Bool("debug", debug).Msg("Logger initialized")

	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fail(serve, err)
	}

	// Apply defaults and validate
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		fail(serve, err)
	}

	svc, err := cfg.NewService()
	if err != nil {
		fail(serve, err)
	}

	if serve {
		if err := runServer(ctx, cfg, svc); err != nil {
			logger.Get().Fatal().Err(err).Msg("Server failed")
		}
		return
	}

	chat := cli.New(agent.New(cfg.SessionConfig(svc)), cli.Config{
		In:                 os.Stdin,
		Out:                os.Stdout,
		MaxSessionDuration: cfg.MaxSessionDuration,
	})
	if err := chat.Run(ctx); err != nil {
		os.Exit(1)
	}
}

// fail reports a startup error and exits. The chat prints it for the user
// the same way an initialization failure is shown.
func fail(serve bool, err error) {
	logger.Get().Error().Err(err).Msg("Invalid configuration")
	if !serve {
		fmt.Fprintf(os.Stdout, "❌ Error: %v\n%s\n", err, cli.ConfigHint)
	}
	os.Exit(1)
}

func runServer(ctx context.Context, cfg *config.Config, svc agent.Service) error {
	log := logger.Get()

	server := web.New(func() agent.Conversation {
		return agent.New(cfg.SessionConfig(svc))
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).Msg("Chat server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return server.Registry().SweepEvery(ctx, sweepInterval, cfg.SessionIdleTTL)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down chat server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
