package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pikecode/licpanel/internal/api"
	"github.com/pikecode/licpanel/internal/auth"
	"github.com/pikecode/licpanel/internal/config"
	"github.com/pikecode/licpanel/internal/engine"
	"github.com/pikecode/licpanel/internal/giteestore"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional; env vars also apply)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("licpanel-gateway %s (%s)\n", version, commit)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	server := newServer(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("licpanel-gateway listening", "addr", cfg.ListenAddr, "repo", cfg.Store.Repo)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
}

func newServer(cfg config.Config, logger *slog.Logger) *http.Server {
	store := &giteestore.Client{
		Token:   cfg.Store.Token,
		Repo:    cfg.Store.Repo,
		BaseURL: cfg.Store.APIBase,
		Branch:  cfg.Store.Branch,
		HTTP:    &http.Client{Timeout: cfg.Store.Timeout},
		Logger:  logger.With("component", "giteestore"),
	}

	eng := engine.New(store,
		engine.WithWindow(cfg.PendingWindow),
		engine.WithLogger(logger.With("component", "engine")),
	)

	authn := &auth.PanelAuthenticator{
		OperatorToken: cfg.Auth.OperatorToken,
		JWTSecret:     []byte(cfg.Auth.JWTSecret),
	}
	if !authn.Enabled() {
		logger.Warn("operator auth disabled; configure auth.operator_token or auth.jwt_secret for remote deployments")
	}

	handler := api.NewHandler(authn, eng, logger.With("component", "api"))
	handler.DefaultExpireHours = cfg.DefaultExpireHours
	handler.Store = api.StoreSummary{
		Repo:        cfg.Store.Repo,
		APIBase:     cfg.Store.APIBase,
		TokenLength: len(cfg.Store.Token),
	}

	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
