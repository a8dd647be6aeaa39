package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pgwireproxy/config"
	"pgwireproxy/executor"
	"pgwireproxy/rewrite"
	"pgwireproxy/server"
	"pgwireproxy/session"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Parse()
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 30*time.Second)
	exec, err := executor.NewSpannerExecutor(dialCtx, executor.SpannerConfig{
		Project:         cfg.Project,
		Instance:        cfg.Instance,
		Database:        cfg.Database,
		CredentialsFile: cfg.CredentialsFile,
	})
	cancelDial()
	if err != nil {
		logger.Error().Err(err).Msg("failed to dial downstream database")
		os.Exit(1)
	}
	defer exec.Close()

	rules, err := rewrite.LoadRules(cfg.RewritesPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load rewrite rules")
		os.Exit(1)
	}
	if cfg.PsqlCompat {
		rules = rewrite.WithPsqlCompat(rules)
	}
	rewriter, err := rewrite.New(rules)
	if err != nil {
		logger.Error().Err(err).Msg("failed to compile rewrite rules")
		os.Exit(1)
	}

	sessCfg := session.Config{
		AuthRequired:  cfg.AuthRequired,
		ServerVersion: "pgwireproxy",
		DefaultFormat: cfg.DataFormat(),
		ForceBinary:   cfg.ForceBinary,
	}

	ln := server.New(fmt.Sprintf(":%d", cfg.Port), exec, rewriter, sessCfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ln.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	if err := ln.ListenAndServe(); err != nil {
		logger.Error().Err(err).Msg("listener exited")
		os.Exit(1)
	}
}
