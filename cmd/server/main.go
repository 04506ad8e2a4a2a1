package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"civreg/internal/platform/config"
	"civreg/internal/platform/logger"
	"civreg/internal/portal"
	id "civreg/pkg/domain"
	"civreg/pkg/requestcontext"
)

// main runs one portal session against the configured backend until
// interrupted, logging every Request Store change. Business logic lives in
// the internal packages.
func main() {
	configPath := flag.String("config", os.Getenv("CIVREG_CONFIG"), "path to a YAML config file")
	userFlag := flag.String("user", os.Getenv("CIVREG_USER_ID"), "signed-in user id")
	emailFlag := flag.String("email", os.Getenv("CIVREG_USER_EMAIL"), "signed-in user email")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("info", "text", os.Stderr).Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	userID, err := id.ParseUserID(*userFlag)
	if err != nil {
		log.Error("a valid -user id is required", "error", err)
		os.Exit(2)
	}
	sessionID := id.SessionID(uuid.New())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = requestcontext.WithUserID(ctx, userID)
	ctx = requestcontext.WithSessionID(ctx, sessionID)

	p, err := portal.New(ctx, cfg, sessionID,
		portal.WithLogger(log),
		portal.WithRegisterer(prometheus.DefaultRegisterer),
	)
	if err != nil {
		log.Error("failed to build portal", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	profile, err := p.Users.EnsureProfile(ctx, *emailFlag)
	if err != nil {
		log.Error("failed to load profile", "error", err)
		return
	}
	if err := p.Start(ctx); err != nil {
		log.Error("failed to start session", "error", err)
		return
	}
	log.Info("session started", "user_id", profile.ID.String(), "session_id", sessionID.String(), "driver", cfg.Backend.Driver)

	updates, unsubscribe := p.Requests.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case st := <-updates:
			attrs := []any{"requests", len(st.Requests), "loading", st.Loading}
			if st.Error != nil {
				attrs = append(attrs, "error", st.Error.Message)
			}
			if rid, ok := p.Drafts.Current(); ok {
				attrs = append(attrs, "draft_id", rid.String())
			}
			log.Info("request store updated", attrs...)
		}
	}
}
