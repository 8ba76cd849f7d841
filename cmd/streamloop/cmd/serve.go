package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streamloop/streamloop/internal/broadcast"
	"github.com/streamloop/streamloop/internal/database"
	"github.com/streamloop/streamloop/internal/guard"
	"github.com/streamloop/streamloop/internal/observability"
	"github.com/streamloop/streamloop/internal/provider"
	"github.com/streamloop/streamloop/internal/repository"
	"github.com/streamloop/streamloop/internal/scheduler"
	"github.com/streamloop/streamloop/internal/supervisor"
	"github.com/streamloop/streamloop/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	logger := observability.NewLogger(cfg.Logging)
	logger.Info("starting streamloop", "version", version.Version)

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	streamRepo := repository.NewStreamRepository(db.DB)
	userRepo := repository.NewUserRepository(db.DB)
	mediaRepo := repository.NewMediaFileRepository(db.DB)
	credRepo := repository.NewCredentialRepository(db.DB)
	templateRepo := repository.NewTemplateRepository(db.DB)
	rotationRepo := repository.NewRotationIndexRepository(db.DB)

	client := provider.NewClient(provider.Config{
		BaseURL:       cfg.Provider.BaseURL,
		TokenURL:      cfg.Provider.TokenURL,
		ClientID:      cfg.Provider.ClientID,
		ClientSecret:  cfg.Provider.ClientSecret,
		Timeout:       cfg.Provider.Timeout,
		RetryAttempts: cfg.Provider.RetryAttempts,
		RetryDelay:    cfg.Provider.RetryDelay,
	}, logger)

	tokens := broadcast.NewTokenSource(credRepo, client, logger)
	rotator := broadcast.NewRotator(rotationRepo)
	unlist := broadcast.NewUnlistService(tokens, client, cfg.Broadcast, logger)

	sup := supervisor.New(cfg.Encoder, streamRepo, mediaRepo, logger)

	enforcer := scheduler.NewDurationEnforcer(sup, logger)
	sup.AddListener(enforcer)

	lifecycle := broadcast.NewLifecycleSync(streamRepo, templateRepo, tokens, client, rotator, unlist, logger)
	sup.AddListener(lifecycle)

	limitGuard := guard.New(userRepo, sup, cfg.Limits.DefaultLiveLimit, logger)
	trigger := scheduler.NewTrigger(streamRepo, limitGuard, sup,
		cfg.Scheduler.PollInterval, cfg.Scheduler.FireWindow, cfg.Location(), logger)

	if err := reconcileStaleSessions(ctx, streamRepo, logger); err != nil {
		return fmt.Errorf("reconciling stale sessions: %w", err)
	}

	unlist.Start(ctx)
	trigger.Start(ctx)

	logger.Info("streamloop running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	trigger.Stop()
	enforcer.Shutdown()
	sup.Shutdown(context.Background())
	lifecycle.Shutdown()
	unlist.Stop()

	logger.Info("streamloop stopped")
	return nil
}

// reconcileStaleSessions folds streams left in the live state by a previous
// daemon run back to their resting status. No encoder can survive a daemon
// restart, so any live row at boot is stale by definition.
func reconcileStaleSessions(ctx context.Context, streams repository.StreamRepository, logger *slog.Logger) error {
	stale, err := streams.GetLive(ctx)
	if err != nil {
		return err
	}
	for _, stream := range stale {
		next := stream.NextStatus()
		if err := streams.ApplyStopped(ctx, stream.ID, next, stream.ClearsScheduleOnStop(), "session interrupted by daemon restart"); err != nil {
			return fmt.Errorf("reconciling stream %s: %w", stream.ID, err)
		}
		logger.Warn("reconciled stale live stream",
			"stream_id", stream.ID,
			"stream_name", stream.Name,
			"next_status", next)
	}
	if len(stale) > 0 {
		logger.Info("startup reconciliation complete", "count", len(stale))
	}
	return nil
}
