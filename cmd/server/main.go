package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/api"
	job "github.com/maheshrc27/campaignflow/internal/jobs"
	"github.com/maheshrc27/campaignflow/pkg/logger"
	"github.com/maheshrc27/campaignflow/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 20 * time.Second

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "campaignflow",
	Short:         "campaignflow schedules, delivers and measures social media campaigns",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the worker lanes and the maintenance schedule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), true)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the worker lanes only",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), false)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one maintenance pass and print what it changed",
	RunE:  runSweep,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	RunE:  runMigrate,
}

var (
	tokenUser int64
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	RunE:  runToken,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("campaignflow %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: environment and .env)")
	tokenCmd.Flags().Int64Var(&tokenUser, "user", 0, "user id the token authenticates")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(serveCmd, workerCmd, sweepCmd, migrateCmd, tokenCmd, versionCmd)
}

func setup(ctx context.Context) (*application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return app, nil
}

func run(ctx context.Context, withHTTP bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := setup(ctx)
	if err != nil {
		return err
	}
	log := app.log
	defer log.Sync()
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("close resources", zap.Error(err))
		}
	}()

	if err := app.migrate(ctx); err != nil {
		return err
	}
	log.Info("starting campaignflow", zap.String("version", version), zap.Bool("http", withHTTP))

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	var wg sync.WaitGroup
	errc := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.broker.Run(workCtx); err != nil {
			errc <- fmt.Errorf("broker: %w", err)
		}
	}()

	if configPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := config.Watch(workCtx, configPath, log.Named("config"), app.applyConfig); err != nil {
				log.Warn("config hot reload disabled", zap.Error(err))
			}
		}()
	}

	var server *fiber.App
	if withHTTP {
		maintenance := job.NewMaintenanceJob(app.broker, log.Named("cron"))
		cron, err := maintenance.Start(app.cfg.Sweeper.Schedule)
		if err != nil {
			return fmt.Errorf("schedule sweeps: %w", err)
		}
		defer cron.Stop()

		server = api.NewApp(*app.cfg, api.Services{
			Campaigns: app.campaigns,
			Accounts:  app.accounts,
			Keys:      app.keys,
		}, log.Named("http"))
		go func() {
			if err := server.Listen(app.cfg.HTTPAddr); err != nil {
				errc <- fmt.Errorf("http: %w", err)
			}
		}()
		log.Info("http server listening", zap.String("addr", app.cfg.HTTPAddr))
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("notify systemd", zap.Error(err))
	} else if ok {
		log.Debug("readiness sent to systemd")
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errc:
		log.Error("component failed, shutting down", zap.Error(runErr))
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if server != nil {
		if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error("http shutdown", zap.Error(err))
		}
	}
	cancelWork()
	wg.Wait()
	log.Info("shutdown complete")
	return runErr
}

func runSweep(cmd *cobra.Command, _ []string) error {
	app, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer app.log.Sync()
	defer app.Close()

	report, sweepErr := app.sweeper.Sweep(cmd.Context())
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	return sweepErr
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	app, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer app.log.Sync()
	defer app.Close()

	if app.db == nil {
		app.log.Info("store has no schema to migrate", zap.String("store", app.cfg.Store))
		return nil
	}
	return app.migrate(cmd.Context())
}

func runToken(_ *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT secret is not configured")
	}
	if tokenUser <= 0 {
		return fmt.Errorf("user id must be positive")
	}
	token, err := utils.GenerateToken(cfg.JWTSecret, tokenUser, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
