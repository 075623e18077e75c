// automod: Discord moderation bot.
//
// Every message outside of bots is logged (general channel only) and sent to
// a moderation classifier; flagged messages are removed with a warning in the
// automod channel. Slash commands link Discord members to Minecraft accounts
// and manage the guild blacklist, punishments and applications.
//
// The process runs exactly one gateway session. When it ends the process
// exits non-zero and the supervisor restarts it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/dmorn/m4d-automod/sdk/bot"
	"github.com/dmorn/m4d-automod/sdk/discord"
	"github.com/dmorn/m4d-automod/sdk/health"
	"github.com/dmorn/m4d-automod/sdk/moderation"
	"github.com/dmorn/m4d-automod/sdk/status"
	"github.com/dmorn/m4d-automod/sdk/store"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "automod",
	Short: "Discord automod bot",
	Long: `automod logs general-channel messages, removes messages flagged by the
moderation classifier and serves the guild's slash commands.

Configuration comes from the environment (optionally a .env file) and an
optional YAML file; environment values win.`,
	SilenceUsage: true,
	RunE:         runBot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the gateway and serve until interrupted",
	RunE:  runBot,
}

var registerCmd = &cobra.Command{
	Use:   "register-commands",
	Short: "Publish the slash command definitions once and exit",
	Long: `Overwrites the application's global command set with the bot's
definitions. Requires DISCORD_APPLICATION_ID.`,
	RunE: registerCommands,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env if present)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(registerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*bot.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return bot.LoadConfig(configPath)
}

func openStore(ctx context.Context, cfg *bot.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite", zap.String("path", cfg.DBPath))
		return st, nil
	default:
		st, err := store.NewPostgres(ctx, store.PostgresConfig{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres", zap.String("host", cfg.DBHost), zap.String("database", cfg.DBName))
		return st, nil
	}
}

func newRegistry(profiles ProfileLookup) (*bot.Registry, error) {
	return bot.NewRegistry(AllCommands, newCommandSet(profiles).Commands()...)
}

// initStore applies the schema once at start-up. A datastore outage leaves the
// bot running with persistence marked unhealthy; every later query retries.
func initStore(ctx context.Context, st store.Store, tracker status.Register, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := st.Init(ctx); err != nil {
		logger.Warn("datastore unavailable, continuing without persistence", zap.Error(err))
		tracker.Set(status.PersistenceHealthy, false)
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return serve(cmd.Context(), cfg)
}

// serve runs one gateway session with everything around it until the
// session ends or ctx is cancelled.
func serve(ctx context.Context, cfg *bot.Config) error {
	logger, err := bot.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Zap()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("datastore: %w", err)
	}
	defer st.Close()
	tracker := status.NewTracker()
	initStore(ctx, st, tracker, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := bot.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := health.RegisterStatusGauges(reg, tracker); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	client := discord.New(cfg.DiscordToken, discord.Options{
		BaseURL:           cfg.APIBase,
		RequestsPerSecond: cfg.RESTRequestsSec,
		Logger:            log.Named("discord"),
	})

	registry, err := newRegistry(newMojangClient(nil))
	if err != nil {
		return err
	}
	dispatcher := bot.NewDispatcher(registry, st, logger, metrics)

	classifier, err := moderation.New(cfg.OpenAIKey, moderation.Options{
		Logger:   log.Named("moderation"),
		Recorder: st,
	})
	if err != nil {
		return err
	}

	pipeline, err := bot.NewPipeline(bot.PipelineOptions{
		StatusCommand:      cfg.StatusCommand,
		AutomodChannelID:   cfg.AutomodChannelID,
		GeneralChannelID:   cfg.GeneralChannelID,
		ClassifierEndpoint: cfg.ModerationURL,
		Location:           cfg.Location(),
		TimestampSuffix:    cfg.TimestampSuffix,
		MaxInflight:        int64(cfg.MaxInflight),
		Status:             tracker,
		Store:              st,
		Classifier:         classifier,
		Platform:           client,
		Logger:             logger,
		Metrics:            metrics,
	})
	if err != nil {
		return err
	}

	lifecycle, err := bot.NewLifecycle(bot.LifecycleOptions{
		Gateway: discord.NewGateway(cfg.DiscordToken, discord.GatewayOptions{
			URL:       cfg.GatewayURL,
			Responder: client,
			Logger:    log.Named("gateway"),
		}),
		Platform:         client,
		Registry:         registry,
		Dispatcher:       dispatcher,
		Pipeline:         pipeline,
		Status:           tracker,
		Logger:           logger,
		ApplicationID:    cfg.ApplicationID,
		AutomodChannelID: cfg.AutomodChannelID,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lifecycle.Run(gctx)
	})
	if cfg.HealthAddr != "-" {
		router := health.NewRouter(health.Options{
			Status:   tracker,
			Store:    st,
			Gatherer: reg,
			Logger:   log.Named("health"),
		})
		g.Go(func() error {
			return health.Serve(gctx, cfg.HealthAddr, router, log.Named("health"))
		})
	}
	g.Go(func() error {
		interval := time.Duration(cfg.StatusLogInterval) * time.Minute
		return runStatusReporter(gctx, tracker, lifecycle, interval, log)
	})

	log.Info("starting automod", zap.Int("commands", registry.Len()))
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("automod stopped")
	return nil
}

func registerCommands(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.ApplicationID == "" {
		return errors.New("missing required env var: DISCORD_APPLICATION_ID")
	}
	logger, err := bot.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry, err := newRegistry(newMojangClient(nil))
	if err != nil {
		return err
	}
	client := discord.New(cfg.DiscordToken, discord.Options{
		BaseURL:           cfg.APIBase,
		RequestsPerSecond: cfg.RESTRequestsSec,
		Logger:            logger.Zap().Named("discord"),
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	if err := bot.PublishCommands(ctx, client, registry, cfg.ApplicationID); err != nil {
		return err
	}
	logger.Zap().Info("commands registered", zap.Int("count", registry.Len()))
	return nil
}
