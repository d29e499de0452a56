package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/agentuity/escaperoom/cache"
	"github.com/agentuity/escaperoom/config"
	"github.com/agentuity/escaperoom/env"
	"github.com/agentuity/escaperoom/game"
	"github.com/agentuity/escaperoom/llm"
	"github.com/agentuity/escaperoom/logger"
	"github.com/agentuity/escaperoom/server"
	"github.com/agentuity/escaperoom/session"
	"github.com/agentuity/escaperoom/sys"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the escape room server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
	root := &cobra.Command{
		Use:           "escaperoom",
		Short:         "AI escape room",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML config file ($ESCAPEROOM_CONFIG)")
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("listen", "", "listen address (default :5001)")
	flags.Bool("debug", false, "enable debug endpoints")
	flags.String("log-level", "", "log level: trace, debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")

	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})
	return root
}

// loadConfig layers defaults, the YAML file, the dotenv file, the process
// environment and finally explicit flags.
func loadConfig(cmd *cobra.Command, log logger.Logger) (config.Config, error) {
	envFile := env.FlagOrEnv(cmd, "env-file", env.Prefix+"ENV_FILE", ".env")
	if err := env.Load(envFile); err != nil {
		return config.Config{}, err
	}
	path := env.FlagOrEnv(cmd, "config", env.Prefix+"CONFIG", "")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	log.Debug("configuration from %q and %q", path, envFile)
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.Listen = env.FlagOrEnv(cmd, "listen", env.Prefix+"LISTEN", cfg.Listen)
	cfg.LogLevel = env.FlagOrEnv(cmd, "log-level", logger.LevelEnv, cfg.LogLevel)
	cfg.LogFormat = env.FlagOrEnv(cmd, "log-format", env.Prefix+"LOG_FORMAT", cfg.LogFormat)
	if f := cmd.Flags().Lookup("debug"); f != nil && f.Changed {
		cfg.Debug = f.Value.String() == "true"
	}
	return cfg, cfg.Validate()
}

func newSessionStore(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	opts := []session.Option{
		session.WithTTL(cfg.Session.TTL.Std()),
		session.WithPrefix(cfg.Session.Prefix),
	}
	if cfg.Session.Backend != config.BackendRedis {
		return session.NewMemoryStore(opts...), func() {}, nil
	}
	redisOpts, err := redis.ParseURL(cfg.Session.RedisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, errors.Wrap(err, "connect to redis")
	}
	return session.NewRedisStore(client, opts...), func() { client.Close() }, nil
}

func run(cmd *cobra.Command) error {
	log := env.NewLogger(cmd)
	cfg, err := loadConfig(cmd, log)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	log = logger.New(cfg.LogFormat, logger.ParseLevel(cfg.LogLevel, logger.LevelInfo))
	log.Debug("configuration:\n%s", cfg.Summary())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var clientOpts []llm.Option
	clientOpts = append(clientOpts, llm.WithLogger(log))
	if cfg.LLM.Pricing {
		pricing := llm.NewModelPricing(ctx, llm.WithOnError(func(err error) {
			log.Warn("failed to refresh model pricing: %s", err)
		}))
		defer pricing.Close()
		clientOpts = append(clientOpts, llm.WithPricing(pricing))
	}
	client, err := llm.NewClient(cfg.LLMConfig(), clientOpts...)
	if err != nil {
		return errors.Wrap(err, "create llm client")
	}

	store, closeBackend, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()
	defer store.Close()

	engine := game.NewEngine(client, game.WithLogger(log))
	puzzles := cache.New(ctx, engine, cache.WithLogger(log))
	defer puzzles.Close()

	srv := server.New(cfg.Listen, engine, puzzles, store,
		server.WithLogger(log),
		server.WithDebug(cfg.Debug),
	)
	errs := make(chan error, 1)
	srv.Start(ctx, errs)
	log.Info("escaperoom %s started with %s sessions and models %v", version, cfg.Session.Backend, cfg.LLM.Models)

	select {
	case <-sys.CreateShutdownChannel():
		log.Info("shutting down")
	case err := <-errs:
		return errors.Wrap(err, "listen")
	}
	if err := srv.Close(); err != nil {
		log.Warn("http shutdown: %s", err)
	}
	return nil
}
