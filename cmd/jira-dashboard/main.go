package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Sternrassler/jira-dashboard/pkg/cache"
	"github.com/Sternrassler/jira-dashboard/pkg/client"
	"github.com/Sternrassler/jira-dashboard/pkg/config"
	"github.com/Sternrassler/jira-dashboard/pkg/dashboard"
	"github.com/Sternrassler/jira-dashboard/pkg/logging"
	"github.com/Sternrassler/jira-dashboard/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	logLevel   string
	pretty     bool
}

// runtime holds everything a subcommand needs.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	redis  *redis.Client
	client *client.Client
	svc    *dashboard.Service
}

func (r *runtime) Close() {
	_ = r.client.Close()
	if r.redis != nil {
		_ = r.redis.Close()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "jira-dashboard",
		Short:        "Fetch Jira issue hierarchies and sprint reports for the dashboard",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("DASHBOARD_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human-readable log output")

	root.AddCommand(
		newServeCmd(opts),
		newTreeCmd(opts),
		newSprintsCmd(opts),
		newReportCmd(opts),
	)
	return root
}

// setup loads the configuration and wires Redis, the Jira client and the
// dashboard service.
func setup(ctx context.Context, opts *options) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.pretty {
		cfg.LogPretty = true
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	clientCfg := client.DefaultConfig(cfg.BaseURL())
	clientCfg.SessionCookie = cfg.SessionCookie
	clientCfg.APIToken = cfg.APIToken
	clientCfg.Timeout = cfg.Timeout
	clientCfg.CacheTTL = cfg.CacheTTL

	rt := &runtime{cfg: cfg, logger: logger}

	if cfg.RedisURL != "" {
		rdb, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")

		rt.redis = rdb
		clientCfg.Cache = cache.NewManager(rdb)
		clientCfg.RateLimiter = ratelimit.NewTracker(
			ratelimit.NewRedisStore(rdb, 2*ratelimit.DefaultResetWindow),
			cfg.Timeout,
			logger,
		)
	}

	c, err := client.New(clientCfg, logger)
	if err != nil {
		if rt.redis != nil {
			_ = rt.redis.Close()
		}
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	rt.client = c
	rt.svc = dashboard.New(c, *cfg, logger)
	return rt, nil
}

func newRedisClient(raw string) (*redis.Client, error) {
	if strings.Contains(raw, "://") {
		redisOpts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(redisOpts), nil
	}
	return redis.NewClient(&redis.Options{Addr: raw}), nil
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			return serve(cmd.Context(), rt)
		},
	}
}

func newTreeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tree KEY",
		Short: "Print the issue tree below KEY as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			tree, err := rt.svc.BuildTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if tree == nil {
				return fmt.Errorf("issue %s not found", args[0])
			}
			return printJSON(cmd, tree)
		},
	}
}

func newSprintsCmd(opts *options) *cobra.Command {
	var boardID int
	cmd := &cobra.Command{
		Use:   "sprints",
		Short: "List the sprints of the agile board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if boardID == 0 {
				boardID = rt.cfg.BoardID
			}
			sprints, err := rt.svc.ListSprints(cmd.Context(), boardID)
			if err != nil {
				return err
			}
			return printJSON(cmd, sprints)
		},
	}
	cmd.Flags().IntVar(&boardID, "board", 0, "board id (default from config)")
	return cmd
}

func newReportCmd(opts *options) *cobra.Command {
	var boardID int
	cmd := &cobra.Command{
		Use:   "report SPRINT_ID",
		Short: "Print the hydrated sprint report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sprintID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid sprint id %q", args[0])
			}

			rt, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if boardID == 0 {
				boardID = rt.cfg.BoardID
			}
			report, err := rt.svc.GetSprintReport(cmd.Context(), boardID, sprintID)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().IntVar(&boardID, "board", 0, "board id (default from config)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
