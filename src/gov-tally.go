package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stake-plus/govtally/src/actions"
	"github.com/stake-plus/govtally/src/actions/governance"
	"github.com/stake-plus/govtally/src/api/webserver"
	"github.com/stake-plus/govtally/src/config"
	"github.com/stake-plus/govtally/src/data"
	"github.com/stake-plus/govtally/src/logging"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configFile string
	network    string
	readOnly   bool
	soloMode   bool
	logLevel   string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "govtally",
		Short:         "Governance proposal threads and DAO vote tallies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "optional config file (yaml, toml or json)")
	pf.StringVar(&flags.network, "network", "", "network name, overrides NETWORK")
	pf.BoolVar(&flags.readOnly, "read-only", false, "refuse votes, overrides READ_ONLY")
	pf.BoolVar(&flags.soloMode, "solo-mode", false, "skip autonomous decisions, overrides SOLO_MODE")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newRunCmd(flags),
		newReconcileCmd(flags),
		newTokenCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the job runner, the Discord session and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			log := logging.Default()
			defer logging.Sync()
			log.Info("starting govtally", zap.String("version", version), zap.Stringer("config", cfg))

			rt, err := actions.Build(cfg, log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.Start(ctx); err != nil {
				_ = rt.Close()
				return err
			}
			<-ctx.Done()
			log.Info("shutting down")

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			rt.Stop(stopCtx)
			return nil
		},
	}
}

func newReconcileCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			defer logging.Sync()

			rt, err := actions.Build(cfg, logging.Default())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			res, err := rt.Monitor.Cycle(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: active=%d invalid=%d discovered=%d retired=%d completed=%d expired=%d swept=%d\n",
				res.ID, res.Active, len(res.Invalid), len(res.Discovered), len(res.Retired),
				len(res.Completed), len(res.Expired), res.Swept)
			if cfg.Voting.Enabled() {
				return rt.Runner.RunOnce(cmd.Context(), governance.JobAutovote)
			}
			return nil
		},
	}
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API bearer token for a voter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.API.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := webserver.IssueToken([]byte(cfg.API.JWTSecret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// loadConfig resolves configuration twice when MYSQL_DSN is set: once from the
// environment to find the database, then again with the settings table.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(nil, flags.configFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := initLogging(cmd, flags, cfg); err != nil {
		return config.Config{}, err
	}

	if cfg.MySQLDSN != "" {
		db, err := data.ConnectMySQL(cfg.MySQLDSN, logging.Default())
		if err != nil {
			return config.Config{}, fmt.Errorf("db: %w", err)
		}
		if err := data.MigrateSettings(db); err != nil {
			return config.Config{}, fmt.Errorf("db: %w", err)
		}
		if cfg, err = config.Load(db, flags.configFile); err != nil {
			return config.Config{}, err
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		if err := initLogging(cmd, flags, cfg); err != nil {
			return config.Config{}, err
		}
	}

	applyFlags(cmd, flags, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, flags *rootFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("network") {
		cfg.Chain.Network = strings.ToLower(strings.TrimSpace(flags.network))
	}
	if changed("read-only") {
		cfg.Voting.ReadOnly = flags.readOnly
	}
	if changed("solo-mode") {
		cfg.Voting.SoloMode = flags.soloMode
	}
}

func initLogging(cmd *cobra.Command, flags *rootFlags, cfg config.Config) error {
	level := cfg.LogLevel
	if cmd.Flags().Changed("log-level") {
		level = flags.logLevel
	}
	return logging.Initialize(logging.Config{Debug: cfg.Debug, Level: level})
}
