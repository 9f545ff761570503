package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"marketsim/internal/config"
	"marketsim/internal/logging"
	"marketsim/internal/metrics"
	"marketsim/internal/replay"
	"marketsim/internal/simulation"
	"marketsim/internal/store"
	"marketsim/internal/tradelog"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

var errStoreDisabled = errors.New("session store is disabled (set store.enabled = true)")

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Store     store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "marketsim",
		Short: "Deterministic multi-asset market simulator",
		Long: `marketsim runs seeded trading sessions over a simulated market of stocks,
ETFs, crypto, bonds and commodities, and verifies submitted sessions by
replaying their trade logs.

The same season id and trade log always reproduce the same prices,
news, crises and fills.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.ConfigDir = dir
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			cmd.SetContext(logging.WithLogger(cmd.Context(), app.Logger))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return nil
			}
			return app.Store.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/marketsim)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newSimulateCmd(app))
	rootCmd.AddCommand(newReplayCmd(app))
	rootCmd.AddCommand(newVerifyCmd(app))
	rootCmd.AddCommand(newValidateCmd(app))
	rootCmd.AddCommand(newSessionsCmd(app))

	return rootCmd
}

// openStore opens the SQLite store on first use.
func (app *App) openStore() (store.DataStore, error) {
	if app.Store != nil {
		return app.Store, nil
	}
	if !app.Config.Store.Enabled {
		return nil, errStoreDisabled
	}
	if err := os.MkdirAll(filepath.Dir(app.Config.Store.Path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	st, err := store.NewSQLiteStore(app.Config.Store.Path)
	if err != nil {
		return nil, err
	}
	app.Store = st
	app.Logger.Debug().Str("path", app.Config.Store.Path).Msg("SQLite store initialized")
	return st, nil
}

// verifier builds a replay verifier from the loaded configuration.
func (app *App) verifier(rec *metrics.Recorder) *replay.Verifier {
	return replay.NewVerifier(replay.Options{
		Simulation:          simulation.OptionsFromConfig(app.Config),
		MinSupportedVersion: app.Config.Replay.MinSupportedVersion,
		Workers:             app.Config.Replay.Workers,
		QueueSize:           app.Config.Replay.QueueSize,
		Logger:              app.Logger,
		Metrics:             rec,
	})
}

// serveHTTP serves handler on addr until the returned stop func is called.
func (app *App) serveHTTP(name, addr string, handler http.Handler) (stop func()) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error().Err(err).Str("addr", addr).Msgf("%s server failed", name)
		}
	}()
	app.Logger.Info().Str("addr", addr).Msgf("serving %s", name)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":        Version,
					"build_date":     BuildDate,
					"engine_version": tradelog.EngineVersion,
					"min_supported":  tradelog.MinSupportedVersion,
				})
				return
			}
			output.Printf("marketsim v%s\n", Version)
			output.Dim("Engine version: %s (replays logs from %s)", tradelog.EngineVersion, tradelog.MinSupportedVersion)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the simulator configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			// Load already validated; this re-runs it for an explicit verdict.
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Simulation")
	output.Printf("  Season:          %s\n", orDash(cfg.Simulation.SeasonID))
	output.Printf("  Initial Capital: %s\n", FormatAmount(float64(cfg.Simulation.InitialCapital)))
	output.Printf("  Total Ticks:     %d\n", cfg.Simulation.TotalTicks)
	output.Printf("  Ticks Per Day:   %d\n", cfg.Simulation.TicksPerDay)
	output.Printf("  Tick Interval:   %s\n", cfg.Simulation.TickInterval)
	output.Println()

	output.Bold("Execution")
	output.Printf("  Fee Rate:        %.4f%%\n", cfg.Execution.FeeRate)
	output.Printf("  Skill Level:     %d\n", cfg.Execution.SkillLevel)
	output.Printf("  Slippage:        %v\n", cfg.Execution.SlippageEnabled)
	output.Println()

	output.Bold("Replay")
	output.Printf("  Workers:         %d\n", cfg.Replay.Workers)
	output.Printf("  Min Version:     %s\n", cfg.Replay.MinSupportedVersion)
	output.Println()

	output.Bold("Outputs")
	output.Printf("  Store:           %v (%s)\n", cfg.Store.Enabled, cfg.Store.Path)
	output.Printf("  Metrics:         %v (%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Addr)
	output.Printf("  Kafka:           %v (%s)\n", cfg.Kafka.Enabled, cfg.Kafka.Topic)
	output.Printf("  Notifications:   %v (%s)\n", cfg.Notifications.Enabled, cfg.Notifications.Level)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
