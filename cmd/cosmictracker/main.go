// CosmicTracker — live cryptocurrency market dashboard.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/seenimoa/cosmictracker/api"
	"github.com/seenimoa/cosmictracker/internal/config"
	"github.com/seenimoa/cosmictracker/internal/dashboard"
	"github.com/seenimoa/cosmictracker/internal/datasource"
	"github.com/seenimoa/cosmictracker/internal/infra"
	"github.com/seenimoa/cosmictracker/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config and logger
var (
	cfg *config.Config
	log *logrus.Logger
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cosmictracker",
	Short: "CosmicTracker — live cryptocurrency market dashboard",
	Long: `CosmicTracker shows the top cryptocurrencies by market capitalization,
fetched from CoinGecko, with case-insensitive search by name or symbol.
It runs as a one-shot listing, an interactive terminal dashboard, or an
HTTP/WebSocket API for browser front ends.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		log = infra.NewLogger(cfg.Logging)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	coinsCmd.Flags().String("search", "", "only show coins whose name or symbol contains this term")
	coinsCmd.Flags().Bool("json", false, "print the snapshot as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(coinsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

func newSource() datasource.CoinSource {
	return datasource.NewCoinGecko(datasource.CoinGeckoOptions{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   time.Duration(cfg.Source.TimeoutSec) * time.Second,
		Logger:    log,
	})
}

func newController() *dashboard.Controller {
	return dashboard.New(newSource(), dashboard.Options{
		TopN:   cfg.Dashboard.TopN,
		Logger: log,
	})
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CosmicTracker %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Coins Command ---

var coinsCmd = &cobra.Command{
	Use:   "coins",
	Short: "Fetch and print the current dashboard",
	Long:  "Fetch the top coins once and print the top entries, or every match when --search is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctrl := newController()
		if err := ctrl.Start(cmd.Context()); err != nil {
			return errors.New(dashboard.ErrorMessage)
		}
		snap := ctrl.SetSearchTerm(search)

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		renderSnapshot(out, snap, time.Now())
		return nil
	},
}

// --- Watch Command ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive terminal dashboard",
	Long: `Interactive dashboard on stdin/stdout.
Type a term and press enter to search; an empty line clears the search.
":r" refreshes the data and ":q" quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, newController(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := api.NewServer(api.Options{
			Config:     cfg,
			Controller: newController(),
			Logger:     log,
			Version:    version,
		})
		return srv.Run(cmd.Context())
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and check the data source",
	RunE: func(cmd *cobra.Command, args []string) error {
		src := newSource()
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "═══════════════════════════════════════")
		fmt.Fprintln(out, "  CosmicTracker — System Status")
		fmt.Fprintln(out, "═══════════════════════════════════════")
		fmt.Fprintf(out, "  Version:       %s (%s)\n", version, commit)
		fmt.Fprintf(out, "  Time (UTC):    %s\n", utils.FormatDateTimeUTC(time.Now()))
		fmt.Fprintln(out)

		// Config summary
		configFile := cfg.File()
		if configFile == "" {
			configFile = "(defaults)"
		}
		fmt.Fprintln(out, "  Configuration:")
		fmt.Fprintf(out, "    Config File:   %s\n", configFile)
		fmt.Fprintf(out, "    Source:        %s\n", cfg.Source.BaseURL)
		fmt.Fprintf(out, "    Timeout:       %ds\n", cfg.Source.TimeoutSec)
		fmt.Fprintf(out, "    Top N:         %d\n", cfg.Dashboard.TopN)
		fmt.Fprintf(out, "    API Server:    %s\n", cfg.API.Addr())
		fmt.Fprintf(out, "    Log Level:     %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
		fmt.Fprintln(out)

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		start := time.Now()
		if err := src.Ping(ctx); err != nil {
			fmt.Fprintf(out, "  %s:     ❌ unreachable (%v)\n", src.Name(), err)
		} else {
			fmt.Fprintf(out, "  %s:     ✅ reachable (%s)\n", src.Name(), time.Since(start).Round(time.Millisecond))
		}

		fmt.Fprintln(out, "═══════════════════════════════════════")
		return nil
	},
}
