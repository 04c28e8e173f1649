package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/app"
	"github.com/aikewa/govledger/internal/config"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile  string
	rootDir  string
	debug    bool
	jsonOut  bool
	settings = viper.New()
	logger   = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operate the governance integrity ledgers",
	Long: `ledgerctl appends to, verifies and repairs the governance, consent,
federation and trust proof ledgers, and manages trust proofs and
federation partners.

It reads the same govledger.yaml and environment variables as the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if debug {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/govledger.yaml or ./govledger.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "ledger root directory (overrides ledger.root_dir)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose development logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print results as JSON")
	_ = settings.BindPFlag("ledger.root_dir", rootCmd.PersistentFlags().Lookup("root"))

	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves configuration. --root is bound to ledger.root_dir
// and wins over file and environment when set.
func loadConfig() (*config.Config, error) {
	return config.Load(settings, cfgFile)
}

// openApp loads configuration and wires every component. The caller
// closes the returned App.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parsePairs splits repeated key=value flags.
func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func parseFloatPairs(pairs []string) (map[string]float64, error) {
	raw, err := parsePairs(pairs)
	if err != nil || raw == nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledgerctl %s\n", version)
	},
}
