// Package cmd defines the sitescraper CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/config"
	"github.com/JakeFAU/sitescraper/internal/logging"
	pkgconfig "github.com/JakeFAU/sitescraper/pkg/config"
)

type runtimeKeyType struct{}

var runtimeKey runtimeKeyType

// runtime carries what every subcommand needs once flags are parsed.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

type rootOptions struct {
	cfgFile string
	envFile string
	profile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sitescraper",
		Short: "Profile-driven scraper for keyed lookups and catalog crawls.",
		Long: `sitescraper fetches pages politely through one session, repairs their
encoding, extracts the fields a site profile describes and appends them to a
resumable CSV. Interrupted runs continue where they stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.load(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default ./sitescraper.yaml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.StringVarP(&opts.profile, "profile", "p", "", "site profile YAML")

	cmd.AddCommand(
		newLookupCmd(),
		newCrawlCmd(),
		newStatusCmd(),
		newDedupeCmd(),
		newExportCmd(),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) (*runtime, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}
	v, err := pkgconfig.New(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if err := v.BindPFlag("profile", cmd.Flags().Lookup("profile")); err != nil {
		return nil, fmt.Errorf("bind profile flag: %w", err)
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", zap.String("path", used))
	}
	return &runtime{cfg: cfg, logger: logger}, nil
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not initialized")
	}
	return rt, nil
}

// Execute runs the CLI and returns the process exit code. SIGINT and
// SIGTERM cancel the run; processed keys stay persisted.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	return 0
}
