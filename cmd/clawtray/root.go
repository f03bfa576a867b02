package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tnunamak/clawtray/internal/api"
	"github.com/tnunamak/clawtray/internal/cache"
	"github.com/tnunamak/clawtray/internal/config"
	"github.com/tnunamak/clawtray/internal/credentials"
	"github.com/tnunamak/clawtray/internal/logging"
	"github.com/tnunamak/clawtray/internal/metrics"
	"github.com/tnunamak/clawtray/internal/oauth"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// env is everything a subcommand needs, built from the loaded config.
type env struct {
	cfg     config.Config
	log     zerolog.Logger
	store   *credentials.Store
	usage   *api.Client
	cache   *cache.Cache
	metrics *metrics.Set
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	status := &statusOptions{}

	root := &cobra.Command{
		Use:   "clawtray",
		Short: "Claude usage in your terminal and system tray",
		Long: `clawtray logs in to your Claude account with OAuth and shows how much of the
5-hour and 7-day usage windows you have consumed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts, status)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultConfigPath, "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (trace, debug, info, warn, error)")
	status.bind(root)

	root.AddCommand(
		newStatusCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newRunCmd(opts),
		newTrayCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "clawtray "+version)
			},
		},
	)
	return root
}

func loadEnv(opts *rootOptions, logOut io.Writer) (*env, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, logOut)
	if err != nil {
		return nil, err
	}

	store, err := credentials.NewStore(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	usageOpts := cfg.UsageOptions()
	usageOpts.Logger = logger
	c, err := cache.New("", cache.DefaultTTL)
	if err != nil {
		logger.Debug().Err(err).Msg("usage cache disabled")
		c = nil
	}

	return &env{
		cfg:     cfg,
		log:     logger,
		store:   store,
		usage:   api.NewClient(usageOpts),
		cache:   c,
		metrics: metrics.NewSet(),
	}, nil
}

func (e *env) loginFlow() *oauth.Flow {
	p := e.cfg.Provider()
	return oauth.NewFlow(oauth.FlowOptions{
		Provider:        p,
		Exchanger:       oauth.NewExchanger(p, nil, e.log),
		Store:           e.store,
		CallbackTimeout: e.cfg.CallbackTimeout,
		Logger:          e.log,
		ShowURL: func(u string) {
			fmt.Fprintf(os.Stderr, "Opening your browser to log in. If it does not open, visit:\n\n  %s\n\n", u)
		},
	})
}

// forget removes the stored credential and any cached usage.
func (e *env) forget() error {
	if err := e.store.Delete(); err != nil {
		return err
	}
	if e.cache != nil {
		return e.cache.Clear()
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
