package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tnunamak/clawtray/internal/cli"
)

type statusOptions struct {
	json    bool
	plain   bool
	noCache bool
}

func (o *statusOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.json, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&o.plain, "plain", false, "Plain text, no color codes")
	cmd.Flags().BoolVar(&o.noCache, "no-cache", false, "Always fetch fresh usage")
}

func (o *statusOptions) mode() cli.Mode {
	switch {
	case o.json:
		return cli.ModeJSON
	case o.plain:
		return cli.ModePlain
	default:
		return cli.ModeAuto
	}
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	opts := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current usage (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, root, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command, root *rootOptions, opts *statusOptions) error {
	if opts.json && opts.plain {
		return errors.New("--json and --plain are mutually exclusive")
	}
	e, err := loadEnv(root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	c := e.cache
	if opts.noCache {
		c = nil
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return cli.Status(ctx, cli.StatusOptions{
		Store:   e.store,
		Fetcher: e.usage,
		Cache:   c,
		Mode:    opts.mode(),
		Out:     cmd.OutOrStdout(),
		Logger:  e.log,
	})
}
