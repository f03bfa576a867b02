package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tnunamak/clawtray/internal/autostart"
	"github.com/tnunamak/clawtray/internal/poller"
	"github.com/tnunamak/clawtray/internal/tray"
)

func newTrayCmd(root *rootOptions) *cobra.Command {
	var install, uninstall bool
	cmd := &cobra.Command{
		Use:   "tray",
		Short: "Run as a system tray icon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch {
			case install && uninstall:
				return fmt.Errorf("--install and --uninstall are mutually exclusive")
			case install:
				var extra []string
				if cmd.Flags().Changed("config") {
					extra = append(extra, "--config", root.configPath)
				}
				if err := autostart.Install(extra...); err != nil {
					return err
				}
				fmt.Fprintln(out, "clawtray will start at login")
				return nil
			case uninstall:
				if err := autostart.Uninstall(); err != nil {
					return err
				}
				fmt.Fprintln(out, "clawtray autostart removed")
				return nil
			}

			if !tray.Available {
				return tray.ErrUnavailable
			}
			e, err := loadEnv(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			stopMetrics, err := e.startMetrics()
			if err != nil {
				return err
			}
			defer stopMetrics()

			feed := tray.NewFeed()
			return tray.Run(ctx, tray.Options{
				Controller: poller.New(e.controllerOptions(feed.Notify)),
				Feed:       feed,
				Logout:     e.forget,
				Cache:      e.cache,
				Logger:     e.log,
				Version:    version,
			})
		},
	}
	cmd.Flags().BoolVar(&install, "install", false, "Start the tray icon at login")
	cmd.Flags().BoolVar(&uninstall, "uninstall", false, "Stop starting the tray icon at login")
	return cmd
}
